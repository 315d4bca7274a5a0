package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/auroraops/aurora/pkg/models"
)

// stsClient is the subset of the STS API the broker needs.
type stsClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// iamClient is the subset of the IAM API used for alias lookup.
type iamClient interface {
	ListAccountAliases(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error)
}

const (
	defaultAWSRegion  = "us-east-1"
	roleSessionPrefix = "aurora"
	sessionSeconds    = 3600
)

// readOnlySessionPolicy is layered onto the base role in read-only mode when
// no dedicated read-only role is configured. Note the caveat: if the base
// role lacks read permissions the intersection can still deny reads at
// runtime; a dedicated read-only role is preferred and this is surfaced to
// the user at connection time.
const readOnlySessionPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Action": ["*:Describe*", "*:Get*", "*:List*", "s3:GetObject", "cloudwatch:GetMetricData"],
    "Resource": "*"
  }]
}`

func (b *Broker) issueAWS(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	roleARN := conn["role_arn"]
	externalID := conn["external_id"]
	if roleARN == "" || externalID == "" {
		return nil, fmt.Errorf("%w: aws connection missing role_arn or external_id", ErrIncompleteCredentials)
	}
	region := conn["region"]
	if region == "" {
		region = defaultAWSRegion
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		ExternalId:      aws.String(externalID),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%s", roleSessionPrefix, req.Principal)),
		DurationSeconds: aws.Int32(sessionSeconds),
	}

	authMethod := "sts_assume_role"
	if req.Mode.ReadOnly() {
		if ro := conn["read_only_role_arn"]; ro != "" {
			input.RoleArn = aws.String(ro)
			authMethod = "sts_assume_role_readonly"
		} else {
			input.Policy = aws.String(readOnlySessionPolicy)
			authMethod = "sts_assume_role_session_policy"
		}
	}

	client, err := b.stsFor(ctx, region)
	if err != nil {
		return nil, err
	}

	out, err := client.AssumeRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSTSDenied, err)
	}
	creds := out.Credentials
	if creds == nil || creds.AccessKeyId == nil || creds.SecretAccessKey == nil || creds.SessionToken == nil {
		return nil, fmt.Errorf("%w: sts returned empty credentials", ErrSTSDenied)
	}

	env := map[string]string{
		"AWS_ACCESS_KEY_ID":     aws.ToString(creds.AccessKeyId),
		"AWS_SECRET_ACCESS_KEY": aws.ToString(creds.SecretAccessKey),
		"AWS_SESSION_TOKEN":     aws.ToString(creds.SessionToken),
		// Legacy alias still read by some SDKs and tools.
		"AWS_SECURITY_TOKEN": aws.ToString(creds.SessionToken),
		"AWS_DEFAULT_REGION": region,
	}

	bundle := &Bundle{
		Provider:   models.ProviderAWS,
		Env:        env,
		AuthMethod: authMethod,
	}
	if creds.Expiration != nil {
		bundle.ExpiresAt = *creds.Expiration
	} else {
		bundle.ExpiresAt = b.now().Add(sessionSeconds * time.Second)
	}

	// Validate the session and pick up the account id for UI display.
	accountID, err := b.validateAWS(ctx, region, env)
	if err != nil {
		return nil, fmt.Errorf("%w: validation failed: %v", ErrSTSDenied, err)
	}
	bundle.ResourceID = accountID
	env["AWS_ACCOUNT_ID"] = accountID

	if alias := b.awsAccountAlias(ctx, region, env); alias != "" {
		bundle.ResourceName = alias
		env["AWS_ACCOUNT_ALIAS"] = alias
	} else {
		bundle.ResourceName = accountID
	}

	return bundle, nil
}

// stsFor returns the injected test client or a real one bound to the
// orchestrator's base identity.
func (b *Broker) stsFor(ctx context.Context, region string) (stsClient, error) {
	if b.sts != nil {
		return b.sts, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sts.NewFromConfig(cfg), nil
}

func (b *Broker) validateAWS(ctx context.Context, region string, env map[string]string) (string, error) {
	client := b.sts
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
				env["AWS_ACCESS_KEY_ID"], env["AWS_SECRET_ACCESS_KEY"], env["AWS_SESSION_TOKEN"])),
		)
		if err != nil {
			return "", err
		}
		client = sts.NewFromConfig(cfg)
	}

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Account), nil
}

// awsAccountAlias is best-effort; alias lookup failures only cost the
// friendly name.
func (b *Broker) awsAccountAlias(ctx context.Context, region string, env map[string]string) string {
	client := b.iam
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
				env["AWS_ACCESS_KEY_ID"], env["AWS_SECRET_ACCESS_KEY"], env["AWS_SESSION_TOKEN"])),
		)
		if err != nil {
			return ""
		}
		client = iam.NewFromConfig(cfg)
	}

	out, err := client.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	if err != nil || len(out.AccountAliases) == 0 {
		return ""
	}
	return out.AccountAliases[0]
}

// AccountBundle pairs an account id with its isolated env.
type AccountBundle struct {
	AccountID string
	Bundle    *Bundle
}

// IssueAllAWS mints bundles for every stored AWS connection in parallel.
// Accounts that fail are logged and skipped; the caller receives only the
// ones that succeeded.
func (b *Broker) IssueAllAWS(ctx context.Context, principal string, mode models.Mode) ([]AccountBundle, error) {
	conns, err := b.store.List(ctx, principal, models.ProviderAWS)
	if err != nil || len(conns) == 0 {
		return nil, fmt.Errorf("%w: aws", ErrMissingConnection)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		bundles []AccountBundle
	)
	for _, conn := range conns {
		account := conn["account_id"]
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			bundle, err := b.Issue(ctx, Request{
				Principal: principal,
				Provider:  models.ProviderAWS,
				Mode:      mode,
				Account:   account,
			})
			if err != nil {
				b.logger.Warn(ctx, "skipping aws account in fan-out", "account", account, "error", err)
				return
			}
			mu.Lock()
			id := bundle.ResourceID
			if id == "" {
				id = account
			}
			bundles = append(bundles, AccountBundle{AccountID: id, Bundle: bundle})
			mu.Unlock()
		}(account)
	}
	wg.Wait()

	if len(bundles) == 0 {
		return nil, fmt.Errorf("%w: all aws accounts failed", ErrSTSDenied)
	}
	return bundles, nil
}

// CountAWSConnections reports how many AWS connections the user has stored.
// The dispatcher fans out only when there is more than one.
func (b *Broker) CountAWSConnections(ctx context.Context, principal string) int {
	conns, err := b.store.List(ctx, principal, models.ProviderAWS)
	if err != nil {
		return 0
	}
	return len(conns)
}
