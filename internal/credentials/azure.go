package credentials

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/auroraops/aurora/pkg/models"
)

// azureValidator checks a service-principal triple without touching global
// az CLI state.
type azureValidator interface {
	Validate(ctx context.Context, tenantID, clientID, clientSecret string) error
}

type spValidator struct{}

func (spValidator) Validate(ctx context.Context, tenantID, clientID, clientSecret string) error {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return fmt.Errorf("build service principal credential: %w", err)
	}
	_, err = cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	if err != nil {
		return fmt.Errorf("service principal token: %w", err)
	}
	return nil
}

func (b *Broker) issueAzure(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	tenantID := conn["tenant_id"]
	clientID := conn["client_id"]
	clientSecret := conn["client_secret"]
	subscription := conn["subscription_id"]
	if tenantID == "" || clientID == "" || clientSecret == "" || subscription == "" {
		return nil, fmt.Errorf("%w: azure connection missing service principal fields", ErrIncompleteCredentials)
	}

	if err := b.azure.Validate(ctx, tenantID, clientID, clientSecret); err != nil {
		return nil, err
	}

	// The az CLI keeps login state on disk; an isolated AZURE_CONFIG_DIR
	// scopes the login to this call so nothing leaks process-wide.
	configDir, err := os.MkdirTemp("", "aurora-az-")
	if err != nil {
		return nil, fmt.Errorf("create az config dir: %w", err)
	}

	env := map[string]string{
		"AZURE_CONFIG_DIR":      configDir,
		"AZURE_TENANT_ID":       tenantID,
		"AZURE_CLIENT_ID":       clientID,
		"AZURE_CLIENT_SECRET":   clientSecret,
		"AZURE_SUBSCRIPTION_ID": subscription,
	}

	// The dispatcher runs this in the isolated env before the user command.
	// The secret stays inside the bundle; the command string itself is
	// never logged.
	authCommand := fmt.Sprintf(
		"az login --service-principal -u %s -p %s --tenant %s --output none",
		clientID, clientSecret, tenantID,
	)

	name := conn["subscription_name"]
	if name == "" {
		name = subscription
	}

	return &Bundle{
		Provider:     models.ProviderAzure,
		Env:          env,
		AuthCommand:  authCommand,
		ResourceID:   subscription,
		ResourceName: name,
		AuthMethod:   "service_principal",
		ExpiresAt:    b.now().Add(time.Hour),
	}, nil
}
