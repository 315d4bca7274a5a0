package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/auroraops/aurora/pkg/models"
)

// gcpTokenMinter mints an OAuth access token impersonating a service
// account.
type gcpTokenMinter interface {
	MintImpersonatedToken(ctx context.Context, baseCredsJSON []byte, targetSA string) (token string, expiresAt time.Time, err error)
}

const iamCredentialsEndpoint = "https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/%s:generateAccessToken"

// restTokenMinter calls the IAM Credentials generateAccessToken endpoint
// with a token source built from the stored base credentials.
type restTokenMinter struct{}

func (m *restTokenMinter) MintImpersonatedToken(ctx context.Context, baseCredsJSON []byte, targetSA string) (string, time.Time, error) {
	creds, err := google.CredentialsFromJSON(ctx, baseCredsJSON, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse base credentials: %w", err)
	}

	body, _ := json.Marshal(map[string]any{
		"scope":    []string{"https://www.googleapis.com/auth/cloud-platform"},
		"lifetime": "3600s",
	})
	url := fmt.Sprintf(iamCredentialsEndpoint, targetSA)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := oauth2.NewClient(ctx, creds.TokenSource)
	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("generate access token: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"accessToken"`
		ExpireTime  string `json:"expireTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", time.Time{}, err
	}
	expires, _ := time.Parse(time.RFC3339, out.ExpireTime)
	return out.AccessToken, expires, nil
}

func (b *Broker) issueGCP(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	project := conn["project_id"]
	saEmail := conn["service_account"]
	baseCreds := conn["base_credentials_json"]
	if project == "" || saEmail == "" || baseCreds == "" {
		return nil, fmt.Errorf("%w: gcp connection missing project, service account, or base credentials", ErrIncompleteCredentials)
	}

	// Read-only policy may route through a restricted viewer SA.
	authMethod := "sa_impersonation"
	if req.Mode.ReadOnly() {
		if ro := conn["read_only_service_account"]; ro != "" {
			saEmail = ro
			authMethod = "sa_impersonation_readonly"
		}
	}

	token, expiresAt, err := b.gcp.MintImpersonatedToken(ctx, []byte(baseCreds), saEmail)
	if err != nil {
		return nil, fmt.Errorf("mint impersonated token for %s: %w", saEmail, err)
	}
	if expiresAt.IsZero() {
		expiresAt = b.now().Add(time.Hour)
	}

	// gcloud needs a writable config dir; pointing CLOUDSDK_CONFIG and HOME
	// at a scratch dir keeps CLI state out of the shared filesystem.
	configDir, err := os.MkdirTemp("", "aurora-gcloud-")
	if err != nil {
		return nil, fmt.Errorf("create gcloud config dir: %w", err)
	}

	env := map[string]string{
		// Two token aliases: SDKs read GOOGLE_OAUTH_ACCESS_TOKEN, gcloud
		// reads CLOUDSDK_AUTH_ACCESS_TOKEN.
		"GOOGLE_OAUTH_ACCESS_TOKEN":  token,
		"CLOUDSDK_AUTH_ACCESS_TOKEN": token,
		"GOOGLE_CLOUD_PROJECT":       project,
		"CLOUDSDK_CORE_PROJECT":      project,
		"GOOGLE_IMPERSONATE_SERVICE_ACCOUNT":        saEmail,
		"CLOUDSDK_AUTH_IMPERSONATE_SERVICE_ACCOUNT": saEmail,
		"CLOUDSDK_CONFIG": configDir,
		"HOME":            filepath.Dir(configDir),
	}

	return &Bundle{
		Provider:     models.ProviderGCP,
		Env:          env,
		ResourceID:   project,
		ResourceName: saEmail,
		AuthMethod:   authMethod,
		ExpiresAt:    expiresAt,
	}, nil
}
