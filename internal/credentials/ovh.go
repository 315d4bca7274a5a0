package credentials

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/auroraops/aurora/pkg/models"
)

// ovhRefresher exchanges a refresh token for a fresh OVH access token.
type ovhRefresher interface {
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error)
}

const ovhTokenEndpoint = "https://www.ovh.com/auth/oauth2/token"

// refreshWindow: tokens within this margin of expiry are refreshed eagerly
// so a long CLI call never runs with a token that dies mid-flight.
const ovhRefreshWindow = 5 * time.Minute

type oauthRefresher struct{}

func (oauthRefresher) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: ovhTokenEndpoint},
	}
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (b *Broker) issueOVH(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	accessToken := conn["access_token"]
	if accessToken == "" {
		return nil, fmt.Errorf("%w: ovh connection missing access token", ErrIncompleteCredentials)
	}

	expiresAt := parseUnix(conn["expires_at"])
	if b.now().After(expiresAt.Add(-ovhRefreshWindow)) {
		refreshToken := conn["refresh_token"]
		if refreshToken == "" {
			return nil, fmt.Errorf("%w: ovh", ErrExpiredRefreshToken)
		}
		token, err := b.ovh.Refresh(ctx, conn["client_id"], conn["client_secret"], refreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: ovh refresh failed: %v", ErrExpiredRefreshToken, err)
		}
		accessToken = token.AccessToken
		expiresAt = token.Expiry

		// Persist the rotated token set so the next call starts fresh.
		conn["access_token"] = token.AccessToken
		if token.RefreshToken != "" {
			conn["refresh_token"] = token.RefreshToken
		}
		conn["expires_at"] = strconv.FormatInt(token.Expiry.Unix(), 10)
		if err := b.store.Save(ctx, req.Principal, models.ProviderOVH, req.Account, conn); err != nil {
			b.logger.Warn(ctx, "failed to persist refreshed ovh tokens", "error", err)
		}
	}

	env := map[string]string{
		"OVH_ACCESS_TOKEN": accessToken,
		"OVH_ENDPOINT":     orDefault(conn["endpoint"], "ovh-eu"),
	}
	if project := conn["project_id"]; project != "" {
		env["OVH_CLOUD_PROJECT_SERVICE"] = project
	}

	return &Bundle{
		Provider:     models.ProviderOVH,
		Env:          env,
		ResourceID:   conn["project_id"],
		ResourceName: orDefault(conn["project_name"], conn["project_id"]),
		AuthMethod:   "oauth",
		ExpiresAt:    expiresAt,
	}, nil
}

func (b *Broker) issueScaleway(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	accessKey := conn["access_key"]
	secretKey := conn["secret_key"]
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: scaleway connection missing api keys", ErrIncompleteCredentials)
	}

	env := map[string]string{
		"SCW_ACCESS_KEY":     accessKey,
		"SCW_SECRET_KEY":     secretKey,
		"SCW_DEFAULT_REGION": orDefault(conn["region"], "fr-par"),
		"SCW_DEFAULT_ZONE":   orDefault(conn["zone"], "fr-par-1"),
	}
	if org := conn["organization_id"]; org != "" {
		env["SCW_DEFAULT_ORGANIZATION_ID"] = org
	}
	if project := conn["project_id"]; project != "" {
		env["SCW_DEFAULT_PROJECT_ID"] = project
	}

	// API keys are long-lived; the bundle TTL just bounds the cache.
	return &Bundle{
		Provider:     models.ProviderScaleway,
		Env:          env,
		ResourceID:   conn["project_id"],
		ResourceName: orDefault(conn["project_name"], conn["project_id"]),
		AuthMethod:   "api_key",
		ExpiresAt:    b.now().Add(time.Hour),
	}, nil
}

func (b *Broker) issueTailscale(ctx context.Context, req Request) (*Bundle, error) {
	conn, err := b.connection(ctx, req)
	if err != nil {
		return nil, err
	}

	token := conn["api_key"]
	tailnet := conn["tailnet"]
	if token == "" || tailnet == "" {
		return nil, fmt.Errorf("%w: tailscale connection missing api key or tailnet", ErrIncompleteCredentials)
	}

	// Not CLI-backed: the dispatcher routes tailscale verbs to the REST
	// translator, which reads these two keys from the bundle.
	return &Bundle{
		Provider:     models.ProviderTailscale,
		Env:          map[string]string{"TAILSCALE_API_KEY": token, "TAILSCALE_TAILNET": tailnet},
		ResourceID:   tailnet,
		ResourceName: tailnet,
		AuthMethod:   "api_key",
		ExpiresAt:    b.now().Add(time.Hour),
	}, nil
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
