// Package credentials mints short-lived, isolated provider credentials.
// Every bundle is self-contained: subprocesses receive it via env= style
// injection and nothing is ever copied into the process environment.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/pkg/models"
)

// Failure taxonomy. Each surfaces to the dispatcher as a typed error; no
// panic crosses the broker boundary.
var (
	ErrMissingConnection     = errors.New("no stored connection for provider")
	ErrExpiredRefreshToken   = errors.New("refresh token expired with no fallback")
	ErrSTSDenied             = errors.New("role assumption denied")
	ErrIncompleteCredentials = errors.New("stored credentials are incomplete")
)

// Bundle is an isolated credential set for one provider call. Lifetime is
// bounded by the underlying token expiry (typically <= 1 hour). Bundles are
// never logged.
type Bundle struct {
	Provider models.Provider
	// Env maps variable names to secret values handed to the subprocess.
	Env map[string]string
	// AuthCommand is an optional one-shot login command run in the same
	// isolated env before the user command (Azure only).
	AuthCommand string

	ResourceID   string // project id, account id, subscription id, tailnet
	ResourceName string // human-friendly name/alias where cheaply resolvable
	AuthMethod   string
	ExpiresAt    time.Time
}

// Request parameterises a broker call.
type Request struct {
	Principal string
	Provider  models.Provider
	Mode      models.Mode
	// Account selects one of several stored connections (AWS account id,
	// GCP project, Azure subscription). Empty means the default.
	Account string
}

// ConnectionStore is the opaque get-credentials port. The broker never
// reads secret storage directly.
type ConnectionStore interface {
	// Get returns the stored connection data for (user, provider), or the
	// one matching account when given.
	Get(ctx context.Context, userID string, provider models.Provider, account string) (map[string]string, error)
	// List returns all stored connections for (user, provider).
	List(ctx context.Context, userID string, provider models.Provider) ([]map[string]string, error)
	// Save persists refreshed token material (OVH rotation).
	Save(ctx context.Context, userID string, provider models.Provider, account string, data map[string]string) error
}

// Broker mints isolated credential bundles per provider.
type Broker struct {
	store   ConnectionStore
	cache   *bundleCache
	logger  *observability.Logger
	metrics *observability.Metrics

	sts   stsClient
	iam   iamClient
	gcp   gcpTokenMinter
	azure azureValidator
	ovh   ovhRefresher
	now   func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithSTSClient overrides the STS client. Used in tests.
func WithSTSClient(c stsClient) Option { return func(b *Broker) { b.sts = c } }

// WithIAMClient overrides the IAM client. Used in tests.
func WithIAMClient(c iamClient) Option { return func(b *Broker) { b.iam = c } }

// WithGCPMinter overrides the impersonation token minter. Used in tests.
func WithGCPMinter(m gcpTokenMinter) Option { return func(b *Broker) { b.gcp = m } }

// WithAzureValidator overrides service-principal validation. Used in tests.
func WithAzureValidator(v azureValidator) Option { return func(b *Broker) { b.azure = v } }

// WithOVHRefresher overrides the OVH token refresh flow. Used in tests.
func WithOVHRefresher(r ovhRefresher) Option { return func(b *Broker) { b.ovh = r } }

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) Option { return func(b *Broker) { b.now = now } }

// NewBroker creates a broker over the given connection store.
func NewBroker(store ConnectionStore, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Broker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	b := &Broker{
		store:   store,
		cache:   newBundleCache(cacheTTL),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	b.gcp = &restTokenMinter{}
	b.azure = &spValidator{}
	b.ovh = &oauthRefresher{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Issue returns an isolated credential bundle for the request. Results are
// cached for five minutes per (principal, provider, account, mode);
// Invalidate drops the entry when a connection changes.
func (b *Broker) Issue(ctx context.Context, req Request) (*Bundle, error) {
	if req.Principal == "" {
		return nil, fmt.Errorf("principal is required")
	}

	key := cacheKey(req)
	if bundle, ok := b.cache.get(key); ok && b.now().Before(bundle.ExpiresAt.Add(-time.Minute)) {
		return bundle, nil
	}

	bundle, err := b.issue(ctx, req)
	b.countIssue(req.Provider, err)
	if err != nil {
		return nil, err
	}
	b.cache.put(key, bundle)
	return bundle, nil
}

func (b *Broker) issue(ctx context.Context, req Request) (*Bundle, error) {
	switch req.Provider {
	case models.ProviderGCP:
		return b.issueGCP(ctx, req)
	case models.ProviderAWS:
		return b.issueAWS(ctx, req)
	case models.ProviderAzure:
		return b.issueAzure(ctx, req)
	case models.ProviderOVH:
		return b.issueOVH(ctx, req)
	case models.ProviderScaleway:
		return b.issueScaleway(ctx, req)
	case models.ProviderTailscale:
		return b.issueTailscale(ctx, req)
	default:
		return nil, fmt.Errorf("unknown provider %q", req.Provider)
	}
}

// Invalidate drops cached bundles for the pair. Called on connect and
// disconnect so stale credentials never outlive their connection.
func (b *Broker) Invalidate(principal string, provider models.Provider) {
	b.cache.invalidate(principal, provider)
}

func (b *Broker) countIssue(provider models.Provider, err error) {
	if b.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	b.metrics.CredentialIssued.WithLabelValues(string(provider), status).Inc()
}

func (b *Broker) connection(ctx context.Context, req Request) (map[string]string, error) {
	data, err := b.store.Get(ctx, req.Principal, req.Provider, req.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingConnection, req.Provider)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConnection, req.Provider)
	}
	return data, nil
}
