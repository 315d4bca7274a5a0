package agent

import (
	"context"

	"github.com/auroraops/aurora/pkg/models"
)

type sessionContextKey struct{}

// WithSession attaches the session to the context so wrappers and tools can
// recover the principal without threading it through every signature.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext returns the session attached by WithSession.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(*models.Session)
	return session, ok && session != nil
}

type recentMessagesKey struct{}

// WithRecentMessages attaches the turn's recent transcript text so tools that
// infer a provider from conversation can see it.
func WithRecentMessages(ctx context.Context, recent []string) context.Context {
	return context.WithValue(ctx, recentMessagesKey{}, recent)
}

// RecentMessagesFromContext returns the transcript attached by
// WithRecentMessages.
func RecentMessagesFromContext(ctx context.Context) ([]string, bool) {
	recent, ok := ctx.Value(recentMessagesKey{}).([]string)
	return recent, ok && len(recent) > 0
}
