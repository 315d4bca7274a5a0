package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/auroraops/aurora/pkg/models"
)

// ErrNoConnection is returned when the user has no stored connection for a
// provider.
var ErrNoConnection = errors.New("credentials: no connection")

// PostgresConnections implements ConnectionStore on PostgreSQL. Connection
// data rows carry the opaque per-provider material (keys, tenant ids, token
// JSON) as a jsonb document; the broker interprets it.
type PostgresConnections struct {
	db *sql.DB
}

// NewPostgresConnections opens a pool and verifies it with a ping.
func NewPostgresConnections(dsn string) (*PostgresConnections, error) {
	if dsn == "" {
		return nil, errors.New("credentials: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credentials: ping database: %w", err)
	}
	return &PostgresConnections{db: db}, nil
}

// NewPostgresConnectionsWithDB wraps an existing pool. Used by tests and by
// stores sharing one pool.
func NewPostgresConnectionsWithDB(db *sql.DB) *PostgresConnections {
	return &PostgresConnections{db: db}
}

// Close releases the connection pool.
func (s *PostgresConnections) Close() error { return s.db.Close() }

// Get implements ConnectionStore. An empty account resolves the default
// connection, then the oldest.
func (s *PostgresConnections) Get(ctx context.Context, userID string, provider models.Provider, account string) (map[string]string, error) {
	const query = `
		SELECT data FROM provider_connections
		WHERE user_id = $1 AND provider = $2 AND ($3 = '' OR account = $3)
		ORDER BY is_default DESC, created_at ASC
		LIMIT 1`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, userID, string(provider), account).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: load connection: %w", err)
	}
	return decodeConnection(raw)
}

// List implements ConnectionStore.
func (s *PostgresConnections) List(ctx context.Context, userID string, provider models.Provider) ([]map[string]string, error) {
	const query = `
		SELECT data FROM provider_connections
		WHERE user_id = $1 AND provider = $2
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, string(provider))
	if err != nil {
		return nil, fmt.Errorf("credentials: list connections: %w", err)
	}
	defer rows.Close()

	var out []map[string]string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("credentials: scan connection: %w", err)
		}
		data, err := decodeConnection(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Save implements ConnectionStore. Refreshed token material replaces the
// row's data document in place.
func (s *PostgresConnections) Save(ctx context.Context, userID string, provider models.Provider, account string, data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("credentials: encode connection: %w", err)
	}

	const query = `
		INSERT INTO provider_connections (user_id, provider, account, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, provider, account)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query, userID, string(provider), account, raw, time.Now())
	if err != nil {
		return fmt.Errorf("credentials: save connection: %w", err)
	}
	return nil
}

// Connected reports whether the user has any stored connection under the
// given integration name (e.g. "github"). Integrations outside the cloud
// provider set live in the same table.
func (s *PostgresConnections) Connected(ctx context.Context, userID string) bool {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM provider_connections
			WHERE user_id = $1 AND provider = 'github'
		)`

	var connected bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&connected); err != nil {
		return false
	}
	return connected
}

func decodeConnection(raw []byte) (map[string]string, error) {
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("credentials: decode connection: %w", err)
	}
	return data, nil
}
