package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/auroraops/aurora/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("sessions: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection. Used by tests and by
// stores sharing one pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying pool for related stores.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// CreateSession implements Store.
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionActive
	}

	providers, err := json.Marshal(session.Providers)
	if err != nil {
		return fmt.Errorf("sessions: marshal providers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, mode, providers, incident_id, status, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.UserID, string(session.Mode), providers,
		nullString(session.IncidentID), string(session.Status), session.Title,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: create session: %w", err)
	}
	return nil
}

// GetSession implements Store.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, mode, providers, incident_id, status, title, created_at, updated_at
		FROM sessions WHERE id = $1`, id)

	var session models.Session
	var mode, status string
	var providers []byte
	var incidentID sql.NullString
	err := row.Scan(&session.ID, &session.UserID, &mode, &providers,
		&incidentID, &status, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get session: %w", err)
	}

	session.Mode = models.Mode(mode)
	session.Status = models.SessionStatus(status)
	session.IncidentID = incidentID.String
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &session.Providers); err != nil {
			return nil, fmt.Errorf("sessions: decode providers: %w", err)
		}
	}
	return &session, nil
}

// UpdateStatus implements Store.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("sessions: update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInProgressBefore implements Store.
func (s *PostgresStore) ListInProgressBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, mode, providers, incident_id, status, title, created_at, updated_at
		FROM sessions WHERE status = $1 AND updated_at < $2`,
		string(models.SessionInProgress), cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessions: list stale: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var session models.Session
		var mode, status string
		var providers []byte
		var incidentID sql.NullString
		if err := rows.Scan(&session.ID, &session.UserID, &mode, &providers,
			&incidentID, &status, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan stale session: %w", err)
		}
		session.Mode = models.Mode(mode)
		session.Status = models.SessionStatus(status)
		session.IncidentID = incidentID.String
		if len(providers) > 0 {
			if err := json.Unmarshal(providers, &session.Providers); err != nil {
				return nil, fmt.Errorf("sessions: decode providers: %w", err)
			}
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

// AppendMessage implements Store.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("sessions: marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("sessions: marshal tool results: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("sessions: marshal attachments: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.SessionID, string(msg.Direction), string(msg.Role), msg.Content,
		attachments, toolCalls, toolResults, metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = $1 WHERE id = $2`, time.Now(), msg.SessionID); err != nil {
		return fmt.Errorf("sessions: touch session: %w", err)
	}

	return tx.Commit()
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Most recent limit rows, still returned in chronological order.
		query = `
		SELECT id, session_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM (
			SELECT id, session_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at
			FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: query history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		var direction, role string
		var attachments, toolCalls, toolResults, metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &direction, &role, &msg.Content,
			&attachments, &toolCalls, &toolResults, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		msg.Direction = models.Direction(direction)
		msg.Role = models.Role(role)
		if err := decodeJSON(attachments, &msg.Attachments); err != nil {
			return nil, err
		}
		if err := decodeJSON(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
		if err := decodeJSON(toolResults, &msg.ToolResults); err != nil {
			return nil, err
		}
		if err := decodeJSON(metadata, &msg.Metadata); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("sessions: decode column: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
