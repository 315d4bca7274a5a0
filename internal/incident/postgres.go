package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/auroraops/aurora/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("incident: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("incident: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("incident: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection. Used by tests and by
// stores sharing one pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// CreateIncident implements Store.
func (s *PostgresStore) CreateIncident(ctx context.Context, inc *models.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	now := time.Now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.AuroraStatus == "" {
		inc.AuroraStatus = models.AuroraPending
	}
	if inc.Status == "" {
		inc.Status = "open"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, user_id, source, title, severity, service, status, aurora_status, summary, chat_session_id, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inc.ID, inc.UserID, inc.Source, inc.Title, string(inc.Severity), inc.Service,
		inc.Status, string(inc.AuroraStatus), inc.Summary, nullString(inc.ChatSessionID),
		inc.StartedAt, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("incident: create: %w", err)
	}
	return nil
}

// GetIncident implements Store.
func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, source, title, severity, service, status, aurora_status, summary, chat_session_id, started_at, created_at, updated_at
		FROM incidents WHERE id = $1`, id)

	var inc models.Incident
	var severity, auroraStatus string
	var chatSessionID sql.NullString
	err := row.Scan(&inc.ID, &inc.UserID, &inc.Source, &inc.Title, &severity,
		&inc.Service, &inc.Status, &auroraStatus, &inc.Summary, &chatSessionID,
		&inc.StartedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("incident: get: %w", err)
	}

	inc.Severity = models.Severity(severity)
	inc.AuroraStatus = models.AuroraStatus(auroraStatus)
	inc.ChatSessionID = chatSessionID.String
	return &inc, nil
}

// UpdateAuroraStatus implements Store. The transition guard runs inside the
// UPDATE predicate so concurrent workers cannot race a finished investigation
// back to running.
func (s *PostgresStore) UpdateAuroraStatus(ctx context.Context, id string, next models.AuroraStatus) error {
	sources := transitionSources(next)
	if len(sources) == 0 {
		return ErrInvalidTransition
	}
	from := make([]string, len(sources))
	for i, src := range sources {
		from[i] = string(src)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET aurora_status = $1, updated_at = $2
		WHERE id = $3 AND aurora_status = ANY($4)`,
		string(next), time.Now(), id, pq.Array(from))
	if err != nil {
		return fmt.Errorf("incident: update aurora_status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetIncident(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// SetSummary implements Store.
func (s *PostgresStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET summary = $1, status = 'analyzed', updated_at = $2 WHERE id = $3`,
		summary, time.Now(), id)
	if err != nil {
		return fmt.Errorf("incident: set summary: %w", err)
	}
	return notFoundOnZeroRows(res)
}

// SetSeverity implements Store.
func (s *PostgresStore) SetSeverity(ctx context.Context, id string, severity models.Severity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET severity = $1, updated_at = $2 WHERE id = $3`,
		string(severity), time.Now(), id)
	if err != nil {
		return fmt.Errorf("incident: set severity: %w", err)
	}
	return notFoundOnZeroRows(res)
}

// AttachSession implements Store.
func (s *PostgresStore) AttachSession(ctx context.Context, id, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET chat_session_id = $1, updated_at = $2 WHERE id = $3`,
		sessionID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("incident: attach session: %w", err)
	}
	return notFoundOnZeroRows(res)
}

// ReplaceSuggestions implements Store.
func (s *PostgresStore) ReplaceSuggestions(ctx context.Context, incidentID string, suggestions []models.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("incident: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM suggestions WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("incident: clear suggestions: %w", err)
	}

	for _, sg := range suggestions {
		if sg.ID == "" {
			sg.ID = uuid.NewString()
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, incident_id, type, title, description, risk, repository, file_path, suggested_content, command, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sg.ID, incidentID, string(sg.Type), sg.Title, sg.Description, sg.Risk,
			sg.Repository, sg.FilePath, sg.SuggestedContent, sg.Command, sg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("incident: insert suggestion: %w", err)
		}
	}
	return tx.Commit()
}

// ListSuggestions implements Store.
func (s *PostgresStore) ListSuggestions(ctx context.Context, incidentID string) ([]models.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, type, title, description, risk, repository, file_path, suggested_content, command, created_at
		FROM suggestions WHERE incident_id = $1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("incident: query suggestions: %w", err)
	}
	defer rows.Close()

	var out []models.Suggestion
	for rows.Next() {
		var sg models.Suggestion
		var typ string
		if err := rows.Scan(&sg.ID, &sg.IncidentID, &typ, &sg.Title, &sg.Description,
			&sg.Risk, &sg.Repository, &sg.FilePath, &sg.SuggestedContent, &sg.Command,
			&sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("incident: scan suggestion: %w", err)
		}
		sg.Type = models.SuggestionType(typ)
		out = append(out, sg)
	}
	return out, rows.Err()
}

// ReplaceCitations implements Store.
func (s *PostgresStore) ReplaceCitations(ctx context.Context, incidentID string, citations []models.Citation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("incident: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM citations WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("incident: clear citations: %w", err)
	}

	for _, c := range citations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO citations (incident_id, idx, tool_name, command, output_excerpt)
			VALUES ($1, $2, $3, $4, $5)`,
			incidentID, c.Index, c.ToolName, c.Command, c.OutputExcerpt,
		)
		if err != nil {
			return fmt.Errorf("incident: insert citation: %w", err)
		}
	}
	return tx.Commit()
}

// ListCitations implements Store.
func (s *PostgresStore) ListCitations(ctx context.Context, incidentID string) ([]models.Citation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, idx, tool_name, command, output_excerpt
		FROM citations WHERE incident_id = $1 ORDER BY idx ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("incident: query citations: %w", err)
	}
	defer rows.Close()

	var out []models.Citation
	for rows.Next() {
		var c models.Citation
		if err := rows.Scan(&c.IncidentID, &c.Index, &c.ToolName, &c.Command,
			&c.OutputExcerpt); err != nil {
			return nil, fmt.Errorf("incident: scan citation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func notFoundOnZeroRows(res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
