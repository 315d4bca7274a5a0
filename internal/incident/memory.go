package incident

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auroraops/aurora/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu          sync.RWMutex
	incidents   map[string]*models.Incident
	suggestions map[string][]models.Suggestion
	citations   map[string][]models.Citation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents:   make(map[string]*models.Incident),
		suggestions: make(map[string][]models.Suggestion),
		citations:   make(map[string][]models.Citation),
	}
}

// CreateIncident implements Store. A missing ID is generated and the
// investigation starts pending.
func (s *MemoryStore) CreateIncident(_ context.Context, inc *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	clone := *inc
	s.incidents[inc.ID] = &clone
	return nil
}

// GetIncident implements Store.
func (s *MemoryStore) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *inc
	return &clone, nil
}

// UpdateAuroraStatus implements Store.
func (s *MemoryStore) UpdateAuroraStatus(_ context.Context, id string, next models.AuroraStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	if !inc.AuroraStatus.CanTransition(next) {
		return ErrInvalidTransition
	}
	inc.AuroraStatus = next
	inc.UpdatedAt = time.Now()
	return nil
}

// SetSummary implements Store.
func (s *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.Summary = summary
	inc.Status = "analyzed"
	inc.UpdatedAt = time.Now()
	return nil
}

// SetSeverity implements Store.
func (s *MemoryStore) SetSeverity(_ context.Context, id string, severity models.Severity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.Severity = severity
	inc.UpdatedAt = time.Now()
	return nil
}

// AttachSession implements Store.
func (s *MemoryStore) AttachSession(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.ChatSessionID = sessionID
	inc.UpdatedAt = time.Now()
	return nil
}

// ReplaceSuggestions implements Store.
func (s *MemoryStore) ReplaceSuggestions(_ context.Context, incidentID string, suggestions []models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[incidentID]; !ok {
		return ErrNotFound
	}
	out := make([]models.Suggestion, len(suggestions))
	for i, sg := range suggestions {
		sg.IncidentID = incidentID
		if sg.ID == "" {
			sg.ID = uuid.NewString()
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = time.Now()
		}
		out[i] = sg
	}
	s.suggestions[incidentID] = out
	return nil
}

// ListSuggestions implements Store.
func (s *MemoryStore) ListSuggestions(_ context.Context, incidentID string) ([]models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Suggestion(nil), s.suggestions[incidentID]...), nil
}

// ReplaceCitations implements Store.
func (s *MemoryStore) ReplaceCitations(_ context.Context, incidentID string, citations []models.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[incidentID]; !ok {
		return ErrNotFound
	}
	out := make([]models.Citation, len(citations))
	for i, c := range citations {
		c.IncidentID = incidentID
		out[i] = c
	}
	s.citations[incidentID] = out
	return nil
}

// ListCitations implements Store.
func (s *MemoryStore) ListCitations(_ context.Context, incidentID string) ([]models.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Citation(nil), s.citations[incidentID]...), nil
}
