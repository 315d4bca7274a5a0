package rca

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/auroraops/aurora/pkg/models"
)

// rawSuggestion is the JSON shape the extraction prompt requests.
type rawSuggestion struct {
	Type             string `json:"type"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Risk             string `json:"risk"`
	Repository       string `json:"repository"`
	FilePath         string `json:"file_path"`
	SuggestedContent string `json:"suggested_content"`
	Command          string `json:"command"`
}

// Suggestions extracts structured follow-up actions from the finished report.
// Entries with an unknown type or no title are dropped rather than guessed at.
func (s *Summariser) Suggestions(ctx context.Context, inc *models.Incident, report string) ([]models.Suggestion, error) {
	answer, err := s.complete(ctx,
		`Extract concrete follow-up actions from this incident report as a JSON array. Each `+
			`entry is {"type":"fix"|"command","title":...,"description":...,"risk":...} plus, `+
			`for fixes, optional "repository", "file_path", "suggested_content", and for `+
			`commands a "command" field. Return [] if the report proposes no actions. `+
			`Output only the JSON array.`,
		report)
	if err != nil {
		return nil, err
	}
	return parseSuggestions(inc.ID, answer), nil
}

// parseSuggestions tolerates prose around the array; the first bracketed
// region is taken as the payload.
func parseSuggestions(incidentID, answer string) []models.Suggestion {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []rawSuggestion
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil
	}

	var out []models.Suggestion
	for _, r := range raw {
		typ := models.SuggestionType(strings.ToLower(strings.TrimSpace(r.Type)))
		if typ != models.SuggestionFix && typ != models.SuggestionCommand {
			continue
		}
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		out = append(out, models.Suggestion{
			IncidentID:       incidentID,
			Type:             typ,
			Title:            r.Title,
			Description:      r.Description,
			Risk:             r.Risk,
			Repository:       r.Repository,
			FilePath:         r.FilePath,
			SuggestedContent: r.SuggestedContent,
			Command:          r.Command,
		})
	}
	return out
}
