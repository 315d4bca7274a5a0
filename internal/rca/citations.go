package rca

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/pkg/models"
)

// excerptLimit bounds the stored evidence excerpt per citation.
const excerptLimit = 500

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// CandidateCitations builds the evidence index the summary prompt cites.
// One candidate per completed, non-error capture record with output, indexed
// from 1 in execution order.
func CandidateCitations(incidentID string, records []capture.Record) []models.Citation {
	var out []models.Citation
	for _, rec := range records {
		if !rec.Completed || rec.IsError || rec.Output == "" {
			continue
		}
		out = append(out, models.Citation{
			IncidentID:    incidentID,
			Index:         len(out) + 1,
			ToolName:      rec.ToolName,
			Command:       commandFromEnvelope(rec.Output),
			OutputExcerpt: excerpt(rec.Output),
		})
	}
	return out
}

// CitedIndexes parses the [n] markers out of a summary.
func CitedIndexes(summary string) map[int]bool {
	cited := make(map[int]bool)
	for _, match := range citationMarker.FindAllStringSubmatch(summary, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil && n > 0 {
			cited[n] = true
		}
	}
	return cited
}

// FilterCited keeps only the candidates the summary actually references.
// Uncited evidence is discarded rather than persisted.
func FilterCited(summary string, candidates []models.Citation) []models.Citation {
	cited := CitedIndexes(summary)
	var out []models.Citation
	for _, c := range candidates {
		if cited[c.Index] {
			out = append(out, c)
		}
	}
	return out
}

// commandFromEnvelope recovers the executed command from a tool envelope.
// The projected form wins when a large-output retry rewrote the command.
func commandFromEnvelope(output string) string {
	var env models.ToolEnvelope
	if err := json.Unmarshal([]byte(output), &env); err != nil {
		return ""
	}
	if env.FinalCommand != "" {
		return env.FinalCommand
	}
	return env.Command
}

func excerpt(s string) string {
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit]
}
