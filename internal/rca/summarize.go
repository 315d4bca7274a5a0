package rca

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/pkg/models"
)

// severityWindow is how many leading transcript entries feed the severity
// evaluation.
const severityWindow = 15

// Summariser produces the incident texts with single deterministic model
// calls: the pre-RCA alert summary, the cited post-RCA report, the severity
// evaluation, and the follow-up suggestions.
type Summariser struct {
	provider agent.LLMProvider
	model    string
}

// NewSummariser binds the summariser to one model. The model is pinned so
// repeated runs over the same transcript stay comparable.
func NewSummariser(provider agent.LLMProvider, model string) *Summariser {
	return &Summariser{provider: provider, model: model}
}

// AlertSummary produces the pre-RCA summary from the raw alert payload:
// two to three factual paragraphs, no speculation.
func (s *Summariser) AlertSummary(ctx context.Context, inc *models.Incident, payload map[string]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert from %s: %s\n", inc.Source, inc.Title)
	if inc.Service != "" {
		fmt.Fprintf(&b, "Service: %s\n", inc.Service)
	}
	for _, k := range sortedKeys(payload) {
		fmt.Fprintf(&b, "%s: %s\n", k, payload[k])
	}

	return s.complete(ctx,
		"You summarise monitoring alerts for on-call engineers. Write 2-3 short factual "+
			"paragraphs describing what fired, on which service, and with what readings. "+
			"State only what the payload contains.",
		b.String())
}

// IncidentReport produces the post-RCA summary over the evidence index.
// The prompt numbers each piece of evidence and instructs the model to mark
// every claim with its [n] source; unmarked evidence is discarded afterwards.
func (s *Summariser) IncidentReport(ctx context.Context, inc *models.Incident, candidates []models.Citation) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s (source: %s", inc.Title, inc.Source)
	if inc.Service != "" {
		fmt.Fprintf(&b, ", service: %s", inc.Service)
	}
	b.WriteString(")\n\nEvidence collected during the investigation:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] tool %s", c.Index, c.ToolName)
		if c.Command != "" {
			fmt.Fprintf(&b, " (%s)", c.Command)
		}
		fmt.Fprintf(&b, ":\n%s\n", c.OutputExcerpt)
	}

	return s.complete(ctx,
		"You write root-cause analysis reports. Produce a factual incident report from the "+
			"numbered evidence. Cite the evidence index in square brackets, e.g. [2], after "+
			"every claim it supports. Do not cite indexes that do not exist. Do not invent "+
			"findings beyond the evidence.",
		b.String())
}

// Severity classifies the incident from the first severityWindow transcript
// entries. Unrecognised answers fall back to medium.
func (s *Summariser) Severity(ctx context.Context, history []*models.Message) (models.Severity, error) {
	var b strings.Builder
	count := 0
	for _, msg := range history {
		if count >= severityWindow {
			break
		}
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		count++
	}

	answer, err := s.complete(ctx,
		"Classify the severity of the incident described in this transcript. Answer with "+
			"exactly one word: critical, high, medium, or low.",
		b.String())
	if err != nil {
		return "", err
	}
	return parseSeverity(answer), nil
}

func parseSeverity(answer string) models.Severity {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	for _, sev := range []models.Severity{
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow,
	} {
		if strings.Contains(normalized, string(sev)) {
			return sev
		}
	}
	return models.SeverityMedium
}

// complete runs one non-streaming model call and returns the full text.
func (s *Summariser) complete(ctx context.Context, system, user string) (string, error) {
	if s.provider == nil {
		return "", errors.New("rca: no model provider")
	}
	stream, err := s.provider.Complete(ctx, &agent.CompletionRequest{
		Model:    s.model,
		System:   system,
		Messages: []agent.CompletionMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", errors.New("rca: model returned empty summary")
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
