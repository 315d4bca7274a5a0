package agent

import (
	"testing"

	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/pkg/models"
)

func TestSelectModel(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultModel:    "claude-sonnet-4-20250514",
		MultimodalModel: "gpt-4o",
		RCAModel:        "claude-opus-4-20250514",
	}
	image := []models.Attachment{{Type: "image"}}
	doc := []models.Attachment{{Type: "document"}}

	tests := []struct {
		name        string
		explicit    string
		attachments []models.Attachment
		background  bool
		want        string
	}{
		{"default", "", nil, false, cfg.DefaultModel},
		{"explicit wins", "gpt-4-turbo", image, false, "gpt-4-turbo"},
		{"images pick multimodal", "", image, false, cfg.MultimodalModel},
		{"non-image attachment stays default", "", doc, false, cfg.DefaultModel},
		{"background pins rca model", "gpt-4-turbo", image, true, cfg.RCAModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectModel(cfg, tt.explicit, tt.attachments, tt.background)
			if got != tt.want {
				t.Errorf("SelectModel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectModelWithoutRCAModel(t *testing.T) {
	cfg := config.LLMConfig{DefaultModel: "claude-sonnet-4-20250514"}
	if got := SelectModel(cfg, "", nil, true); got != cfg.DefaultModel {
		t.Errorf("SelectModel() = %q, want default when no RCA model set", got)
	}
}
