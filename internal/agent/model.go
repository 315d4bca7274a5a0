package agent

import (
	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/pkg/models"
)

// SelectModel picks the model for a turn. Background investigations are
// pinned to the RCA model; otherwise an explicit per-turn choice wins, then
// a multimodal model when the message carries images, then the default.
func SelectModel(cfg config.LLMConfig, explicit string, attachments []models.Attachment, background bool) string {
	if background && cfg.RCAModel != "" {
		return cfg.RCAModel
	}
	if explicit != "" {
		return explicit
	}
	if cfg.MultimodalModel != "" && hasImages(attachments) {
		return cfg.MultimodalModel
	}
	return cfg.DefaultModel
}

func hasImages(attachments []models.Attachment) bool {
	for _, att := range attachments {
		if att.IsImage() {
			return true
		}
	}
	return false
}
