package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/auroraops/aurora/internal/observability"
)

const (
	// defaultCompactionThreshold triggers history compaction when the
	// prior-message footprint exceeds it.
	defaultCompactionThreshold = 60_000

	compactionEncoding = "cl100k_base"

	compactionPrompt = `Summarise the conversation below for continuation. Preserve: the user's goals, cloud resources touched (ids and names), commands run and their outcomes, errors encountered, and any pending confirmations or decisions. Be factual and compact.`
)

var (
	compactionEncoder     *tiktoken.Tiktoken
	compactionEncoderOnce sync.Once
)

// Compactor replaces an oversized chat history with a single summary system
// message before the model call. The canonical transcript is untouched; only
// the copy presented to the model shrinks.
type Compactor struct {
	provider  LLMProvider
	model     string
	threshold int
	logger    *observability.Logger
}

// NewCompactor creates a compactor. A zero threshold uses the default.
func NewCompactor(provider LLMProvider, model string, threshold int, logger *observability.Logger) *Compactor {
	if threshold <= 0 {
		threshold = defaultCompactionThreshold
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Compactor{provider: provider, model: model, threshold: threshold, logger: logger}
}

// Maybe returns the messages to present to the model: unchanged when under
// the threshold, else a summary system message plus the final user message.
// On summariser failure the oldest messages are dropped instead.
func (c *Compactor) Maybe(ctx context.Context, msgs []CompletionMessage) []CompletionMessage {
	if len(msgs) < 2 || historyTokens(msgs) <= c.threshold {
		return msgs
	}

	prior := msgs[:len(msgs)-1]
	last := msgs[len(msgs)-1]

	summary, err := c.summarise(ctx, prior)
	if err != nil {
		c.logger.Warn(ctx, "history compaction failed, dropping oldest messages", "error", err)
		return c.dropOldest(msgs)
	}

	return []CompletionMessage{
		{Role: "system", Content: "Conversation so far (summarised):\n" + summary},
		last,
	}
}

func (c *Compactor) summarise(ctx context.Context, msgs []CompletionMessage) (string, error) {
	var transcript strings.Builder
	for _, msg := range msgs {
		transcript.WriteString(msg.Role)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		for _, res := range msg.ToolResults {
			transcript.WriteString("\n[tool output] ")
			transcript.WriteString(res.Content)
		}
		transcript.WriteString("\n")
	}

	chunks, err := c.provider.Complete(ctx, &CompletionRequest{
		Model:  c.model,
		System: compactionPrompt,
		Messages: []CompletionMessage{
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}

// dropOldest trims from the front until the footprint fits, always keeping
// the final message.
func (c *Compactor) dropOldest(msgs []CompletionMessage) []CompletionMessage {
	out := msgs
	for len(out) > 1 && historyTokens(out) > c.threshold {
		out = out[1:]
	}
	return out
}

func historyTokens(msgs []CompletionMessage) int {
	total := 0
	for _, msg := range msgs {
		total += estimateTokens(msg.Content)
		for _, res := range msg.ToolResults {
			total += estimateTokens(res.Content)
		}
	}
	return total
}

// estimateTokens counts tokens with tiktoken, falling back to the bytes/4
// heuristic when the encoding is unavailable offline.
func estimateTokens(s string) int {
	compactionEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(compactionEncoding)
		if err == nil {
			compactionEncoder = enc
		}
	})
	if compactionEncoder != nil {
		return len(compactionEncoder.Encode(s, nil, nil))
	}
	return len(s) / 4
}
