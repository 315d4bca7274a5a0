package cloudexec

import (
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/auroraops/aurora/pkg/models"
)

// projectionTokenThreshold is the point at which raw CLI output stops being
// forwarded to the model and the command is retried with a server-side
// projection instead.
const projectionTokenThreshold = 30_000

const tokenizerEncoding = "cl100k_base"

// OutputTokens estimates the token count of a command output. Falls back to
// a bytes/4 heuristic if the encoding cannot be loaded (offline hosts).
func OutputTokens(output string) int {
	enc, err := tiktoken.GetEncoding(tokenizerEncoding)
	if err != nil {
		return len(output) / 4
	}
	return len(enc.Encode(output, nil, nil))
}

// NeedsProjection reports whether output is too large to hand to the model.
func NeedsProjection(output string) bool {
	return OutputTokens(output) > projectionTokenThreshold
}

// ProjectCommand rewrites a list/describe command into a narrow-field
// variant. Returns the rewritten command and true when the provider supports
// a projection; AWS CLI has no server-side projection we trust for arbitrary
// commands, so it returns false there.
func ProjectCommand(provider models.Provider, command string) (string, bool) {
	switch provider {
	case models.ProviderGCP:
		return projectGCloud(command)
	case models.ProviderAzure:
		return projectAz(command)
	}
	return "", false
}

func projectGCloud(command string) (string, bool) {
	if !strings.HasPrefix(command, "gcloud ") && !strings.HasPrefix(command, "bq ") {
		return "", false
	}
	tokens := strings.Fields(command)
	kept := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if strings.HasPrefix(token, "--format=") {
			continue
		}
		if token == "--format" {
			i++ // skip the value too
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ") + ` --format="value(name,status)"`, true
}

func projectAz(command string) (string, bool) {
	if !strings.HasPrefix(command, "az ") {
		return "", false
	}
	if hasFlag(command, "--query") {
		return "", false
	}
	return command + ` --query "[].{name:name, id:id, location:location}"`, true
}

// LargeOutputNote is attached to the envelope when a projection replaced the
// raw output. reference names where the full output was persisted.
func LargeOutputNote(tokens int, reference string) string {
	var b strings.Builder
	b.WriteString("Output was too large to include directly")
	if tokens > 0 {
		b.WriteString(" (~")
		b.WriteString(itoaThousands(tokens))
		b.WriteString(" tokens)")
	}
	b.WriteString("; a narrowed projection was returned instead.")
	if reference != "" {
		b.WriteString(" Full output saved to ")
		b.WriteString(reference)
		b.WriteString(".")
	}
	return b.String()
}

func itoaThousands(n int) string {
	if n >= 1000 {
		return strconv.Itoa(n/1000) + "K"
	}
	return strconv.Itoa(n)
}
