package cloudexec

import (
	"strings"

	"github.com/auroraops/aurora/pkg/models"
)

// knownCLIs are the binaries cloud_exec will route to. Commands that begin
// with one of these are passed through; anything else gets the provider's
// default CLI prepended. terraform is recognised but never prefixed.
var knownCLIs = map[string]bool{
	"gcloud": true, "gsutil": true, "bq": true, "kubectl": true,
	"aws": true, "eksctl": true, "az": true, "ovhcloud": true,
	"scw": true, "helm": true, "terraform": true,
}

var defaultCLI = map[models.Provider]string{
	models.ProviderGCP:      "gcloud",
	models.ProviderAWS:      "aws",
	models.ProviderAzure:    "az",
	models.ProviderOVH:      "ovhcloud",
	models.ProviderScaleway: "scw",
}

// NormalizeCommand prepends the provider default CLI when the command does
// not already start with a recognised binary.
func NormalizeCommand(provider models.Provider, command string) string {
	command = strings.TrimSpace(command)
	tokens := strings.Fields(command)
	if len(tokens) == 0 {
		return command
	}
	if knownCLIs[tokens[0]] {
		return command
	}
	cli, ok := defaultCLI[provider]
	if !ok {
		return command
	}
	return cli + " " + command
}

// InjectFlags appends provider-specific convenience flags when missing:
// project/region/subscription selectors and JSON output for read-only
// commands, --quiet on GCP deletions, and -i <SA> for gsutil impersonation.
func InjectFlags(provider models.Provider, command string, env map[string]string) string {
	tokens := strings.Fields(command)
	if len(tokens) == 0 {
		return command
	}

	switch tokens[0] {
	case "gcloud":
		if project := env["CLOUDSDK_CORE_PROJECT"]; project != "" && !hasFlag(command, "--project") {
			command += " --project=" + project
		}
		if IsReadOnly(command) && !hasFlag(command, "--format") {
			command += " --format=json"
		}
		if IsDestructive(command) && !hasFlag(command, "--quiet") {
			command += " --quiet"
		}
	case "gsutil":
		if sa := env["CLOUDSDK_AUTH_IMPERSONATE_SERVICE_ACCOUNT"]; sa != "" && !hasFlag(command, "-i") {
			// gsutil needs the impersonation flag spliced after the binary.
			command = "gsutil -i " + sa + " " + strings.Join(tokens[1:], " ")
		}
	case "aws":
		if region := env["AWS_DEFAULT_REGION"]; region != "" && !hasFlag(command, "--region") {
			command += " --region " + region
		}
		if IsReadOnly(command) && !hasFlag(command, "--output") {
			command += " --output json"
		}
	case "az":
		if sub := env["AZURE_SUBSCRIPTION_ID"]; sub != "" && !hasFlag(command, "--subscription") {
			command += " --subscription " + sub
		}
		if IsReadOnly(command) && !hasFlag(command, "--output") && !hasFlag(command, "-o") {
			command += " --output json"
		}
	case "scw":
		if IsReadOnly(command) && !strings.Contains(command, "-o json") && !strings.Contains(command, "--output json") {
			command += " -o json"
		}
	}

	return command
}

func hasFlag(command, flag string) bool {
	for _, token := range strings.Fields(command) {
		if token == flag || strings.HasPrefix(token, flag+"=") {
			return true
		}
	}
	return false
}

// InterceptConfigQuery short-circuits `gcloud config get-value project`.
// The CLI resolves that subcommand from its config files and ignores the
// injected env, so the dispatcher answers with the effective impersonated
// project directly.
func InterceptConfigQuery(command string, env map[string]string) (string, bool) {
	normalized := strings.Join(strings.Fields(command), " ")
	if normalized == "gcloud config get-value project" {
		return env["CLOUDSDK_CORE_PROJECT"], true
	}
	return "", false
}
