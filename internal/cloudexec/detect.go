package cloudexec

import (
	"strings"

	"github.com/auroraops/aurora/pkg/models"
)

// providerSignals is the per-provider keyword/service/CLI/deployment matrix
// used to infer a provider when the session carries no explicit preference.
var providerSignals = map[models.Provider]struct {
	keywords []string
	services []string
	clis     []string
	patterns []string
}{
	models.ProviderGCP: {
		keywords: []string{"gcp", "google cloud", "gke"},
		services: []string{"compute engine", "cloud run", "bigquery", "cloud storage", "gcs", "pubsub", "cloud sql", "cloud functions"},
		clis:     []string{"gcloud", "gsutil", "bq"},
		patterns: []string{"app engine", "us-central1", "europe-west"},
	},
	models.ProviderAWS: {
		keywords: []string{"aws", "amazon web services"},
		services: []string{"ec2", "s3", "lambda", "rds", "eks", "dynamodb", "cloudwatch", "cloudformation", "ecs", "fargate", "sqs", "sns"},
		clis:     []string{"aws ", "eksctl"},
		patterns: []string{"us-east-1", "us-west-2", "iam role", "security group"},
	},
	models.ProviderAzure: {
		keywords: []string{"azure", "microsoft cloud"},
		services: []string{"aks", "cosmos", "app service", "blob storage", "resource group", "virtual machine scale set"},
		clis:     []string{"az "},
		patterns: []string{"subscription", "eastus", "westeurope"},
	},
	models.ProviderOVH: {
		keywords: []string{"ovh", "ovhcloud"},
		services: []string{"public cloud instance", "kimsufi"},
		clis:     []string{"ovhcloud"},
		patterns: []string{"gra", "sbg", "flavor"},
	},
	models.ProviderScaleway: {
		keywords: []string{"scaleway", "scw"},
		services: []string{"kapsule", "elastic metal"},
		clis:     []string{"scw "},
		patterns: []string{"fr-par", "nl-ams"},
	},
	models.ProviderTailscale: {
		keywords: []string{"tailscale", "tailnet"},
		services: []string{"magicdns", "subnet router", "exit node", "acl"},
		clis:     []string{"tailscale"},
		patterns: []string{"auth key", "100.64."},
	},
}

// DetectProvider scores recent user messages against the signal matrix and
// returns the most likely provider. The latest message outweighs history.
// ok is false when no provider clears the confidence floor.
func DetectProvider(messages []string) (models.Provider, bool) {
	if len(messages) == 0 {
		return "", false
	}

	scores := map[models.Provider]int{}
	for i, msg := range messages {
		weight := 1
		if i == len(messages)-1 {
			weight = 3
		}
		lower := strings.ToLower(msg)
		for provider, signals := range providerSignals {
			scores[provider] += weight * scoreSignals(lower, signals.keywords, 3)
			scores[provider] += weight * scoreSignals(lower, signals.services, 2)
			scores[provider] += weight * scoreSignals(lower, signals.clis, 3)
			scores[provider] += weight * scoreSignals(lower, signals.patterns, 1)
		}
	}

	var best models.Provider
	bestScore := 0
	for _, provider := range models.AllProviders {
		if s := scores[provider]; s > bestScore {
			best, bestScore = provider, s
		}
	}
	if bestScore < 2 {
		return "", false
	}
	return best, true
}

func scoreSignals(text string, signals []string, points int) int {
	total := 0
	for _, signal := range signals {
		if strings.Contains(text, signal) {
			total += points
		}
	}
	return total
}

// ResolveProvider picks the provider for a call: explicit preference first,
// then detection over recent messages.
func ResolveProvider(preference []models.Provider, recentMessages []string) (models.Provider, bool) {
	if len(preference) > 0 {
		return preference[0], true
	}
	return DetectProvider(recentMessages)
}
