package iac

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/auroraops/aurora/internal/cloudexec"
	"github.com/auroraops/aurora/pkg/models"
)

// contentPrefixes disambiguate the provider from generated terraform content.
var contentPrefixes = []struct {
	prefix   string
	provider models.Provider
}{
	{`"aws_`, models.ProviderAWS},
	{` aws_`, models.ProviderAWS},
	{`"google_`, models.ProviderGCP},
	{` google_`, models.ProviderGCP},
	{`"azurerm_`, models.ProviderAzure},
	{` azurerm_`, models.ProviderAzure},
	{`"scaleway_`, models.ProviderScaleway},
	{` scaleway_`, models.ProviderScaleway},
	{`"ovh_`, models.ProviderOVH},
	{` ovh_`, models.ProviderOVH},
}

// InferProvider resolves the provider for a write: explicit preference,
// then unambiguous resource prefixes in the content, then recent
// conversation, then the default priority order.
func InferProvider(preference []models.Provider, content string, recentMessages []string) (models.Provider, bool) {
	if len(preference) == 1 {
		return preference[0], true
	}

	found := map[models.Provider]bool{}
	for _, cp := range contentPrefixes {
		if strings.Contains(content, cp.prefix) {
			found[cp.provider] = true
		}
	}
	if len(found) == 1 {
		for p := range found {
			return p, true
		}
	}

	if p, ok := cloudexec.DetectProvider(recentMessages); ok {
		return p, true
	}

	if len(preference) > 0 {
		return preference[0], true
	}
	for _, p := range models.AllProviders {
		if found[p] {
			return p, true
		}
	}
	return "", false
}

var ownProviderBlock = regexp.MustCompile(`(?m)^\s*(terraform|provider)\s*("[^"]*"\s*)?\{`)

// HasOwnProviderBlock reports whether the user content declares its own
// terraform{} or provider{} block; auto-generated provider.tf must then be
// removed to avoid duplicate-provider errors.
func HasOwnProviderBlock(content string) bool {
	return ownProviderBlock.MatchString(content)
}

// RenderProviderTF produces provider.tf for the resolved provider, filled
// from the credential bundle env (project, region, subscription).
func RenderProviderTF(provider models.Provider, env map[string]string) (string, error) {
	switch provider {
	case models.ProviderGCP:
		return fmt.Sprintf(`terraform {
  required_providers {
    google = {
      source  = "hashicorp/google"
      version = "~> 5.0"
    }
  }
}

provider "google" {
  project = %q
  region  = %q
}
`, env["CLOUDSDK_CORE_PROJECT"], orDefault(env["CLOUDSDK_COMPUTE_REGION"], "us-central1")), nil

	case models.ProviderAWS:
		return fmt.Sprintf(`terraform {
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
}

provider "aws" {
  region = %q
}
`, orDefault(env["AWS_DEFAULT_REGION"], "us-east-1")), nil

	case models.ProviderAzure:
		return fmt.Sprintf(`terraform {
  required_providers {
    azurerm = {
      source  = "hashicorp/azurerm"
      version = "~> 3.0"
    }
  }
}

provider "azurerm" {
  features {}
  subscription_id = %q
}
`, env["AZURE_SUBSCRIPTION_ID"]), nil

	case models.ProviderScaleway:
		return fmt.Sprintf(`terraform {
  required_providers {
    scaleway = {
      source  = "scaleway/scaleway"
      version = "~> 2.0"
    }
  }
}

provider "scaleway" {
  region = %q
  zone   = %q
}
`, orDefault(env["SCW_DEFAULT_REGION"], "fr-par"), orDefault(env["SCW_DEFAULT_ZONE"], "fr-par-1")), nil

	case models.ProviderOVH:
		return `terraform {
  required_providers {
    ovh = {
      source  = "ovh/ovh"
      version = "~> 0.35"
    }
  }
}

provider "ovh" {
  endpoint = "ovh-eu"
}
`, nil
	}
	return "", fmt.Errorf("no terraform provider template for %s", provider)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
