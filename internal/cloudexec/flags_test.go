package cloudexec

import (
	"strings"
	"testing"

	"github.com/auroraops/aurora/pkg/models"
)

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		provider models.Provider
		command  string
		want     string
	}{
		{models.ProviderGCP, "compute instances list", "gcloud compute instances list"},
		{models.ProviderGCP, "gcloud compute instances list", "gcloud compute instances list"},
		{models.ProviderGCP, "kubectl get pods", "kubectl get pods"},
		{models.ProviderAWS, "ec2 describe-instances", "aws ec2 describe-instances"},
		{models.ProviderAzure, "vm list", "az vm list"},
		{models.ProviderScaleway, "instance server list", "scw instance server list"},
		// terraform routes through iac_tool; never prefixed here.
		{models.ProviderAWS, "terraform plan", "terraform plan"},
	}
	for _, tt := range tests {
		if got := NormalizeCommand(tt.provider, tt.command); got != tt.want {
			t.Errorf("NormalizeCommand(%s, %q) = %q, want %q", tt.provider, tt.command, got, tt.want)
		}
	}
}

func TestInjectFlagsGCloud(t *testing.T) {
	env := map[string]string{"CLOUDSDK_CORE_PROJECT": "acme-prod"}

	got := InjectFlags(models.ProviderGCP, "gcloud compute instances list", env)
	if !strings.Contains(got, "--project=acme-prod") {
		t.Errorf("missing project flag: %q", got)
	}
	if !strings.Contains(got, "--format=json") {
		t.Errorf("read-only command should get json format: %q", got)
	}

	// Existing flags are respected.
	got = InjectFlags(models.ProviderGCP, "gcloud compute instances list --project=other --format=yaml", env)
	if strings.Contains(got, "acme-prod") || strings.Contains(got, "--format=json") {
		t.Errorf("explicit flags overridden: %q", got)
	}

	// Deletions run non-interactive.
	got = InjectFlags(models.ProviderGCP, "gcloud compute instances delete web-1", env)
	if !strings.Contains(got, "--quiet") {
		t.Errorf("destructive command should get --quiet: %q", got)
	}
}

func TestInjectFlagsGsutilImpersonation(t *testing.T) {
	env := map[string]string{"CLOUDSDK_AUTH_IMPERSONATE_SERVICE_ACCOUNT": "ops@acme.iam.gserviceaccount.com"}
	got := InjectFlags(models.ProviderGCP, "gsutil ls gs://acme-logs", env)
	if !strings.HasPrefix(got, "gsutil -i ops@acme.iam.gserviceaccount.com ls") {
		t.Errorf("gsutil impersonation not spliced: %q", got)
	}
}

func TestInjectFlagsAWSAndAzure(t *testing.T) {
	got := InjectFlags(models.ProviderAWS, "aws ec2 describe-instances", map[string]string{"AWS_DEFAULT_REGION": "eu-west-1"})
	if !strings.Contains(got, "--region eu-west-1") || !strings.Contains(got, "--output json") {
		t.Errorf("aws flags not injected: %q", got)
	}

	got = InjectFlags(models.ProviderAzure, "az vm list", map[string]string{"AZURE_SUBSCRIPTION_ID": "sub-123"})
	if !strings.Contains(got, "--subscription sub-123") {
		t.Errorf("azure subscription not injected: %q", got)
	}
}

func TestInterceptConfigQuery(t *testing.T) {
	env := map[string]string{"CLOUDSDK_CORE_PROJECT": "acme-prod"}

	answer, ok := InterceptConfigQuery("gcloud  config get-value  project", env)
	if !ok || answer != "acme-prod" {
		t.Errorf("intercept = (%q, %v), want (acme-prod, true)", answer, ok)
	}

	if _, ok := InterceptConfigQuery("gcloud config get-value account", env); ok {
		t.Error("non-project config query should not be intercepted")
	}
}
