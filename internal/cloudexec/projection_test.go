package cloudexec

import (
	"strings"
	"testing"

	"github.com/auroraops/aurora/pkg/models"
)

func TestProjectCommandGCloud(t *testing.T) {
	got, ok := ProjectCommand(models.ProviderGCP, "gcloud compute instances list --format=json")
	if !ok {
		t.Fatal("gcloud command should be projectable")
	}
	if strings.Contains(got, "--format=json") {
		t.Errorf("original format flag kept: %q", got)
	}
	if !strings.Contains(got, `--format="value(name,status)"`) {
		t.Errorf("projection format missing: %q", got)
	}
}

func TestProjectCommandAz(t *testing.T) {
	got, ok := ProjectCommand(models.ProviderAzure, "az vm list --output json")
	if !ok {
		t.Fatal("az command should be projectable")
	}
	if !strings.Contains(got, "--query") {
		t.Errorf("query projection missing: %q", got)
	}

	// An explicit --query is the user's own projection; leave it alone.
	if _, ok := ProjectCommand(models.ProviderAzure, `az vm list --query "[].name"`); ok {
		t.Error("explicit --query should not be re-projected")
	}
}

func TestProjectCommandAWSUnsupported(t *testing.T) {
	if _, ok := ProjectCommand(models.ProviderAWS, "aws ec2 describe-instances"); ok {
		t.Error("aws has no trusted server-side projection")
	}
}

func TestNeedsProjection(t *testing.T) {
	if NeedsProjection("short output") {
		t.Error("small output flagged for projection")
	}
	if !NeedsProjection(strings.Repeat(`{"name":"instance","status":"RUNNING"} `, 8_000)) {
		t.Error("large output not flagged")
	}
}

func TestLargeOutputNote(t *testing.T) {
	note := LargeOutputNote(42_000, "/tmp/outputs/sess-1.out")
	if !strings.Contains(note, "42K") || !strings.Contains(note, "/tmp/outputs/sess-1.out") {
		t.Errorf("note = %q", note)
	}
}
