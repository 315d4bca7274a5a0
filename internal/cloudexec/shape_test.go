package cloudexec

import (
	"strings"
	"testing"

	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/pkg/models"
)

const gcpInstancesJSON = `[
  {
    "name": "web-1",
    "status": "RUNNING",
    "machineType": "https://www.googleapis.com/compute/v1/projects/acme/zones/us-central1-a/machineTypes/e2-medium",
    "zone": "https://www.googleapis.com/compute/v1/projects/acme/zones/us-central1-a",
    "networkInterfaces": [
      {"networkIP": "10.0.0.2", "accessConfigs": [{"natIP": "34.1.2.3"}]}
    ]
  }
]`

const ec2InstancesJSON = `{
  "Reservations": [
    {
      "Instances": [
        {
          "InstanceId": "i-0abc123",
          "InstanceType": "t3.micro",
          "State": {"Name": "running"},
          "Placement": {"AvailabilityZone": "eu-west-1a"},
          "PrivateIpAddress": "172.31.5.10",
          "Tags": [{"Key": "Name", "Value": "api-1"}]
        }
      ]
    }
  ]
}`

func TestShapeGCPInstances(t *testing.T) {
	bundle := &credentials.Bundle{ResourceID: "acme-prod", ResourceName: "Acme Prod", AuthMethod: "service_account_impersonation"}
	env := ShapeResult(models.ProviderGCP, "gcloud compute instances list --format=json",
		&ExecResult{Stdout: gcpInstancesJSON}, bundle)

	if !env.Success {
		t.Fatalf("unexpected failure: %+v", env)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want map", env.Data)
	}
	if data["count"] != 1 {
		t.Errorf("count = %v, want 1", data["count"])
	}
	resources := data["resources"].([]map[string]any)
	got := resources[0]
	if got["name"] != "web-1" || got["status"] != "RUNNING" {
		t.Errorf("resource = %+v", got)
	}
	if got["machineType"] != "e2-medium" || got["zone"] != "us-central1-a" {
		t.Errorf("url fields not shortened: %+v", got)
	}
	if got["externalIP"] != "34.1.2.3" || got["internalIP"] != "10.0.0.2" {
		t.Errorf("ips not extracted: %+v", got)
	}
	if env.ResourceID != "acme-prod" || env.AuthMethod != "service_account_impersonation" {
		t.Errorf("bundle identity not attached: %+v", env)
	}
}

func TestShapeEC2Instances(t *testing.T) {
	env := ShapeResult(models.ProviderAWS, "aws ec2 describe-instances --output json",
		&ExecResult{Stdout: ec2InstancesJSON}, nil)

	data := env.Data.(map[string]any)
	resources := data["resources"].([]map[string]any)
	got := resources[0]
	if got["instanceId"] != "i-0abc123" || got["state"] != "running" {
		t.Errorf("resource = %+v", got)
	}
	if got["availabilityZone"] != "eu-west-1a" || got["name"] != "api-1" {
		t.Errorf("placement or tag missing: %+v", got)
	}
}

func TestShapeOVHFlavors(t *testing.T) {
	payload := `[
	  {"id": "c2a7...uuid", "name": "b2-7", "vcpus": 2, "ram": 7000, "disk": 50},
	  {"id": "d911...uuid", "name": "d2-2", "vcpus": 1, "ram": 2000, "disk": 25}
	]`
	env := ShapeResult(models.ProviderOVH, "ovhcloud cloud flavor list",
		&ExecResult{Stdout: payload}, nil)

	data := env.Data.(map[string]any)
	cheapest := data["cheapest_options"].([]map[string]any)
	if cheapest[0]["name"] != "d2-2" {
		t.Errorf("cheapest_options not ordered by ram: %+v", cheapest)
	}
	if !strings.Contains(data["warning"].(string), "UUID") {
		t.Errorf("missing uuid warning: %v", data["warning"])
	}
}

func TestShapeSoftFailure(t *testing.T) {
	env := ShapeResult(models.ProviderGCP, "gcloud compute instances list",
		&ExecResult{Stdout: "partial output", Stderr: "ERROR: (gcloud) quota exceeded"}, nil)
	if env.Success {
		t.Error("error: on stderr with rc 0 should be a soft failure")
	}
	if env.ChatOutput != "partial output" {
		t.Errorf("stdout dropped: %q", env.ChatOutput)
	}
}

func TestShapeStderrNoiseFiltered(t *testing.T) {
	env := ShapeResult(models.ProviderGCP, "gcloud compute instances describe nope",
		&ExecResult{Stderr: "WARNING: update available\nERROR: instance not found", ReturnCode: 1}, nil)
	if env.Success {
		t.Fatal("nonzero rc should fail")
	}
	if strings.Contains(env.Error, "update available") {
		t.Errorf("warning noise kept: %q", env.Error)
	}
	if !strings.Contains(env.Error, "instance not found") {
		t.Errorf("real error lost: %q", env.Error)
	}
}

func TestShapeSerialPortPassthrough(t *testing.T) {
	out := "kernel panic trace line 1\nline 2"
	env := ShapeResult(models.ProviderGCP, "gcloud compute instances get-serial-port-output web-1",
		&ExecResult{Stdout: out}, nil)
	if env.ChatOutput != out {
		t.Errorf("serial output modified: %q", env.ChatOutput)
	}
}

func TestShapeTimeout(t *testing.T) {
	env := ShapeResult(models.ProviderAWS, "aws rds create-db-instance",
		&ExecResult{TimedOut: true, ReturnCode: -1}, nil)
	if env.Success || env.Code != models.CodeTimeout {
		t.Errorf("timeout envelope = %+v", env)
	}
}
