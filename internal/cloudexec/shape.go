package cloudexec

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// ExecResult is the raw subprocess outcome handed to the shaper.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ReturnCode int
	TimedOut   bool
}

// ShapeResult turns a raw CLI result into the common tool envelope:
// known list payloads get a compact summary, stderr is scanned for soft
// failures, and broker identity fields are attached for the UI.
func ShapeResult(provider models.Provider, command string, res *ExecResult, bundle *credentials.Bundle) *models.ToolEnvelope {
	rc := res.ReturnCode
	env := &models.ToolEnvelope{
		Success:    rc == 0,
		Provider:   string(provider),
		Command:    command,
		ReturnCode: &rc,
	}
	if bundle != nil {
		env.ResourceID = bundle.ResourceID
		env.ResourceName = bundle.ResourceName
		env.AuthMethod = bundle.AuthMethod
	}

	if res.TimedOut {
		env.Success = false
		env.Code = models.CodeTimeout
		env.Error = "command timed out"
		env.ChatOutput = sanitize.Clean(res.Stdout)
		return env
	}

	stdout := sanitize.Clean(res.Stdout)
	stderr := sanitize.Clean(res.Stderr)

	if rc != 0 {
		env.Error = filterStderr(stderr)
		if env.Error == "" {
			env.Error = "command failed with exit code " + strconv.Itoa(rc)
		}
		env.ChatOutput = stdout
		return env
	}

	// Explicit error tokens on a zero exit are a soft failure: surface the
	// warning but keep stdout.
	if softError(stderr) {
		env.Success = false
		env.Error = filterStderr(stderr)
		env.ChatOutput = stdout
		return env
	}

	// Serial-port output must survive untruncated; the pagination hint at
	// the tail is how callers page further.
	if strings.Contains(command, "get-serial-port-output") || strings.Contains(command, "get-console-output") {
		env.ChatOutput = stdout
		return env
	}

	if shaped := shapeJSONList(provider, command, stdout); shaped != nil {
		env.Data = shaped
		return env
	}

	env.ChatOutput = stdout
	return env
}

// softError detects failure text on a zero exit code.
func softError(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "error:") || strings.Contains(lower, "fatal:")
}

// filterStderr drops CLI noise (update nags, warnings) and keeps the lines
// that explain the failure.
func filterStderr(stderr string) string {
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "warning:") ||
			strings.Contains(lower, "update available") ||
			strings.Contains(lower, "to update, run") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

// shapeJSONList summarises known list structures. Returns nil when the
// stdout is not JSON or the shape is unrecognised, in which case the raw
// output is forwarded.
func shapeJSONList(provider models.Provider, command string, stdout string) map[string]any {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}

	switch provider {
	case models.ProviderGCP:
		if strings.Contains(command, "compute instances list") {
			return shapeGCPInstances(trimmed)
		}
	case models.ProviderAWS:
		if strings.Contains(command, "describe-instances") {
			return shapeEC2Instances(trimmed)
		}
	case models.ProviderOVH:
		if strings.Contains(command, "flavor") {
			return shapeOVHFlavors(trimmed)
		}
	}
	return nil
}

func shapeGCPInstances(payload string) map[string]any {
	var items []map[string]any
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil
	}

	resources := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := map[string]any{
			"name":        item["name"],
			"status":      item["status"],
			"machineType": lastPathSegment(str(item["machineType"])),
			"zone":        lastPathSegment(str(item["zone"])),
		}
		if nics, ok := item["networkInterfaces"].([]any); ok && len(nics) > 0 {
			if nic, ok := nics[0].(map[string]any); ok {
				entry["internalIP"] = nic["networkIP"]
				if configs, ok := nic["accessConfigs"].([]any); ok && len(configs) > 0 {
					if cfg, ok := configs[0].(map[string]any); ok {
						entry["externalIP"] = cfg["natIP"]
					}
				}
			}
		}
		resources = append(resources, entry)
	}
	return map[string]any{"resources": resources, "count": len(resources)}
}

func shapeEC2Instances(payload string) map[string]any {
	var out struct {
		Reservations []struct {
			Instances []map[string]any `json:"Instances"`
		} `json:"Reservations"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil
	}

	var resources []map[string]any
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			entry := map[string]any{
				"instanceId": inst["InstanceId"],
				"type":       inst["InstanceType"],
				"publicIP":   inst["PublicIpAddress"],
				"privateIP":  inst["PrivateIpAddress"],
			}
			if state, ok := inst["State"].(map[string]any); ok {
				entry["state"] = state["Name"]
			}
			if placement, ok := inst["Placement"].(map[string]any); ok {
				entry["availabilityZone"] = placement["AvailabilityZone"]
			}
			if tags, ok := inst["Tags"].([]any); ok {
				for _, t := range tags {
					if tag, ok := t.(map[string]any); ok && tag["Key"] == "Name" {
						entry["name"] = tag["Value"]
					}
				}
			}
			resources = append(resources, entry)
		}
	}
	if resources == nil {
		return nil
	}
	return map[string]any{"resources": resources, "count": len(resources)}
}

func shapeOVHFlavors(payload string) map[string]any {
	var items []map[string]any
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil
	}

	flavors := make([]map[string]any, 0, len(items))
	for _, item := range items {
		flavors = append(flavors, map[string]any{
			"id":    item["id"],
			"name":  item["name"],
			"vcpus": item["vcpus"],
			"ram":   item["ram"],
			"disk":  item["disk"],
		})
	}

	cheapest := make([]map[string]any, len(flavors))
	copy(cheapest, flavors)
	sort.SliceStable(cheapest, func(i, j int) bool {
		return num(cheapest[i]["ram"]) < num(cheapest[j]["ram"])
	})
	if len(cheapest) > 5 {
		cheapest = cheapest[:5]
	}

	return map[string]any{
		"flavors":          flavors,
		"cheapest_options": cheapest,
		"warning":          "Use the UUID `id` field for downstream calls, not the flavor name.",
	}
}

func lastPathSegment(s string) string {
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

