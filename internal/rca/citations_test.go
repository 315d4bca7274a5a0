package rca

import (
	"testing"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/pkg/models"
)

func TestCandidateCitations(t *testing.T) {
	records := []capture.Record{
		{ToolName: "cloud_exec", Completed: true,
			Output: `{"success":true,"command":"aws ec2 describe-instances","chat_output":"2 instances"}`},
		{ToolName: "cloud_exec", Completed: true, IsError: true,
			Output: `{"success":false,"error":"access denied"}`},
		{ToolName: "iac_tool", Completed: false},
		{ToolName: "cloud_exec", Completed: true,
			Output: `{"success":true,"command":"aws logs tail /app","final_command":"aws logs tail /app | head -50"}`},
	}

	got := CandidateCitations("inc-1", records)
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	if got[0].Index != 1 || got[1].Index != 2 {
		t.Errorf("indexes = %d, %d", got[0].Index, got[1].Index)
	}
	if got[0].Command != "aws ec2 describe-instances" {
		t.Errorf("command = %q", got[0].Command)
	}
	// The projected command wins when a large-output retry rewrote it.
	if got[1].Command != "aws logs tail /app | head -50" {
		t.Errorf("final command = %q", got[1].Command)
	}
	if got[0].IncidentID != "inc-1" {
		t.Errorf("incident id = %q", got[0].IncidentID)
	}
}

func TestCitedIndexes(t *testing.T) {
	cited := CitedIndexes("Pool exhausted [2]. Latency rose at 14:02 [1], confirmed twice [1].")
	if len(cited) != 2 || !cited[1] || !cited[2] {
		t.Errorf("cited = %v", cited)
	}
	if len(CitedIndexes("no markers here")) != 0 {
		t.Error("markers found in plain text")
	}
}

func TestFilterCitedKeepsOnlyReferenced(t *testing.T) {
	candidates := []models.Citation{
		{IncidentID: "inc-1", Index: 1, ToolName: "cloud_exec"},
		{IncidentID: "inc-1", Index: 2, ToolName: "cloud_exec"},
		{IncidentID: "inc-1", Index: 3, ToolName: "iac_tool"},
	}

	got := FilterCited("Root cause confirmed [3]. Contributing factor [1].", candidates)
	if len(got) != 2 {
		t.Fatalf("cited = %d, want 2", len(got))
	}
	if got[0].Index != 1 || got[1].Index != 3 {
		t.Errorf("kept indexes = %d, %d", got[0].Index, got[1].Index)
	}

	// Markers pointing at nonexistent evidence persist nothing extra.
	if got := FilterCited("See [9].", candidates); len(got) != 0 {
		t.Errorf("phantom citation persisted: %v", got)
	}
}

func TestExcerptBounded(t *testing.T) {
	long := make([]byte, excerptLimit*2)
	for i := range long {
		long[i] = 'x'
	}
	if n := len(excerpt(string(long))); n != excerptLimit {
		t.Errorf("excerpt length = %d", n)
	}
	if excerpt("short") != "short" {
		t.Error("short output mangled")
	}
}
