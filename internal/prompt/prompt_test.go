package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/auroraops/aurora/pkg/models"
)

func TestBuildSegmentOrder(t *testing.T) {
	segments := Build(Options{Mode: models.ModeAgent, Providers: []models.Provider{models.ProviderGCP}})

	wantOrder := []string{"tools_manifest", "system_invariant", "provider_constraints", "regional_rules", "ephemeral_rules"}
	if len(segments) != len(wantOrder) {
		t.Fatalf("segments = %d, want %d", len(segments), len(wantOrder))
	}
	for i, name := range wantOrder {
		if segments[i].Name != name {
			t.Errorf("segment %d = %s, want %s", i, segments[i].Name, name)
		}
	}

	// Stable segments carry cache breakpoints; the ephemeral one never does.
	for _, seg := range segments[:4] {
		if !seg.Breakpoint {
			t.Errorf("segment %s missing breakpoint", seg.Name)
		}
	}
	if segments[4].Breakpoint {
		t.Error("ephemeral segment must not be a cache boundary")
	}
}

func TestProviderConstraintsScoped(t *testing.T) {
	segments := Build(Options{Providers: []models.Provider{models.ProviderGCP}, Mode: models.ModeAgent})
	constraints := segments[2].Content
	if !strings.Contains(constraints, "GCP:") {
		t.Error("gcp constraints missing")
	}
	if strings.Contains(constraints, "AWS:") {
		t.Error("constraints include a provider that is not enabled")
	}
}

func TestEphemeralRulesByMode(t *testing.T) {
	readonly := Join(Build(Options{Mode: models.ModeAsk}))
	if !strings.Contains(readonly, "READ-ONLY") {
		t.Error("ask mode missing read-only warning")
	}

	background := Join(Build(Options{Mode: models.ModeBackground}))
	if !strings.Contains(background, "background investigation") {
		t.Error("background mode missing autonomy rules")
	}

	zip := Join(Build(Options{Mode: models.ModeAgent, HasZip: true}))
	if !strings.Contains(zip, "archive") {
		t.Error("zip guidance missing")
	}
}

func TestRCAContextSegment(t *testing.T) {
	rca := &RCAContext{
		Source:       "pagerduty",
		Providers:    []string{"aws"},
		Integrations: []string{"github", "slack"},
		Trigger:      map[string]string{"alert_id": "alrt-1", "service": "checkout"},
	}
	out := Join(Build(Options{Mode: models.ModeBackground, RCA: rca}))

	for _, want := range []string{"pagerduty", "aws", "github", "alert_id: alrt-1", "root cause"} {
		if !strings.Contains(out, want) {
			t.Errorf("rca segment missing %q", want)
		}
	}
}

func TestCacheReusesStablePrefix(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	opts := Options{Providers: []models.Provider{models.ProviderGCP}, Mode: models.ModeAgent}
	first := cache.Segments(models.ProviderGCP, "tenant-1", opts)

	// Second call with a different mode reuses the prefix but rebuilds the
	// ephemeral tail.
	opts.Mode = models.ModeAsk
	second := cache.Segments(models.ProviderGCP, "tenant-1", opts)

	for i := 0; i < 4; i++ {
		if first[i].Content != second[i].Content {
			t.Errorf("stable segment %s changed between turns", first[i].Name)
		}
	}
	if !strings.Contains(second[4].Content, "READ-ONLY") {
		t.Error("ephemeral segment not rebuilt")
	}

	// Expired entries rebuild and are pruned from the map.
	cache.now = func() time.Time { return now.Add(time.Hour) }
	third := cache.Segments(models.ProviderGCP, "tenant-1", opts)
	if len(third) != 5 {
		t.Fatalf("segments = %d", len(third))
	}
	if len(cache.entries) != 1 {
		t.Errorf("entries = %d, want expired prefix pruned", len(cache.entries))
	}
}

func TestCacheRebuildsWhenStableInputsChange(t *testing.T) {
	cache := NewCache()

	opts := Options{
		ToolsManifest: "cloud_exec: run cloud CLI commands",
		Providers:     []models.Provider{models.ProviderGCP},
		Mode:          models.ModeAgent,
	}
	first := cache.Segments(models.ProviderGCP, "tenant-1", opts)

	// A refreshed tool set must reach the prompt immediately, not after the
	// TTL lapses.
	opts.ToolsManifest = "cloud_exec: run cloud CLI commands\nmcp_github_search: search repositories"
	second := cache.Segments(models.ProviderGCP, "tenant-1", opts)
	if first[0].Content == second[0].Content {
		t.Error("tools manifest segment served stale after manifest change")
	}
	if !strings.Contains(second[0].Content, "mcp_github_search") {
		t.Errorf("manifest segment = %q", second[0].Content)
	}

	// A changed provider set re-renders the constraint segments too.
	opts.Providers = []models.Provider{models.ProviderGCP, models.ProviderAWS}
	third := cache.Segments(models.ProviderGCP, "tenant-1", opts)
	if !strings.Contains(third[2].Content, "AWS:") {
		t.Errorf("constraints = %q, want aws constraints after provider change", third[2].Content)
	}
}
