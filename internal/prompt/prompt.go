package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/auroraops/aurora/pkg/models"
)

// Segment is one ordered block of the system prompt. Breakpoint marks a
// vendor cache boundary after the segment.
type Segment struct {
	Name       string
	Content    string
	Breakpoint bool
}

// RCAContext is injected into the ephemeral segment for background
// investigation sessions.
type RCAContext struct {
	Source       string
	Providers    []string
	Integrations []string
	Trigger      map[string]string
}

// Options holds the per-turn inputs the prompt is assembled from.
type Options struct {
	ToolsManifest string
	Providers     []models.Provider
	Mode          models.Mode
	HasZip        bool
	RCA           *RCAContext
}

// Build assembles the five ordered prompt segments. Stable segments come
// first so the vendor prompt cache can reuse the prefix across turns; the
// ephemeral segment is always last and never cached.
func Build(opts Options) []Segment {
	return []Segment{
		{Name: "tools_manifest", Content: toolsManifest(opts), Breakpoint: true},
		{Name: "system_invariant", Content: systemInvariant, Breakpoint: true},
		{Name: "provider_constraints", Content: providerConstraints(opts.Providers), Breakpoint: true},
		{Name: "regional_rules", Content: regionalRules(opts.Providers), Breakpoint: true},
		{Name: "ephemeral_rules", Content: ephemeralRules(opts)},
	}
}

// Join renders the segments as a single prompt string for providers without
// prefix caching.
func Join(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if content := strings.TrimSpace(seg.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolsManifest(opts Options) string {
	if opts.ToolsManifest != "" {
		return opts.ToolsManifest
	}
	return "You operate cloud infrastructure through the registered tools. Prefer cloud_exec for CLI work, iac_tool for Terraform, and aurora_status lookups before acting on incidents."
}

const systemInvariant = `You are Aurora, a cloud operations engineer embedded in the user's infrastructure.

Rules that always apply:
- Investigate before you mutate: read state with list/describe commands before any write.
- One change at a time; verify the result before the next change.
- Never print or echo credentials, tokens, or key material, and never write them to files.
- When a tool reports user_cancelled, accept the decision; do not retry the operation through another tool.
- Report command failures verbatim enough that the user can reproduce them.`

// providerDos lists per-provider DOs/DON'Ts included when the provider is
// enabled for the session.
var providerDos = map[models.Provider]string{
	models.ProviderGCP: `GCP:
- The active project comes from the issued credentials; do not run 'gcloud config set project'.
- Use --format=json for reads; rely on the injected --project flag.
- For GKE, fetch cluster credentials before kubectl.`,
	models.ProviderAWS: `AWS:
- Credentials are temporary STS sessions; do not call 'aws configure'.
- Use --output json; name the region explicitly when it differs from the default.
- Prefer describe-* calls over wide queries; they are paginated.`,
	models.ProviderAzure: `Azure:
- The subscription is pre-selected; do not run 'az account set'.
- 'az login' has already happened inside the session; never invoke it yourself.`,
	models.ProviderOVH: `OVH:
- Flavor and image references must use UUID ids, not display names.
- Public cloud operations go through 'ovhcloud'; the region list is per-service.`,
	models.ProviderScaleway: `Scaleway:
- Use 'scw' with -o json for reads; zones (fr-par-1) are narrower than regions (fr-par).`,
	models.ProviderTailscale: `Tailscale:
- There is no local CLI; device, key, ACL and DNS operations are API calls expressed as 'tailscale <verb> <resource> [id]'.`,
}

func providerConstraints(providers []models.Provider) string {
	if len(providers) == 0 {
		providers = models.AllProviders
	}
	blocks := make([]string, 0, len(providers))
	for _, p := range providers {
		if block, ok := providerDos[p]; ok {
			blocks = append(blocks, block)
		}
	}
	return "Provider constraints:\n\n" + strings.Join(blocks, "\n\n")
}

var providerRegionHints = map[models.Provider]string{
	models.ProviderGCP:      "GCP defaults: region us-central1, zone us-central1-a unless the resources at hand say otherwise.",
	models.ProviderAWS:      "AWS defaults: us-east-1 unless the connection or the resources indicate another region.",
	models.ProviderAzure:    "Azure defaults: location eastus; resource groups pin their own locations.",
	models.ProviderOVH:      "OVH regions are datacentre codes (GRA, SBG, BHS); check the service's region list.",
	models.ProviderScaleway: "Scaleway defaults: region fr-par, zone fr-par-1.",
}

func regionalRules(providers []models.Provider) string {
	if len(providers) == 0 {
		providers = models.AllProviders
	}
	hints := make([]string, 0, len(providers))
	for _, p := range providers {
		if hint, ok := providerRegionHints[p]; ok {
			hints = append(hints, "- "+hint)
		}
	}
	if len(hints) == 0 {
		return ""
	}
	return "Regional rules:\n" + strings.Join(hints, "\n")
}

func ephemeralRules(opts Options) string {
	var lines []string

	switch {
	case opts.Mode.ReadOnly():
		lines = append(lines, "This session is READ-ONLY. Write operations will be rejected; describe what you would change instead of attempting it.")
	case opts.Mode.Background():
		lines = append(lines, "This is a background investigation. There is no user to confirm actions: stay read-only, gather evidence, and make decisions autonomously where the rules allow.")
	}

	if opts.HasZip {
		lines = append(lines, "The user attached an archive. Inspect its manifest before assuming its contents; reference files by their archive paths.")
	}

	if opts.RCA != nil {
		lines = append(lines, rcaContextBlock(opts.RCA))
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n\n")
}

func rcaContextBlock(rca *RCAContext) string {
	var b strings.Builder
	b.WriteString("Incident investigation context:\n")
	fmt.Fprintf(&b, "- Source: %s\n", rca.Source)
	if len(rca.Providers) > 0 {
		fmt.Fprintf(&b, "- Providers in scope: %s\n", strings.Join(rca.Providers, ", "))
	}
	if len(rca.Integrations) > 0 {
		fmt.Fprintf(&b, "- Connected integrations: %s\n", strings.Join(rca.Integrations, ", "))
	}
	if len(rca.Trigger) > 0 {
		keys := make([]string, 0, len(rca.Trigger))
		for k := range rca.Trigger {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("- Trigger metadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %s\n", k, rca.Trigger[k])
		}
	}
	b.WriteString("Investigate the root cause. Collect evidence with read-only commands; do not attempt remediation.")
	return b.String()
}
