package cloudexec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// Tailscale has no CLI on the execution host. Commands addressed to it are
// translated into admin API calls against api.tailscale.com, authenticated
// with the API key from the credential bundle.

const tailscaleAPIBase = "https://api.tailscale.com/api/v2"

// TailscaleClient translates command-shaped requests into REST calls.
type TailscaleClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewTailscaleClient() *TailscaleClient {
	return &TailscaleClient{
		BaseURL:    tailscaleAPIBase,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// tailscaleRoute maps a (verb, resource) pair to an API endpoint. {tailnet}
// and {id} are substituted at call time.
type tailscaleRoute struct {
	method string
	path   string
}

var tailscaleRoutes = map[string]tailscaleRoute{
	"list devices":  {http.MethodGet, "/tailnet/{tailnet}/devices"},
	"get device":    {http.MethodGet, "/device/{id}"},
	"delete device": {http.MethodDelete, "/device/{id}"},
	"list keys":     {http.MethodGet, "/tailnet/{tailnet}/keys"},
	"get key":       {http.MethodGet, "/tailnet/{tailnet}/keys/{id}"},
	"delete key":    {http.MethodDelete, "/tailnet/{tailnet}/keys/{id}"},
	"get acl":       {http.MethodGet, "/tailnet/{tailnet}/acl"},
	"get dns":       {http.MethodGet, "/tailnet/{tailnet}/dns/nameservers"},
	"list routes":   {http.MethodGet, "/tailnet/{tailnet}/devices/{id}/routes"},
	"get settings":  {http.MethodGet, "/tailnet/{tailnet}/settings"},
	"status":        {http.MethodGet, "/tailnet/{tailnet}/devices"},
}

// Execute interprets a tailscale command string ("tailscale list devices",
// "tailscale delete device <id>") and performs the matching API call. The
// env map carries TAILSCALE_API_KEY and TAILSCALE_TAILNET from the broker.
func (c *TailscaleClient) Execute(ctx context.Context, command string, env map[string]string) (*models.ToolEnvelope, error) {
	apiKey := env["TAILSCALE_API_KEY"]
	tailnet := env["TAILSCALE_TAILNET"]
	if apiKey == "" {
		return nil, fmt.Errorf("tailscale api key missing from credential bundle")
	}
	if tailnet == "" {
		tailnet = "-" // API shorthand for the key's default tailnet
	}

	verb, resource, id, err := parseTailscaleCommand(command)
	if err != nil {
		return nil, err
	}

	key := verb
	if resource != "" {
		key += " " + resource
	}
	route, ok := tailscaleRoutes[key]
	if !ok {
		return nil, fmt.Errorf("unsupported tailscale operation: %s %s", verb, resource)
	}
	if strings.Contains(route.path, "{id}") && id == "" {
		return nil, fmt.Errorf("tailscale %s %s requires a resource id", verb, resource)
	}

	path := strings.ReplaceAll(route.path, "{tailnet}", url.PathEscape(tailnet))
	path = strings.ReplaceAll(path, "{id}", url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, route.method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tailscale api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("tailscale api response: %w", err)
	}

	rc := 0
	envlp := &models.ToolEnvelope{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		Provider:   string(models.ProviderTailscale),
		Command:    command,
		ReturnCode: &rc,
		AuthMethod: "api_key",
	}
	if !envlp.Success {
		rc = 1
		envlp.Error = fmt.Sprintf("tailscale api returned %d: %s", resp.StatusCode, sanitize.Truncate(string(body), 2048))
		return envlp, nil
	}
	envlp.ChatOutput = sanitize.Clean(string(body))
	return envlp, nil
}

// parseTailscaleCommand splits "tailscale <verb> <resource> [id]" into its
// parts. "status" is accepted as a bare resource.
func parseTailscaleCommand(command string) (verb, resource, id string, err error) {
	tokens := strings.Fields(strings.TrimSpace(command))
	if len(tokens) > 0 && tokens[0] == "tailscale" {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return "", "", "", fmt.Errorf("empty tailscale command")
	}

	if tokens[0] == "status" {
		return "status", "", "", nil
	}
	if len(tokens) < 2 {
		return "", "", "", fmt.Errorf("tailscale command needs a verb and resource: %q", command)
	}

	verb = strings.ToLower(tokens[0])
	resource = normalizeTailscaleResource(tokens[1])
	if len(tokens) > 2 {
		id = tokens[2]
	}
	return verb, resource, id, nil
}

func normalizeTailscaleResource(resource string) string {
	switch strings.ToLower(resource) {
	case "device", "devices", "machine", "machines":
		if strings.HasSuffix(resource, "s") {
			return "devices"
		}
		return "device"
	case "key", "keys", "auth-key", "auth-keys", "authkeys":
		if strings.HasSuffix(resource, "s") {
			return "keys"
		}
		return "key"
	case "acl", "acls", "policy":
		return "acl"
	case "dns", "nameservers":
		return "dns"
	case "route", "routes":
		return "routes"
	case "settings", "setting":
		return "settings"
	}
	return strings.ToLower(resource)
}
