package cloudexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// maxAccountFanOut bounds how many AWS accounts a single all-accounts query
// will touch concurrently.
const maxAccountFanOut = 10

// Dispatcher runs cloud CLI commands on behalf of the agent: it resolves the
// provider, mints isolated credentials, gates writes, executes, and shapes
// the result into the common envelope.
type Dispatcher struct {
	broker    *credentials.Broker
	runner    Runner
	capture   *capture.Capture
	confirmer fabric.Confirmer
	tailscale *TailscaleClient
	logger    *observability.Logger
	metrics   *observability.Metrics

	// outputDir receives full command outputs when a projection replaces
	// them in the envelope.
	outputDir string

	// baseEnv carries the non-secret variables every subprocess needs
	// (PATH, HOME). Credentials come only from the broker bundle.
	baseEnv map[string]string
}

// NewDispatcher wires the dispatcher. outputDir may be empty, in which case
// large outputs are truncated instead of persisted.
func NewDispatcher(broker *credentials.Broker, runner Runner, cap *capture.Capture, confirmer fabric.Confirmer, logger *observability.Logger, metrics *observability.Metrics, outputDir string) *Dispatcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if confirmer == nil {
		confirmer = fabric.AutoConfirmer{Approve: false}
	}
	return &Dispatcher{
		broker:    broker,
		runner:    runner,
		capture:   cap,
		confirmer: confirmer,
		tailscale: NewTailscaleClient(),
		logger:    logger,
		metrics:   metrics,
		outputDir: outputDir,
		baseEnv: map[string]string{
			"PATH": os.Getenv("PATH"),
			"HOME": os.Getenv("HOME"),
		},
	}
}

// DispatchRequest is one cloud_exec invocation.
type DispatchRequest struct {
	SessionID string
	UserID    string
	Command   string
	// Provider is the explicit provider hint; empty means detect from the
	// command and recent conversation.
	Provider models.Provider
	Mode     models.Mode
	// Account pins the query to one stored connection.
	Account string
	// AllAccounts forces the AWS fan-out even when detection would not
	// trigger it.
	AllAccounts bool
	// TimeoutSeconds overrides the tier policy when > 0.
	TimeoutSeconds int
	// RecentMessages feed provider detection.
	RecentMessages []string

	// confirmed marks a fan-out sub-request whose aggregate confirmation
	// already ran; the per-account execution must not prompt again.
	confirmed bool
}

func (r *DispatchRequest) kwargs() map[string]any {
	kw := map[string]any{"command": r.Command}
	if r.Provider != "" {
		kw["provider"] = string(r.Provider)
	}
	if r.Account != "" {
		kw["account"] = r.Account
	}
	if r.AllAccounts {
		kw["all_accounts"] = true
	}
	if r.TimeoutSeconds > 0 {
		kw["timeout"] = r.TimeoutSeconds
	}
	return kw
}

// Dispatch runs the full pipeline. It always returns an envelope; the
// outcome is recorded in the capture index on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) *models.ToolEnvelope {
	sig := capture.Signature("cloud_exec", req.kwargs())
	if d.capture != nil {
		d.capture.Start("cloud_exec", sig)
	}

	env := d.dispatch(ctx, req)
	if env.FinalCommand == "" {
		env.FinalCommand = req.Command
	}

	if d.capture != nil {
		d.capture.End(ctx, "cloud_exec", sig, env.Encode(), env.IsError())
	}
	if d.metrics != nil {
		status := "ok"
		if env.IsError() {
			status = "error"
		}
		d.metrics.ToolExecutions.WithLabelValues("cloud_exec", status).Inc()
	}
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, req *DispatchRequest) *models.ToolEnvelope {
	var preference []models.Provider
	if req.Provider != "" {
		preference = []models.Provider{req.Provider}
	}
	provider, ok := ResolveProvider(preference, append(append([]string{}, req.RecentMessages...), req.Command))
	if !ok {
		return models.ErrorEnvelope("", "could not determine the cloud provider for this command; pass provider explicitly")
	}

	if provider == models.ProviderTailscale {
		return d.dispatchTailscale(ctx, req)
	}

	// With no account pinned, an AWS command fans out across every stored
	// connection; a single connection keeps the plain path unless the caller
	// asked for the fan-out explicitly.
	if provider == models.ProviderAWS && req.Account == "" &&
		(req.AllAccounts || d.broker.CountAWSConnections(ctx, req.UserID) > 1) {
		return d.dispatchAllAccounts(ctx, req)
	}

	bundle, err := d.broker.Issue(ctx, credentials.Request{
		Principal: req.UserID,
		Provider:  provider,
		Mode:      req.Mode,
		Account:   req.Account,
	})
	if err != nil {
		return connectionErrorEnvelope(provider, err)
	}

	return d.execute(ctx, req, provider, bundle)
}

// execute runs one command under one credential bundle.
func (d *Dispatcher) execute(ctx context.Context, req *DispatchRequest, provider models.Provider, bundle *credentials.Bundle) *models.ToolEnvelope {
	command := NormalizeCommand(provider, req.Command)

	// Some config lookups must be answered from the injected env, not the
	// CLI's own config files.
	if answer, ok := InterceptConfigQuery(command, bundle.Env); ok {
		rc := 0
		return &models.ToolEnvelope{
			Success:      true,
			Provider:     string(provider),
			Command:      req.Command,
			FinalCommand: command,
			ReturnCode:   &rc,
			ChatOutput:   answer,
			ResourceID:   bundle.ResourceID,
			ResourceName: bundle.ResourceName,
			AuthMethod:   bundle.AuthMethod,
		}
	}

	command = InjectFlags(provider, command, bundle.Env)

	if req.Mode.ReadOnly() && !IsReadOnly(command) {
		env := models.ErrorEnvelope(models.CodeReadOnlyMode, "this session is read-only; switch to agent mode to run write operations")
		env.Provider = string(provider)
		env.Command = req.Command
		env.FinalCommand = command
		return env
	}

	if !IsReadOnly(command) && !req.confirmed {
		approved, err := d.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ToolName:  "cloud_exec",
			Summary:   ConfirmationSummary(string(provider), command),
		})
		if err != nil || !approved {
			env := models.CancelledEnvelope(command)
			env.Provider = string(provider)
			return env
		}
	}

	timeout := CommandTimeout(command, time.Duration(req.TimeoutSeconds)*time.Second)
	runEnv := d.mergedEnv(bundle.Env)

	// Azure authenticates the isolated config dir with a one-shot login
	// before the user command.
	if bundle.AuthCommand != "" {
		if envlp := d.runAuthCommand(ctx, provider, req, bundle, runEnv); envlp != nil {
			return envlp
		}
	}

	argv, err := SplitCommand(command)
	if err != nil {
		env := models.ErrorEnvelope("", err.Error())
		env.Provider = string(provider)
		env.Command = req.Command
		env.FinalCommand = command
		return env
	}

	res, err := d.runner.Run(ctx, argv, runEnv, timeout)
	if err != nil {
		return cliErrorEnvelope(provider, req.Command, command, err)
	}

	envlp := ShapeResult(provider, command, res, bundle)
	envlp.Command = req.Command
	envlp.FinalCommand = command

	if envlp.Success && envlp.ChatOutput != "" && NeedsProjection(envlp.ChatOutput) {
		d.applyProjection(ctx, req, provider, runEnv, command, timeout, envlp)
	}
	return envlp
}

// applyProjection persists the oversized output and retries the command with
// a narrowed field projection where the provider supports one.
func (d *Dispatcher) applyProjection(ctx context.Context, req *DispatchRequest, provider models.Provider, runEnv map[string]string, command string, timeout time.Duration, envlp *models.ToolEnvelope) {
	tokens := OutputTokens(envlp.ChatOutput)
	reference := d.persistOutput(req.SessionID, envlp.ChatOutput)

	projected, ok := ProjectCommand(provider, command)
	if !ok {
		// No trusted server-side projection (AWS): truncate with a pointer
		// to the persisted original.
		envlp.ChatOutput = sanitize.Truncate(envlp.ChatOutput, sanitize.DefaultMaxOutputBytes)
		envlp.LargeOutputNote = LargeOutputNote(tokens, reference)
		envlp.OriginalReference = reference
		return
	}

	argv, err := SplitCommand(projected)
	if err != nil {
		envlp.ChatOutput = sanitize.Truncate(envlp.ChatOutput, sanitize.DefaultMaxOutputBytes)
		envlp.LargeOutputNote = LargeOutputNote(tokens, reference)
		envlp.OriginalReference = reference
		return
	}

	res, err := d.runner.Run(ctx, argv, runEnv, timeout)
	if err != nil || res.ReturnCode != 0 {
		d.logger.Warn(ctx, "projection rerun failed, truncating original output",
			"provider", string(provider), "session_id", req.SessionID)
		envlp.ChatOutput = sanitize.Truncate(envlp.ChatOutput, sanitize.DefaultMaxOutputBytes)
		envlp.LargeOutputNote = LargeOutputNote(tokens, reference)
		envlp.OriginalReference = reference
		return
	}

	preview := sanitize.Clean(res.Stdout)
	envlp.ChatOutput = preview
	envlp.Data = preview
	envlp.FilterApplied = true
	envlp.FilterCommand = projected
	// The command that produced the returned output is the projection.
	envlp.FinalCommand = projected
	envlp.LargeOutputNote = LargeOutputNote(tokens, reference)
	envlp.OriginalReference = reference
	envlp.OutputFile = reference
}

// dispatchAllAccounts fans one AWS command across every stored account.
// Destructive commands are confirmed once for the aggregate, never per
// account.
func (d *Dispatcher) dispatchAllAccounts(ctx context.Context, req *DispatchRequest) *models.ToolEnvelope {
	command := NormalizeCommand(models.ProviderAWS, req.Command)

	if req.Mode.ReadOnly() && !IsReadOnly(command) {
		env := models.ErrorEnvelope(models.CodeReadOnlyMode, "this session is read-only; switch to agent mode to run write operations")
		env.Provider = string(models.ProviderAWS)
		env.Command = req.Command
		env.FinalCommand = command
		return env
	}

	bundles, err := d.broker.IssueAllAWS(ctx, req.UserID, req.Mode)
	if err != nil {
		return connectionErrorEnvelope(models.ProviderAWS, err)
	}
	if len(bundles) > maxAccountFanOut {
		bundles = bundles[:maxAccountFanOut]
	}

	if !IsReadOnly(command) {
		approved, err := d.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ToolName:  "cloud_exec",
			Summary: fmt.Sprintf("%s across %d accounts",
				ConfirmationSummary(string(models.ProviderAWS), command), len(bundles)),
		})
		if err != nil || !approved {
			env := models.CancelledEnvelope(command)
			env.Provider = string(models.ProviderAWS)
			return env
		}
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*models.ToolEnvelope, len(bundles))
	)
	for _, ab := range bundles {
		wg.Add(1)
		go func(ab credentials.AccountBundle) {
			defer wg.Done()
			sub := *req
			sub.AllAccounts = false
			sub.confirmed = true
			envlp := d.execute(ctx, &sub, models.ProviderAWS, ab.Bundle)

			mu.Lock()
			results[ab.AccountID] = envlp
			mu.Unlock()
		}(ab)
	}
	wg.Wait()

	rc := 0
	return &models.ToolEnvelope{
		Success:          true,
		Provider:         string(models.ProviderAWS),
		Command:          req.Command,
		FinalCommand:     command,
		ReturnCode:       &rc,
		MultiAccount:     true,
		AccountsQueried:  len(results),
		ResultsByAccount: results,
	}
}

func (d *Dispatcher) dispatchTailscale(ctx context.Context, req *DispatchRequest) *models.ToolEnvelope {
	bundle, err := d.broker.Issue(ctx, credentials.Request{
		Principal: req.UserID,
		Provider:  models.ProviderTailscale,
		Mode:      req.Mode,
	})
	if err != nil {
		return connectionErrorEnvelope(models.ProviderTailscale, err)
	}

	command := strings.TrimSpace(req.Command)
	if req.Mode.ReadOnly() && IsDestructive(command) {
		env := models.ErrorEnvelope(models.CodeReadOnlyMode, "this session is read-only; switch to agent mode to run write operations")
		env.Provider = string(models.ProviderTailscale)
		env.Command = req.Command
		return env
	}
	if IsDestructive(command) {
		approved, err := d.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ToolName:  "cloud_exec",
			Summary:   ConfirmationSummary(string(models.ProviderTailscale), command),
		})
		if err != nil || !approved {
			env := models.CancelledEnvelope(command)
			env.Provider = string(models.ProviderTailscale)
			return env
		}
	}

	envlp, err := d.tailscale.Execute(ctx, command, bundle.Env)
	if err != nil {
		env := models.ErrorEnvelope("", err.Error())
		env.Provider = string(models.ProviderTailscale)
		env.Command = req.Command
		return env
	}
	envlp.ResourceID = bundle.ResourceID
	envlp.ResourceName = bundle.ResourceName
	return envlp
}

// runAuthCommand runs the bundle's login command in the same isolated env.
// Returns a non-nil envelope only on failure.
func (d *Dispatcher) runAuthCommand(ctx context.Context, provider models.Provider, req *DispatchRequest, bundle *credentials.Bundle, runEnv map[string]string) *models.ToolEnvelope {
	argv, err := SplitCommand(bundle.AuthCommand)
	if err != nil {
		return models.ErrorEnvelope("", "malformed auth command for "+string(provider))
	}
	res, err := d.runner.Run(ctx, argv, runEnv, defaultTimeout)
	if err != nil {
		return cliErrorEnvelope(provider, req.Command, bundle.AuthCommand, err)
	}
	if res.ReturnCode != 0 {
		d.broker.Invalidate(req.UserID, provider)
		env := models.ErrorEnvelope("", "authentication failed for "+string(provider)+": "+filterStderr(sanitize.Clean(res.Stderr)))
		env.Provider = string(provider)
		env.Command = req.Command
		return env
	}
	return nil
}

// persistOutput writes a full command output to the session output dir and
// returns its path, or "" when persistence is disabled or fails.
func (d *Dispatcher) persistOutput(sessionID, output string) string {
	if d.outputDir == "" {
		return ""
	}
	name := fmt.Sprintf("%s-%d.out", sessionID, time.Now().UnixNano())
	path := filepath.Join(d.outputDir, name)
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return ""
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return ""
	}
	return path
}

func (d *Dispatcher) mergedEnv(bundleEnv map[string]string) map[string]string {
	merged := make(map[string]string, len(d.baseEnv)+len(bundleEnv))
	for k, v := range d.baseEnv {
		merged[k] = v
	}
	for k, v := range bundleEnv {
		merged[k] = v
	}
	return merged
}

func connectionErrorEnvelope(provider models.Provider, err error) *models.ToolEnvelope {
	env := models.ErrorEnvelope("", err.Error())
	env.Provider = string(provider)
	if errors.Is(err, credentials.ErrMissingConnection) || errors.Is(err, credentials.ErrExpiredRefreshToken) {
		env.Code = models.CodeRequiresConnection
		env.ChatOutput = "No usable " + string(provider) + " connection. Ask the user to connect the provider in settings before retrying."
	}
	return env
}

func cliErrorEnvelope(provider models.Provider, original, final string, err error) *models.ToolEnvelope {
	env := models.ErrorEnvelope("", err.Error())
	env.Provider = string(provider)
	env.Command = original
	env.FinalCommand = final
	if strings.Contains(err.Error(), "executable file not found") {
		env.Code = models.CodeCLIMissing
		env.Error = "required CLI is not installed on the execution host: " + err.Error()
	}
	return env
}
