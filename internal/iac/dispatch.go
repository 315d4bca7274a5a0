package iac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/cloudexec"
	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// Action names accepted by iac_tool.
const (
	ActionWrite     = "write"
	ActionFmt       = "fmt"
	ActionValidate  = "validate"
	ActionRefresh   = "refresh"
	ActionOutputs   = "outputs"
	ActionStateList = "state_list"
	ActionStateShow = "state_show"
	ActionStatePull = "state_pull"
	ActionPlan      = "plan"
	ActionApply     = "apply"
	ActionDestroy   = "destroy"
)

// writeActions require agent mode; everything else is allowed read-only.
var writeActions = map[string]bool{
	ActionWrite: true, ActionPlan: true, ActionApply: true, ActionDestroy: true,
}

const (
	planTimeout  = 300 * time.Second
	applyTimeout = 1200 * time.Second
)

// GitHubChecker reports whether the user has a GitHub connection, which
// decides between the commit hand-off and the connect nudge.
type GitHubChecker interface {
	Connected(ctx context.Context, userID string) bool
}

// SinkProvider resolves the live event sink for a session.
type SinkProvider interface {
	SessionSink(userID, sessionID string) fabric.Sink
}

// Dispatcher implements the iac_tool pipeline over per-session terraform
// workspaces.
type Dispatcher struct {
	workspace *Workspace
	broker    *credentials.Broker
	runner    cloudexec.Runner
	capture   *capture.Capture
	confirmer fabric.Confirmer
	sinks     SinkProvider
	github    GitHubChecker
	logger    *observability.Logger
	metrics   *observability.Metrics

	terraformBin string
}

func NewDispatcher(workspace *Workspace, broker *credentials.Broker, runner cloudexec.Runner, capt *capture.Capture, confirmer fabric.Confirmer, sinks SinkProvider, github GitHubChecker, logger *observability.Logger, metrics *observability.Metrics, terraformBin string) *Dispatcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if confirmer == nil {
		confirmer = fabric.AutoConfirmer{Approve: false}
	}
	if terraformBin == "" {
		terraformBin = "terraform"
	}
	return &Dispatcher{
		workspace:    workspace,
		broker:       broker,
		runner:       runner,
		capture:      capt,
		confirmer:    confirmer,
		sinks:        sinks,
		github:       github,
		logger:       logger,
		metrics:      metrics,
		terraformBin: terraformBin,
	}
}

// Request is one iac_tool invocation.
type Request struct {
	SessionID string
	UserID    string
	Action    string
	// Path is the target .tf file for write, or the resource address for
	// state_show.
	Path    string
	Content string
	Vars    map[string]string
	// AutoApprove skips the confirmation gate; set for background sessions
	// that pre-authorise their plan.
	AutoApprove    bool
	Mode           models.Mode
	Provider       models.Provider
	RecentMessages []string
}

func (r *Request) kwargs() map[string]any {
	kw := map[string]any{"action": r.Action}
	if r.Path != "" {
		kw["path"] = r.Path
	}
	if r.Content != "" {
		kw["content"] = r.Content
	}
	if len(r.Vars) > 0 {
		vars := make(map[string]any, len(r.Vars))
		for k, v := range r.Vars {
			vars[k] = v
		}
		kw["vars"] = vars
	}
	if r.AutoApprove {
		kw["auto_approve"] = true
	}
	return kw
}

// Dispatch runs one iac_tool action. Always returns an envelope; the result
// is recorded in the capture index.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *models.ToolEnvelope {
	sig := capture.Signature("iac_tool", req.kwargs())
	if d.capture != nil {
		d.capture.Start("iac_tool", sig)
	}

	env := d.dispatch(ctx, req)

	if d.capture != nil {
		d.capture.End(ctx, "iac_tool", sig, env.Encode(), env.IsError())
	}
	if d.metrics != nil {
		status := "ok"
		if env.IsError() {
			status = "error"
		}
		d.metrics.ToolExecutions.WithLabelValues("iac_tool", status).Inc()
	}
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) *models.ToolEnvelope {
	if req.Mode.ReadOnly() && writeActions[req.Action] {
		return models.ErrorEnvelope(models.CodeReadOnlyMode,
			"this session is read-only; iac "+req.Action+" is not allowed in ask mode")
	}

	dir, err := d.workspace.SessionDir(req.UserID, req.SessionID)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}

	switch req.Action {
	case ActionWrite:
		return d.write(ctx, req, dir)
	case ActionFmt:
		return d.runSimple(ctx, req, dir, planTimeout, "fmt", "-recursive")
	case ActionValidate:
		return d.runSimple(ctx, req, dir, planTimeout, "validate")
	case ActionRefresh:
		return d.runSimple(ctx, req, dir, planTimeout, "refresh")
	case ActionOutputs:
		return d.outputs(ctx, req, dir)
	case ActionStateList:
		return d.runSimple(ctx, req, dir, planTimeout, "state", "list")
	case ActionStateShow:
		if req.Path == "" {
			return models.ErrorEnvelope("", "state_show requires a resource address in path")
		}
		return d.runSimple(ctx, req, dir, planTimeout, "state", "show", req.Path)
	case ActionStatePull:
		return d.runSimple(ctx, req, dir, planTimeout, "state", "pull")
	case ActionPlan:
		return d.plan(ctx, req, dir)
	case ActionApply:
		return d.apply(ctx, req, dir)
	case ActionDestroy:
		return d.destroy(ctx, req, dir)
	}
	return models.ErrorEnvelope("", "unknown iac action: "+req.Action)
}

// write places the .tf file in the workspace, resolves the provider, guards
// against state from a different provider, and templates provider.tf.
func (d *Dispatcher) write(ctx context.Context, req *Request, dir string) *models.ToolEnvelope {
	if req.Content == "" {
		return models.ErrorEnvelope("", "write requires content")
	}

	var preference []models.Provider
	if req.Provider != "" {
		preference = []models.Provider{req.Provider}
	}
	provider, ok := InferProvider(preference, req.Content, req.RecentMessages)
	if !ok {
		return models.ErrorEnvelope("", "could not infer the terraform provider; pass provider explicitly")
	}

	bundle, err := d.issueBundle(ctx, req, provider)
	if err != nil {
		return connectionErrorEnvelope(provider, err)
	}

	if d.workspace.StateConflict(dir, provider) {
		d.logger.Info(ctx, "workspace provider switched, wiping state",
			"session_id", req.SessionID, "provider", string(provider))
		if err := d.workspace.WipeState(dir); err != nil {
			return models.ErrorEnvelope("", err.Error())
		}
	}

	name := filepath.Base(req.Path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "main.tf"
	}
	if !strings.HasSuffix(name, ".tf") {
		name += ".tf"
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(req.Content), 0o644); err != nil {
		return models.ErrorEnvelope("", fmt.Sprintf("write %s: %v", name, err))
	}

	providerTF := filepath.Join(dir, "provider.tf")
	if HasOwnProviderBlock(req.Content) {
		// User content carries its own provider config; a generated one
		// would collide.
		if err := os.Remove(providerTF); err != nil && !os.IsNotExist(err) {
			return models.ErrorEnvelope("", err.Error())
		}
	} else {
		rendered, err := RenderProviderTF(provider, bundle.Env)
		if err != nil {
			return models.ErrorEnvelope("", err.Error())
		}
		if err := os.WriteFile(providerTF, []byte(rendered), 0o644); err != nil {
			return models.ErrorEnvelope("", err.Error())
		}
	}

	rc := 0
	return &models.ToolEnvelope{
		Success:      true,
		Provider:     string(provider),
		ReturnCode:   &rc,
		ChatOutput:   fmt.Sprintf("Wrote %s to the session workspace (%s provider).", name, provider),
		ResourceID:   bundle.ResourceID,
		ResourceName: bundle.ResourceName,
		AuthMethod:   bundle.AuthMethod,
	}
}

// plan runs init → validate → plan -detailed-exitcode.
func (d *Dispatcher) plan(ctx context.Context, req *Request, dir string) *models.ToolEnvelope {
	provider, bundle, envlp := d.resolveRun(ctx, req, dir)
	if envlp != nil {
		return envlp
	}
	runEnv := mergedEnv(bundle.Env)

	if envlp := d.stepOrFail(ctx, provider, dir, runEnv, planTimeout, "init", "-input=false"); envlp != nil {
		return envlp
	}
	if envlp := d.stepOrFail(ctx, provider, dir, runEnv, planTimeout, "validate"); envlp != nil {
		return envlp
	}

	args := append([]string{"plan", "-detailed-exitcode", "-input=false"}, varArgs(req.Vars)...)
	res, err := d.terraform(ctx, dir, runEnv, planTimeout, args...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	return planEnvelope(provider, res)
}

// apply runs init → plan -detailed-exitcode, confirms when changes are
// present, then apply -auto-approve and outputs parsing.
func (d *Dispatcher) apply(ctx context.Context, req *Request, dir string) *models.ToolEnvelope {
	provider, bundle, envlp := d.resolveRun(ctx, req, dir)
	if envlp != nil {
		return envlp
	}
	runEnv := mergedEnv(bundle.Env)

	if envlp := d.stepOrFail(ctx, provider, dir, runEnv, planTimeout, "init", "-input=false"); envlp != nil {
		return envlp
	}

	planArgs := append([]string{"plan", "-detailed-exitcode", "-input=false"}, varArgs(req.Vars)...)
	res, err := d.terraform(ctx, dir, runEnv, planTimeout, planArgs...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	switch res.ReturnCode {
	case 0:
		rc := 0
		return &models.ToolEnvelope{
			Success:    true,
			Provider:   string(provider),
			ReturnCode: &rc,
			ChatOutput: "No changes. Infrastructure already matches the configuration.",
		}
	case 2:
		// changes present, fall through to confirmation
	default:
		return terraformFailure(provider, res)
	}

	if !req.AutoApprove {
		approved, err := d.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ToolName:  "iac_tool",
			Summary:   planSummary(provider, res.Stdout),
		})
		if err != nil || !approved {
			env := models.CancelledEnvelope("terraform apply")
			env.Provider = string(provider)
			return env
		}
	}

	applyArgs := append([]string{"apply", "-auto-approve", "-input=false"}, varArgs(req.Vars)...)
	applyRes, err := d.terraform(ctx, dir, runEnv, applyTimeout, applyArgs...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	if applyRes.ReturnCode != 0 {
		return terraformFailure(provider, applyRes)
	}

	rc := 0
	env := &models.ToolEnvelope{
		Success:      true,
		Provider:     string(provider),
		ReturnCode:   &rc,
		ChatOutput:   sanitize.Clean(applyRes.Stdout),
		ResourceID:   bundle.ResourceID,
		ResourceName: bundle.ResourceName,
		AuthMethod:   bundle.AuthMethod,
	}
	if outputs := d.parseOutputs(ctx, dir, runEnv); len(outputs) > 0 {
		env.Outputs = outputs
	}
	d.attachGitHubFlow(ctx, req, env)
	return env
}

// destroy mirrors apply with -destroy planning.
func (d *Dispatcher) destroy(ctx context.Context, req *Request, dir string) *models.ToolEnvelope {
	provider, bundle, envlp := d.resolveRun(ctx, req, dir)
	if envlp != nil {
		return envlp
	}
	runEnv := mergedEnv(bundle.Env)

	if envlp := d.stepOrFail(ctx, provider, dir, runEnv, planTimeout, "init", "-input=false"); envlp != nil {
		return envlp
	}

	planArgs := append([]string{"plan", "-destroy", "-detailed-exitcode", "-input=false"}, varArgs(req.Vars)...)
	res, err := d.terraform(ctx, dir, runEnv, planTimeout, planArgs...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	switch res.ReturnCode {
	case 0:
		rc := 0
		return &models.ToolEnvelope{
			Success:    true,
			Provider:   string(provider),
			ReturnCode: &rc,
			ChatOutput: "Nothing to destroy. The workspace holds no managed resources.",
		}
	case 2:
	default:
		return terraformFailure(provider, res)
	}

	if !req.AutoApprove {
		approved, err := d.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ToolName:  "iac_tool",
			Summary:   planSummary(provider, res.Stdout),
		})
		if err != nil || !approved {
			env := models.CancelledEnvelope("terraform destroy")
			env.Provider = string(provider)
			return env
		}
	}

	destroyRes, err := d.terraform(ctx, dir, runEnv, applyTimeout, append([]string{"destroy", "-auto-approve", "-input=false"}, varArgs(req.Vars)...)...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	if destroyRes.ReturnCode != 0 {
		return terraformFailure(provider, destroyRes)
	}

	rc := 0
	return &models.ToolEnvelope{
		Success:    true,
		Provider:   string(provider),
		ReturnCode: &rc,
		ChatOutput: sanitize.Clean(destroyRes.Stdout),
	}
}

// outputs runs terraform output -json and flattens the values.
func (d *Dispatcher) outputs(ctx context.Context, req *Request, dir string) *models.ToolEnvelope {
	provider, bundle, envlp := d.resolveRun(ctx, req, dir)
	if envlp != nil {
		return envlp
	}
	runEnv := mergedEnv(bundle.Env)

	outputs := d.parseOutputs(ctx, dir, runEnv)
	rc := 0
	return &models.ToolEnvelope{
		Success:    true,
		Provider:   string(provider),
		ReturnCode: &rc,
		Outputs:    outputs,
	}
}

// runSimple executes one terraform subcommand and shapes the result.
func (d *Dispatcher) runSimple(ctx context.Context, req *Request, dir string, timeout time.Duration, args ...string) *models.ToolEnvelope {
	provider, bundle, envlp := d.resolveRun(ctx, req, dir)
	if envlp != nil {
		return envlp
	}

	res, err := d.terraform(ctx, dir, mergedEnv(bundle.Env), timeout, args...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	if res.TimedOut {
		env := models.ErrorEnvelope(models.CodeTimeout, "terraform "+args[0]+" timed out")
		env.Provider = string(provider)
		return env
	}
	if res.ReturnCode != 0 {
		return terraformFailure(provider, res)
	}

	rc := 0
	return &models.ToolEnvelope{
		Success:    true,
		Provider:   string(provider),
		ReturnCode: &rc,
		ChatOutput: sanitize.Clean(res.Stdout),
	}
}

// resolveRun resolves the provider and credential bundle for a non-write
// action. The returned envelope is non-nil on failure.
func (d *Dispatcher) resolveRun(ctx context.Context, req *Request, dir string) (models.Provider, *credentials.Bundle, *models.ToolEnvelope) {
	var preference []models.Provider
	if req.Provider != "" {
		preference = []models.Provider{req.Provider}
	}
	provider, ok := InferProvider(preference, workspaceContent(dir), req.RecentMessages)
	if !ok {
		return "", nil, models.ErrorEnvelope("", "could not infer the terraform provider; pass provider explicitly")
	}

	bundle, err := d.issueBundle(ctx, req, provider)
	if err != nil {
		return "", nil, connectionErrorEnvelope(provider, err)
	}
	return provider, bundle, nil
}

func (d *Dispatcher) issueBundle(ctx context.Context, req *Request, provider models.Provider) (*credentials.Bundle, error) {
	return d.broker.Issue(ctx, credentials.Request{
		Principal: req.UserID,
		Provider:  provider,
		Mode:      req.Mode,
	})
}

func (d *Dispatcher) terraform(ctx context.Context, dir string, runEnv map[string]string, timeout time.Duration, args ...string) (*cloudexec.ExecResult, error) {
	argv := append([]string{d.terraformBin, "-chdir=" + dir}, args...)
	return d.runner.Run(ctx, argv, runEnv, timeout)
}

// stepOrFail runs an intermediate terraform step and returns a failure
// envelope when it does not exit cleanly.
func (d *Dispatcher) stepOrFail(ctx context.Context, provider models.Provider, dir string, runEnv map[string]string, timeout time.Duration, args ...string) *models.ToolEnvelope {
	res, err := d.terraform(ctx, dir, runEnv, timeout, args...)
	if err != nil {
		return models.ErrorEnvelope("", err.Error())
	}
	if res.TimedOut {
		env := models.ErrorEnvelope(models.CodeTimeout, "terraform "+args[0]+" timed out")
		env.Provider = string(provider)
		return env
	}
	if res.ReturnCode != 0 {
		return terraformFailure(provider, res)
	}
	return nil
}

func (d *Dispatcher) parseOutputs(ctx context.Context, dir string, runEnv map[string]string) map[string]any {
	res, err := d.terraform(ctx, dir, runEnv, planTimeout, "output", "-json")
	if err != nil || res.ReturnCode != 0 {
		return nil
	}

	var raw map[string]struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil
	}
	outputs := make(map[string]any, len(raw))
	for name, out := range raw {
		outputs[name] = out.Value
	}
	return outputs
}

// attachGitHubFlow adds the post-apply commit hand-off when GitHub is
// connected, or nudges the user with a toast when it is not.
func (d *Dispatcher) attachGitHubFlow(ctx context.Context, req *Request, env *models.ToolEnvelope) {
	if d.github != nil && d.github.Connected(ctx, req.UserID) {
		env.PostCompletionActions = map[string]any{
			"send_github_commit_flow": map[string]any{
				"commit_message": CommitMessage(req.SessionID),
			},
		}
		return
	}
	if d.sinks != nil {
		sink := d.sinks.SessionSink(req.UserID, req.SessionID)
		toast := models.Toast(req.SessionID, req.UserID,
			"Connect GitHub to commit these Terraform changes to a repository.")
		if err := sink.Send(ctx, toast); err != nil {
			d.logger.Warn(ctx, "github toast not delivered", "session_id", req.SessionID, "error", err)
		}
	}
}

// CommitMessage builds the suggested commit message for the GitHub hand-off.
func CommitMessage(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Apply Terraform changes from Aurora session " + short
}

func varArgs(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	args := make([]string, 0, len(vars))
	for k, v := range vars {
		args = append(args, "-var", k+"="+v)
	}
	return args
}

// workspaceContent concatenates the workspace .tf files for provider
// inference on non-write actions.
func workspaceContent(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tf") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	return b.String()
}

func planEnvelope(provider models.Provider, res *cloudexec.ExecResult) *models.ToolEnvelope {
	if res.TimedOut {
		env := models.ErrorEnvelope(models.CodeTimeout, "terraform plan timed out")
		env.Provider = string(provider)
		return env
	}
	rc := res.ReturnCode
	switch res.ReturnCode {
	case 0:
		return &models.ToolEnvelope{
			Success:    true,
			Provider:   string(provider),
			ReturnCode: &rc,
			Status:     "no-changes",
			ChatOutput: sanitize.Clean(res.Stdout),
		}
	case 2:
		return &models.ToolEnvelope{
			Success:    true,
			Provider:   string(provider),
			ReturnCode: &rc,
			Status:     "changes-present",
			ChatOutput: sanitize.Clean(res.Stdout),
		}
	}
	return terraformFailure(provider, res)
}

func terraformFailure(provider models.Provider, res *cloudexec.ExecResult) *models.ToolEnvelope {
	rc := res.ReturnCode
	env := &models.ToolEnvelope{
		Success:    false,
		Provider:   string(provider),
		ReturnCode: &rc,
		Error:      sanitize.Clean(strings.TrimSpace(res.Stderr)),
		ChatOutput: sanitize.Clean(res.Stdout),
	}
	if env.Error == "" {
		env.Error = fmt.Sprintf("terraform exited with code %d", res.ReturnCode)
	}
	return env
}

// planSummary condenses plan stdout to the resource-change line for the
// confirmation prompt.
func planSummary(provider models.Provider, planOutput string) string {
	for _, line := range strings.Split(planOutput, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Plan:") {
			return fmt.Sprintf("[%s] terraform: %s", provider, trimmed)
		}
	}
	return fmt.Sprintf("[%s] terraform: apply pending changes", provider)
}

func mergedEnv(bundleEnv map[string]string) map[string]string {
	merged := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": os.Getenv("HOME"),
	}
	for k, v := range bundleEnv {
		merged[k] = v
	}
	return merged
}

func connectionErrorEnvelope(provider models.Provider, err error) *models.ToolEnvelope {
	env := models.ErrorEnvelope("", err.Error())
	env.Provider = string(provider)
	if isConnectionError(err) {
		env.Code = models.CodeRequiresConnection
		env.ChatOutput = "No usable " + string(provider) + " connection. Ask the user to connect the provider in settings before retrying."
	}
	return env
}

func isConnectionError(err error) bool {
	return errors.Is(err, credentials.ErrMissingConnection) || errors.Is(err, credentials.ErrExpiredRefreshToken)
}
