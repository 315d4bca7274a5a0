package iac

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/cloudexec"
	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/pkg/models"
)

type fakeStore struct {
	conns map[string]map[string]string
}

func (s *fakeStore) Get(_ context.Context, _ string, provider models.Provider, _ string) (map[string]string, error) {
	conn, ok := s.conns[string(provider)]
	if !ok {
		return nil, errors.New("not found")
	}
	return conn, nil
}

func (s *fakeStore) List(_ context.Context, _ string, provider models.Provider) ([]map[string]string, error) {
	conn, ok := s.conns[string(provider)]
	if !ok {
		return nil, errors.New("not found")
	}
	return []map[string]string{conn}, nil
}

func (s *fakeStore) Save(context.Context, string, models.Provider, string, map[string]string) error {
	return nil
}

// fakeRunner scripts terraform results per subcommand (the argument after
// -chdir).
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]*cloudexec.ExecResult
	calls   []string
}

func (r *fakeRunner) Run(_ context.Context, argv []string, _ map[string]string, _ time.Duration) (*cloudexec.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(argv) < 3 {
		return nil, errors.New("unexpected argv")
	}
	sub := argv[2]
	r.calls = append(r.calls, sub)
	if res, ok := r.results[sub]; ok {
		return res, nil
	}
	return &cloudexec.ExecResult{}, nil
}

type fakeGitHub struct{ connected bool }

func (g fakeGitHub) Connected(context.Context, string) bool { return g.connected }

type recordingSinkProvider struct {
	mu     sync.Mutex
	events []*models.ToolEvent
}

func (p *recordingSinkProvider) SessionSink(string, string) fabric.Sink { return p }

func (p *recordingSinkProvider) Send(_ context.Context, event *models.ToolEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func scalewayStore() *fakeStore {
	return &fakeStore{conns: map[string]map[string]string{
		"scaleway": {
			"access_key": "SCWXXXXXXXXXXXXXXXXX",
			"secret_key": "11111111-2222-3333-4444-555555555555",
			"project_id": "proj-1",
		},
	}}
}

func newTestDispatcher(t *testing.T, runner *fakeRunner, approve, githubConnected bool) (*Dispatcher, *capture.Capture, *recordingSinkProvider) {
	t.Helper()
	ws := &Workspace{BaseDir: t.TempDir()}
	broker := credentials.NewBroker(scalewayStore(), nil, nil)
	capt := capture.New(nil)
	sinks := &recordingSinkProvider{}
	d := NewDispatcher(ws, broker, runner, capt, fabric.AutoConfirmer{Approve: approve},
		sinks, fakeGitHub{connected: githubConnected}, nil, nil, "terraform")
	return d, capt, sinks
}

const scalewayTF = `resource "scaleway_instance_server" "web" {
  type  = "DEV1-S"
  image = "ubuntu_jammy"
}`

func TestWriteInfersProviderAndTemplates(t *testing.T) {
	d, capt, _ := newTestDispatcher(t, &fakeRunner{}, true, false)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-1", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: scalewayTF,
		Mode: models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Provider != string(models.ProviderScaleway) {
		t.Errorf("provider = %q", env.Provider)
	}

	dir, _ := d.workspace.SessionDir("user-1", "sess-1")
	if _, err := os.Stat(filepath.Join(dir, "main.tf")); err != nil {
		t.Errorf("main.tf not written: %v", err)
	}
	rendered, err := os.ReadFile(filepath.Join(dir, "provider.tf"))
	if err != nil {
		t.Fatalf("provider.tf not generated: %v", err)
	}
	if !strings.Contains(string(rendered), `"scaleway"`) {
		t.Errorf("provider.tf = %s", rendered)
	}

	records := capt.Records()
	if len(records) != 1 || records[0].ToolName != "iac_tool" || !records[0].Completed {
		t.Errorf("capture records = %+v", records)
	}
}

func TestWriteOwnProviderBlockRemovesGenerated(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeRunner{}, true, false)

	// First write generates provider.tf.
	d.Dispatch(context.Background(), &Request{
		SessionID: "sess-1", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: scalewayTF,
		Mode: models.ModeAgent,
	})

	// Second write brings its own provider block.
	content := `provider "scaleway" {
  region = "nl-ams"
}

` + scalewayTF
	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-1", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: content,
		Mode: models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}

	dir, _ := d.workspace.SessionDir("user-1", "sess-1")
	if _, err := os.Stat(filepath.Join(dir, "provider.tf")); !os.IsNotExist(err) {
		t.Error("generated provider.tf should be removed when content declares its own")
	}
}

func TestWriteWipesConflictingState(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeRunner{}, true, false)
	dir, _ := d.workspace.SessionDir("user-1", "sess-1")

	state := `{"resources":[{"type":"aws_instance","name":"old"}]}`
	if err := os.WriteFile(filepath.Join(dir, "terraform.tfstate"), []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-1", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: scalewayTF,
		Mode: models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}
	if _, err := os.Stat(filepath.Join(dir, "terraform.tfstate")); !os.IsNotExist(err) {
		t.Error("conflicting state not wiped")
	}
}

func TestReadOnlyModeDeniesWrites(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeRunner{}, true, false)

	for _, action := range []string{ActionWrite, ActionPlan, ActionApply, ActionDestroy} {
		env := d.Dispatch(context.Background(), &Request{
			SessionID: "sess-1", UserID: "user-1",
			Action: action, Content: scalewayTF,
			Mode: models.ModeAsk,
		})
		if env.Success || env.Code != models.CodeReadOnlyMode {
			t.Errorf("action %s: envelope = %+v", action, env)
		}
	}
}

func applyRunner(planRC int) *fakeRunner {
	return &fakeRunner{results: map[string]*cloudexec.ExecResult{
		"init":     {},
		"validate": {},
		"plan":     {ReturnCode: planRC, Stdout: "Plan: 1 to add, 0 to change, 0 to destroy."},
		"apply":    {Stdout: "Apply complete! Resources: 1 added, 0 changed, 0 destroyed."},
		"output":   {Stdout: `{"instance_ip":{"value":"51.15.0.1"}}`},
		"destroy":  {Stdout: "Destroy complete! Resources: 1 destroyed."},
	}}
}

func seedWorkspace(t *testing.T, d *Dispatcher) {
	t.Helper()
	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: scalewayTF,
		Mode: models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("seed write failed: %+v", env)
	}
}

func TestApplyWithApprovalAndGitHub(t *testing.T) {
	runner := applyRunner(2)
	d, _, _ := newTestDispatcher(t, runner, true, true)
	seedWorkspace(t, d)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionApply,
		Mode:   models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Outputs["instance_ip"] != "51.15.0.1" {
		t.Errorf("outputs = %+v", env.Outputs)
	}

	flow, ok := env.PostCompletionActions["send_github_commit_flow"].(map[string]any)
	if !ok {
		t.Fatalf("post completion actions = %+v", env.PostCompletionActions)
	}
	if flow["commit_message"] != "Apply Terraform changes from Aurora session sess-abc" {
		t.Errorf("commit message = %v", flow["commit_message"])
	}

	want := []string{"init", "plan", "apply", "output"}
	if len(runner.calls) < len(want) {
		t.Fatalf("calls = %v", runner.calls)
	}
	for i, sub := range want {
		if runner.calls[i] != sub {
			t.Errorf("call %d = %s, want %s", i, runner.calls[i], sub)
		}
	}
}

func TestApplyNoChangesIsNoOp(t *testing.T) {
	runner := applyRunner(0)
	d, _, _ := newTestDispatcher(t, runner, true, true)
	seedWorkspace(t, d)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionApply,
		Mode:   models.ModeAgent,
	})
	if !env.Success || !strings.Contains(env.ChatOutput, "No changes") {
		t.Fatalf("envelope = %+v", env)
	}
	for _, sub := range runner.calls {
		if sub == "apply" {
			t.Error("apply ran despite empty plan")
		}
	}
}

func TestApplyDeniedIsCancelled(t *testing.T) {
	runner := applyRunner(2)
	d, capt, _ := newTestDispatcher(t, runner, false, true)
	seedWorkspace(t, d)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionApply,
		Mode:   models.ModeAgent,
	})
	if !env.UserCancelled || env.Code != models.CodeUserCancelled {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(env.InternalNote, "do not retry") {
		t.Errorf("internal note = %q", env.InternalNote)
	}
	for _, sub := range runner.calls {
		if sub == "apply" {
			t.Error("apply ran after denial")
		}
	}

	// Both the write and the cancelled apply are captured, neither as error.
	records := capt.Records()
	if len(records) != 2 {
		t.Fatalf("capture records = %+v", records)
	}
	for _, rec := range records {
		if rec.IsError {
			t.Errorf("record marked error: %+v", rec)
		}
	}
}

func TestApplyWithoutGitHubSendsToast(t *testing.T) {
	runner := applyRunner(2)
	d, _, sinks := newTestDispatcher(t, runner, true, false)
	seedWorkspace(t, d)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionApply,
		Mode:   models.ModeAgent,
	})
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}
	if env.PostCompletionActions != nil {
		t.Error("commit flow attached without a github connection")
	}

	if len(sinks.events) != 1 || sinks.events[0].Type != models.EventToast {
		t.Fatalf("events = %+v", sinks.events)
	}
	if !strings.Contains(sinks.events[0].Data.Message, "GitHub") {
		t.Errorf("toast = %q", sinks.events[0].Data.Message)
	}
}

func TestPlanExitCodeMapping(t *testing.T) {
	tests := []struct {
		planRC  int
		success bool
		status  string
	}{
		{0, true, "no-changes"},
		{2, true, "changes-present"},
		{1, false, ""},
	}
	for _, tt := range tests {
		runner := &fakeRunner{results: map[string]*cloudexec.ExecResult{
			"init":     {},
			"validate": {},
			"plan":     {ReturnCode: tt.planRC, Stderr: "Error: invalid resource"},
		}}
		d, _, _ := newTestDispatcher(t, runner, true, false)
		seedWorkspace(t, d)

		env := d.Dispatch(context.Background(), &Request{
			SessionID: "sess-abcdef123", UserID: "user-1",
			Action: ActionPlan,
			Mode:   models.ModeAgent,
		})
		if env.Success != tt.success {
			t.Errorf("plan rc %d: success = %v, want %v (%+v)", tt.planRC, env.Success, tt.success, env)
		}
		if tt.status != "" && env.Status != tt.status {
			t.Errorf("plan rc %d: status = %q, want %q", tt.planRC, env.Status, tt.status)
		}
		if !tt.success && !strings.Contains(env.Error, "invalid resource") {
			t.Errorf("plan rc %d: error = %q", tt.planRC, env.Error)
		}
	}
}

func TestDestroyApproved(t *testing.T) {
	runner := applyRunner(2)
	d, _, _ := newTestDispatcher(t, runner, true, false)
	seedWorkspace(t, d)

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-abcdef123", UserID: "user-1",
		Action: ActionDestroy,
		Mode:   models.ModeAgent,
	})
	if !env.Success || !strings.Contains(env.ChatOutput, "Destroy complete") {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestMissingConnection(t *testing.T) {
	ws := &Workspace{BaseDir: t.TempDir()}
	broker := credentials.NewBroker(&fakeStore{conns: map[string]map[string]string{}}, nil, nil)
	d := NewDispatcher(ws, broker, &fakeRunner{}, capture.New(nil), fabric.AutoConfirmer{Approve: true}, nil, nil, nil, nil, "")

	env := d.Dispatch(context.Background(), &Request{
		SessionID: "sess-1", UserID: "user-1",
		Action: ActionWrite, Path: "main.tf", Content: scalewayTF,
		Mode: models.ModeAgent,
	})
	if env.Success || env.Code != models.CodeRequiresConnection {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestCommitMessage(t *testing.T) {
	if got := CommitMessage("0123456789abcdef"); got != "Apply Terraform changes from Aurora session 01234567" {
		t.Errorf("CommitMessage = %q", got)
	}
	if got := CommitMessage("short"); got != "Apply Terraform changes from Aurora session short" {
		t.Errorf("CommitMessage = %q", got)
	}
}
