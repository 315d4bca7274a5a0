package cloudexec

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSubprocessRunner(t *testing.T) {
	runner := NewSubprocessRunner()
	env := map[string]string{"PATH": "/usr/bin:/bin", "GREETING": "hello"}

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "echo $GREETING"}, env, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ReturnCode != 0 || strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestSubprocessRunnerExitCode(t *testing.T) {
	runner := NewSubprocessRunner()
	env := map[string]string{"PATH": "/usr/bin:/bin"}

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "echo oops >&2; exit 3"}, env, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ReturnCode != 3 {
		t.Errorf("return code = %d, want 3", res.ReturnCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestSubprocessRunnerMissingBinary(t *testing.T) {
	runner := NewSubprocessRunner()
	if _, err := runner.Run(context.Background(), []string{"definitely-not-a-binary-xyz"}, map[string]string{}, time.Second); err == nil {
		t.Error("missing binary should surface as an error")
	}
}

func TestSubprocessRunnerTimeout(t *testing.T) {
	runner := NewSubprocessRunner()
	env := map[string]string{"PATH": "/usr/bin:/bin"}

	res, err := runner.Run(context.Background(), []string{"sleep", "5"}, env, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("result = %+v, want TimedOut", res)
	}
}

func TestFlattenEnvSorted(t *testing.T) {
	got := flattenEnv(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flattenEnv = %v, want %v", got, want)
	}
}
