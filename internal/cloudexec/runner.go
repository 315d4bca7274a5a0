package cloudexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"time"
)

// Runner executes a tokenised command with an explicit environment. The
// process environment is never inherited: env is the complete environment
// the child sees.
type Runner interface {
	Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (*ExecResult, error)
}

// SubprocessRunner runs commands as child processes.
type SubprocessRunner struct {
	// WorkDir, when set, becomes the working directory of every command.
	WorkDir string
}

func NewSubprocessRunner() *SubprocessRunner {
	return &SubprocessRunner{}
}

func (r *SubprocessRunner) Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = flattenEnv(env)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ReturnCode = -1
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		// Binary missing or not startable.
		return nil, err
	}
	return res, nil
}

// flattenEnv renders the bundle as KEY=VALUE pairs in stable order. PATH and
// HOME must be present in the bundle itself when the CLI needs them; nothing
// leaks in from the broker process.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
