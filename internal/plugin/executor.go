package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrPluginTimeout is returned when a plugin outlives its deadline.
var ErrPluginTimeout = errors.New("plugin execution timed out")

// Executor runs plugins with a per-call timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an executor. A non-positive timeout means 10s.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{timeout: timeout}
}

// Timeout returns the per-call timeout.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Execute writes req to the plugin's stdin and parses its stdout. A
// plugin that reports failure is not an error; inspect Response.Success.
func (e *Executor) Execute(ctx context.Context, p *Plugin, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Executable)
	cmd.Dir = p.Path
	// Children of a killed plugin may hold stdout open.
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrPluginTimeout, p.Manifest.Name, e.timeout)
	}
	if err != nil {
		if msg := stderr.String(); msg != "" {
			return nil, fmt.Errorf("run plugin %s: %w: %s", p.Manifest.Name, err, msg)
		}
		return nil, fmt.Errorf("run plugin %s: %w", p.Manifest.Name, err)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse plugin %s response: %w", p.Manifest.Name, err)
	}
	return &resp, nil
}
