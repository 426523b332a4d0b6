// Package sandbox executes runtime-authored tool sources in an isolated
// Python interpreter: a plain subprocess by default, or a container via
// the Docker runner. Both speak the same one-line JSON protocol with the
// embedded driver script.
package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

//go:embed driver.py
var driverSource string

// driverReply is the single JSON line the driver emits.
type driverReply struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type runnerConfig struct {
	timeout   time.Duration
	maxOutput int
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:   60 * time.Second,
		maxOutput: 1 << 20, // 1MB of driver output
	}
}

// Option configures a runner.
type Option func(*runnerConfig)

// WithTimeout sets the per-operation execution limit (default 60s).
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxOutput sets the maximum driver output size in bytes (default 1MB).
func WithMaxOutput(n int) Option {
	return func(c *runnerConfig) { c.maxOutput = n }
}

// SubprocessRunner executes tool sources through a local Python binary.
type SubprocessRunner struct {
	pythonBin  string
	driverPath string
	cfg        runnerConfig
}

// Compile-time interface assertion.
var _ hashiru.ToolRunner = (*SubprocessRunner)(nil)

// NewSubprocessRunner creates a runner using the given Python binary
// (e.g. "python3"). The driver script is materialized once into a temp
// directory.
func NewSubprocessRunner(pythonBin string, opts ...Option) (*SubprocessRunner, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	dir, err := os.MkdirTemp("", "hashiru-driver-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create driver dir: %w", err)
	}
	driverPath := filepath.Join(dir, "driver.py")
	if err := os.WriteFile(driverPath, []byte(driverSource), 0o644); err != nil {
		return nil, fmt.Errorf("sandbox: write driver: %w", err)
	}
	return &SubprocessRunner{pythonBin: pythonBin, driverPath: driverPath, cfg: cfg}, nil
}

// Describe loads the source's manifest without running its tool body.
func (r *SubprocessRunner) Describe(ctx context.Context, path string) (hashiru.ToolManifest, error) {
	reply, err := r.invoke(ctx, path, "describe", nil)
	if err != nil {
		return hashiru.ToolManifest{}, err
	}
	var manifest hashiru.ToolManifest
	if err := json.Unmarshal(reply.Data, &manifest); err != nil {
		return hashiru.ToolManifest{}, fmt.Errorf("sandbox: parse manifest: %w", err)
	}
	return manifest, nil
}

// Run invokes the tool's run entry point with JSON arguments.
func (r *SubprocessRunner) Run(ctx context.Context, path string, args json.RawMessage) (hashiru.ToolResult, error) {
	reply, err := r.invoke(ctx, path, "run", args)
	if err != nil {
		return hashiru.ToolResult{}, err
	}
	return decodeResult(reply.Data)
}

// Install installs one dependency into the interpreter environment via pip.
func (r *SubprocessRunner) Install(ctx context.Context, pkg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.pythonBin, "-m", "pip", "install", pkg).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sandbox: pip install %s: %v: %s", pkg, err, truncate(string(out), 2048))
	}
	return nil
}

func (r *SubprocessRunner) invoke(ctx context.Context, path, mode string, args json.RawMessage) (driverReply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	argv := []string{r.driverPath, path, mode}
	if mode == "run" {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		argv = append(argv, base64.StdEncoding.EncodeToString(args))
	}
	cmd := exec.CommandContext(ctx, r.pythonBin, argv...)
	cmd.Dir = filepath.Dir(path)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return driverReply{}, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return driverReply{}, fmt.Errorf("sandbox: start interpreter: %w", err)
	}

	reply, parseErr := readReply(stdout, r.cfg.maxOutput)
	waitErr := cmd.Wait()

	if reply.Type == "error" {
		return driverReply{}, fmt.Errorf("sandbox: tool failed: %s", reply.Error)
	}
	if parseErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return driverReply{}, fmt.Errorf("sandbox: execution timed out after %s", r.cfg.timeout)
		}
		if waitErr != nil {
			return driverReply{}, fmt.Errorf("sandbox: interpreter failed: %v: %s", waitErr, truncate(stderr.String(), 2048))
		}
		return driverReply{}, parseErr
	}
	return reply, nil
}

// readReply scans driver output for the protocol line. Tools are free to
// print diagnostics; only the last parseable protocol message counts.
func readReply(out io.Reader, maxOutput int) (driverReply, error) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutput)

	var reply driverReply
	found := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var candidate driverReply
		if err := json.Unmarshal([]byte(line), &candidate); err != nil {
			continue
		}
		if candidate.Type != "" {
			reply = candidate
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return reply, fmt.Errorf("sandbox: read driver output: %w", err)
	}
	if !found {
		return reply, fmt.Errorf("sandbox: driver produced no protocol message")
	}
	return reply, nil
}

// decodeResult converts the driver's result payload into a ToolResult.
// Payloads without the status/message shape are wrapped as success output.
func decodeResult(data json.RawMessage) (hashiru.ToolResult, error) {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Status != "" {
		var result hashiru.ToolResult
		if err := json.Unmarshal(data, &result); err != nil {
			return hashiru.ToolResult{}, fmt.Errorf("sandbox: parse result: %w", err)
		}
		return result, nil
	}
	var output any
	if err := json.Unmarshal(data, &output); err != nil {
		return hashiru.ToolResult{}, fmt.Errorf("sandbox: parse result: %w", err)
	}
	return hashiru.SuccessResult("", output), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
