package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// Docker runner defaults.
const (
	defaultImage     = "python:3.11-slim"
	defaultPipVolume = "hashiru-pip"
	sitePackagesPath = "/usr/local/lib/python3.11/site-packages"
	memLimitBytes    = 512 << 20
	nanoCPUs         = 1_000_000_000 // one core
)

// DockerRunner executes tool sources inside a throwaway container per
// operation. Tool directories are bind-mounted read-only; pip installs
// persist across containers through a named volume over site-packages.
type DockerRunner struct {
	cli       *client.Client
	image     string
	pipVolume string
	driverDir string
	cfg       runnerConfig
}

// Compile-time interface assertion.
var _ hashiru.ToolRunner = (*DockerRunner)(nil)

// DockerOption configures a DockerRunner.
type DockerOption func(*DockerRunner)

// WithImage overrides the interpreter image (default python:3.11-slim).
func WithImage(img string) DockerOption {
	return func(r *DockerRunner) { r.image = img }
}

// WithPipVolume overrides the named volume persisting installed packages.
func WithPipVolume(name string) DockerOption {
	return func(r *DockerRunner) { r.pipVolume = name }
}

// WithDockerTimeout sets the per-operation execution limit (default 60s).
func WithDockerTimeout(d time.Duration) DockerOption {
	return func(r *DockerRunner) { r.cfg.timeout = d }
}

// NewDockerRunner creates a container-backed runner from the ambient
// Docker environment (DOCKER_HOST etc.).
func NewDockerRunner(opts ...DockerOption) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	dir, err := os.MkdirTemp("", "hashiru-driver-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create driver dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "driver.py"), []byte(driverSource), 0o644); err != nil {
		return nil, fmt.Errorf("sandbox: write driver: %w", err)
	}
	r := &DockerRunner{
		cli:       cli,
		image:     defaultImage,
		pipVolume: defaultPipVolume,
		driverDir: dir,
		cfg:       defaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PullImage ensures the interpreter image is present. Best called once at
// startup; run-time operations assume the image exists.
func (r *DockerRunner) PullImage(ctx context.Context) error {
	reader, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: pull %s: %w", r.image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Describe loads the source's manifest inside a container.
func (r *DockerRunner) Describe(ctx context.Context, path string) (hashiru.ToolManifest, error) {
	reply, err := r.invoke(ctx, path, "describe", nil, false)
	if err != nil {
		return hashiru.ToolManifest{}, err
	}
	var manifest hashiru.ToolManifest
	if err := json.Unmarshal(reply.Data, &manifest); err != nil {
		return hashiru.ToolManifest{}, fmt.Errorf("sandbox: parse manifest: %w", err)
	}
	return manifest, nil
}

// Run invokes the tool inside a container with network access.
func (r *DockerRunner) Run(ctx context.Context, path string, args json.RawMessage) (hashiru.ToolResult, error) {
	reply, err := r.invoke(ctx, path, "run", args, true)
	if err != nil {
		return hashiru.ToolResult{}, err
	}
	return decodeResult(reply.Data)
}

// Install runs pip inside a container; the site-packages volume makes the
// result visible to later Run containers.
func (r *DockerRunner) Install(ctx context.Context, pkg string) error {
	out, err := r.runContainer(ctx, []string{"pip", "install", pkg}, nil, true)
	if err != nil {
		return fmt.Errorf("sandbox: pip install %s: %v: %s", pkg, err, truncate(out, 2048))
	}
	return nil
}

func (r *DockerRunner) invoke(ctx context.Context, path, mode string, args json.RawMessage, network bool) (driverReply, error) {
	cmd := []string{"python", "/driver/driver.py", "/tools/" + filepath.Base(path), mode}
	if mode == "run" {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		cmd = append(cmd, base64.StdEncoding.EncodeToString(args))
	}
	binds := []string{filepath.Dir(path) + ":/tools:ro"}
	out, err := r.runContainer(ctx, cmd, binds, network)
	if err != nil {
		return driverReply{}, err
	}
	reply, parseErr := readReply(bytes.NewReader([]byte(out)), r.cfg.maxOutput)
	if reply.Type == "error" {
		return driverReply{}, fmt.Errorf("sandbox: tool failed: %s", reply.Error)
	}
	return reply, parseErr
}

// runContainer creates, runs to completion, and removes one container,
// returning its combined output.
func (r *DockerRunner) runContainer(ctx context.Context, cmd, extraBinds []string, network bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	binds := append([]string{
		r.driverDir + ":/driver:ro",
		r.pipVolume + ":" + sitePackagesPath,
	}, extraBinds...)

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.image,
			Cmd:             cmd,
			NetworkDisabled: !network,
		},
		&container.HostConfig{
			Binds: binds,
			Resources: container.Resources{
				Memory:   memLimitBytes,
				NanoCPUs: nanoCPUs,
			},
		}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	id := created.ID
	defer r.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("sandbox: execution timed out after %s", r.cfg.timeout)
			}
			return "", fmt.Errorf("sandbox: wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("sandbox: read logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("sandbox: demux logs: %w", err)
	}
	if exitCode != 0 {
		// The driver reports failures on stdout as protocol errors; pass
		// stdout through so invoke can surface them.
		if stdout.Len() > 0 {
			return stdout.String(), nil
		}
		return "", fmt.Errorf("sandbox: container exited %d: %s", exitCode, truncate(stderr.String(), 2048))
	}
	return stdout.String(), nil
}
