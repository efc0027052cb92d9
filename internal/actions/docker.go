package actions

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// DockerRun executes a step inside a container and waits for it to exit.
//
// Parameters: image (required), workdir (in-container mount point for the
// run workspace, default /workspace), pull ("never" skips the image pull).
// The step's command, when present, replaces the image CMD via `sh -c`.
type DockerRun struct {
	once sync.Once
	cli  *client.Client
	err  error
}

func NewDockerRun() *DockerRun { return &DockerRun{} }

func (d *DockerRun) Name() string { return "docker-run" }

// connect initializes the Docker client on first use, so a registry holding
// this action can be built on hosts without a Docker daemon as long as no
// docker-run step executes.
func (d *DockerRun) connect() (*client.Client, error) {
	d.once.Do(func() {
		d.cli, d.err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})
	return d.cli, d.err
}

func (d *DockerRun) Exec(ctx context.Context, inv pipeline.Invocation) (int, error) {
	img := inv.With["image"]
	if img == "" {
		return -1, fmt.Errorf("docker-run: image parameter is required")
	}
	cli, err := d.connect()
	if err != nil {
		return -1, fmt.Errorf("docker-run: %w", err)
	}

	if inv.With["pull"] != "never" {
		reader, perr := cli.ImagePull(ctx, img, image.PullOptions{})
		if perr != nil {
			fmt.Fprintf(inv.Output, "pull of %s failed: %v\n", img, perr)
			return 1, nil
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	workdir := inv.With["workdir"]
	if workdir == "" {
		workdir = "/workspace"
	}

	cfg := &container.Config{
		Image:      img,
		Env:        inv.Env,
		WorkingDir: workdir,
		Labels: map[string]string{
			"piperunner.run":   envValue(inv.Env, "RUN_ID"),
			"piperunner.stage": inv.Stage,
			"piperunner.step":  inv.Step,
		},
	}
	if inv.Command != "" {
		cfg.Cmd = []string{"sh", "-c", inv.Command}
	}
	hostCfg := &container.HostConfig{}
	if inv.Dir != "" {
		hostCfg.Binds = []string{inv.Dir + ":" + workdir}
	}

	name := containerName(inv.Step)
	created, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return -1, fmt.Errorf("docker-run: create container: %w", err)
	}

	// The container outlives a canceled step context just long enough to be
	// stopped and removed.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		timeout := 10
		cli.ContainerStop(cleanupCtx, created.ID, container.StopOptions{Timeout: &timeout})
		cli.ContainerRemove(cleanupCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("docker-run: start container: %w", err)
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err == nil {
		defer logs.Close()
		go stdcopy.StdCopy(inv.Output, inv.Output, logs)
	}

	statusCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case werr := <-errCh:
		return -1, fmt.Errorf("docker-run: wait: %w", werr)
	}
}

func containerName(step string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, step)
	return fmt.Sprintf("piperunner-%s-%s", clean, uuid.NewString()[:8])
}
