package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/antigravity-dev/reconx/internal/config"
	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// DockerDispatcher runs layer-script actions inside a throwaway sandbox
// container instead of directly on the host. It bind-mounts the action's
// output directory and applies the configured CPU/memory ceilings, giving
// an untrusted or third-party recon script a harder boundary than the
// rlimit wrapper HostDispatcher falls back to.
type DockerDispatcher struct {
	cli *client.Client
	cfg config.Docker
}

// NewDockerDispatcher connects to the local Docker daemon using the
// standard environment-derived configuration (DOCKER_HOST et al.).
func NewDockerDispatcher(cfg config.Docker) (*DockerDispatcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dispatch: docker client: %w", err)
	}
	return &DockerDispatcher{cli: cli, cfg: cfg}, nil
}

func (d *DockerDispatcher) RunAction(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return model.Result{}, fmt.Errorf("dispatch: ensure out dir: %w", err)
	}

	var script string
	var err error
	if IsLayerTool(action.Tool) {
		script, err = FindLayerScript(action.Tool, outDir)
		if err != nil {
			return model.Result{Summary: model.NewSummary(0, action.Target)}, err
		}
	}

	name := fmt.Sprintf("reconx-%s-%s", action.Tool, uuid.NewString())
	outAbs, err := filepath.Abs(outDir)
	if err != nil {
		return model.Result{}, fmt.Errorf("dispatch: resolve out dir: %w", err)
	}

	containerCfg := &container.Config{
		Image:      d.cfg.Image,
		Tty:        false,
		WorkingDir: "/out",
		Env:        []string{"T=" + action.Target, "OUT=/out"},
	}
	if script != "" {
		containerCfg.Cmd = []string{"/bin/sh", "/script.sh"}
		containerCfg.Entrypoint = []string{}
	} else {
		containerCfg.Cmd = []string{"/bin/sh", "-c", fmt.Sprintf("echo 'no in-container handler for tool %s' >&2; exit 1", action.Tool)}
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: outAbs, Target: "/out"},
		},
		AutoRemove: false,
		Resources: container.Resources{
			NanoCPUs: int64(d.cfg.CPUs * 1e9),
			Memory:   d.cfg.MemoryMB * 1024 * 1024,
		},
		NetworkMode: dockerNetworkMode(d.cfg.NetworkOn),
	}
	if script != "" {
		scriptAbs, err := filepath.Abs(script)
		if err != nil {
			return model.Result{}, fmt.Errorf("dispatch: resolve script: %w", err)
		}
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type: mount.TypeBind, Source: scriptAbs, Target: "/script.sh", ReadOnly: true,
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.cli.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return model.Result{}, fmt.Errorf("dispatch: create sandbox container: %w", err)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return model.Result{}, fmt.Errorf("dispatch: start sandbox container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return model.Result{}, fmt.Errorf("dispatch: wait for sandbox container: %w", err)
		}
	case <-statusCh:
	case <-runCtx.Done():
		return model.Result{}, fmt.Errorf("dispatch: sandbox container timed out after %s", timeout)
	}

	rawLogs, _ := d.captureLogs(resp.ID)
	logs := reconutil.RedactSecrets(rawLogs)
	logPath := filepath.Join(outDir, fmt.Sprintf("%s.log", action.Tool))
	_ = os.WriteFile(logPath, []byte(logs), 0o644)

	layerNum := 0
	summaryPath := filepath.Join(outAbs, "summary.json")
	if IsLayerTool(action.Tool) {
		layerNum = layerNumber(action.Tool)
		summaryPath = filepath.Join(outAbs, action.Tool, "summary.json")
	}
	summary := model.NewSummary(layerNum, action.Target)
	if fileExists(summaryPath) {
		_ = reconutil.LoadJSON(summaryPath, &summary)
	}
	summary.Artifacts = append(summary.Artifacts, model.Artifact{Kind: "log", Path: logPath})
	return model.Result{Summary: summary, LogsPath: logPath, Output: logs}, nil
}

func (d *DockerDispatcher) captureLogs(containerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer out.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, out); err != nil {
		return "", err
	}
	return stdout.String() + stderr.String(), nil
}

func dockerNetworkMode(networkOn bool) container.NetworkMode {
	if networkOn {
		return "bridge"
	}
	return "none"
}
