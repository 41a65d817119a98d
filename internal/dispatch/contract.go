// Package dispatch implements the adapter contract every probe handler
// satisfies, plus the two execution backends (host subprocess, sandboxed
// Docker container) that run them.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// Backend executes one planned Action and returns its Result. Both the host
// and Docker-sandboxed implementations, and the named in-process handlers,
// satisfy this contract.
type Backend interface {
	RunAction(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Result, error)
}

// HandlerFunc is the signature every named, in-process probe handler
// implements. It receives the run's output directory (the same for every
// action) and returns the Summary it observed.
type HandlerFunc func(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error)

// Registry maps tool names to their in-process handler. Tools not present
// here, and not of the form "layerN", are unknown and yield an empty
// Summary rather than an error: an unrecognized tool is a planning
// concern, not a dispatch failure.
type Registry map[string]HandlerFunc

// DefaultRegistry returns the built-in named probe handlers.
func DefaultRegistry() Registry {
	return Registry{
		"http_enum":  HTTPEnum,
		"ssh_banner": SSHBanner,
		"dns_enum":   DNSEnum,
		"tls_probe":  TLSProbe,
		"nmap":       Nmap,
	}
}

// HostDispatcher runs actions as local subprocesses: named tools route to
// their in-process HandlerFunc, and any "layerN"-prefixed tool is resolved
// to an external recon_layerN.sh script and run via reconutil.SafeRun.
type HostDispatcher struct {
	Registry   Registry
	CPUSeconds int
	MemBytes   int64

	// HandlerCeilings caps a named handler's effective timeout below the
	// scheduler's per-task timeout (HTTP probe capped at 30s, banner grab
	// at 15s, ...). A tool absent from this map runs under the scheduler's
	// timeout unmodified.
	HandlerCeilings map[string]time.Duration
}

// NewHostDispatcher returns a HostDispatcher wired to the default handler
// registry and no resource ceilings.
func NewHostDispatcher() *HostDispatcher {
	return &HostDispatcher{Registry: DefaultRegistry()}
}

// NewHostDispatcherWithCeilings returns a HostDispatcher wired to the default
// handler registry and the given per-handler timeout ceilings.
func NewHostDispatcherWithCeilings(ceilings map[string]time.Duration) *HostDispatcher {
	return &HostDispatcher{Registry: DefaultRegistry(), HandlerCeilings: ceilings}
}

func (h *HostDispatcher) RunAction(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return model.Result{}, fmt.Errorf("dispatch: ensure out dir: %w", err)
	}

	if handler, ok := h.Registry[action.Tool]; ok {
		if ceiling, ok := h.HandlerCeilings[action.Tool]; ok && ceiling > 0 && ceiling < timeout {
			timeout = ceiling
		}
		summary, err := handler(ctx, action, outDir, timeout)
		if err != nil {
			return model.Result{Summary: model.NewSummary(0, action.Target)}, err
		}
		return model.Result{Summary: summary}, nil
	}

	if IsLayerTool(action.Tool) {
		return h.runLayerScript(ctx, action, outDir, timeout)
	}

	return model.Result{Summary: model.NewSummary(0, action.Target)}, nil
}

// IsLayerTool reports whether tool names an external layer script, i.e.
// matches "layer" followed by one or more digits.
func IsLayerTool(tool string) bool {
	const prefix = "layer"
	if len(tool) <= len(prefix) || tool[:len(prefix)] != prefix {
		return false
	}
	if _, err := strconv.Atoi(tool[len(prefix):]); err != nil {
		return false
	}
	return true
}

// FindLayerScript searches for "recon_<tool>.sh" in, in order: the current
// working directory, the parent of outDir, and $PATH.
func FindLayerScript(tool, outDir string) (string, error) {
	name := fmt.Sprintf("recon_%s.sh", tool)

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, name)
		if fileExists(candidate) {
			return candidate, nil
		}
	}

	parent := filepath.Dir(filepath.Clean(outDir))
	candidate := filepath.Join(parent, name)
	if fileExists(candidate) {
		return candidate, nil
	}

	if found, err := exec.LookPath(name); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("dispatch: no script found for tool %q (looked for %s)", tool, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// runLayerScript finds "recon_<tool>.sh", runs it with T=<target> and
// OUT=<out_dir> in its environment, writes combined stdout+stderr to
// <out>/<tool>/<tool>.log.txt, and then reads <out>/<tool>/summary.json if
// present, falling back to an empty summary for that layer when it's not.
func (h *HostDispatcher) runLayerScript(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Result, error) {
	layerNum := layerNumber(action.Tool)
	layerDir := filepath.Join(outDir, action.Tool)
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return model.Result{}, fmt.Errorf("dispatch: ensure layer dir: %w", err)
	}

	script, err := FindLayerScript(action.Tool, outDir)
	if err != nil {
		return model.Result{Summary: model.NewSummary(layerNum, action.Target)}, nil
	}

	env := append(os.Environ(), "T="+action.Target, "OUT="+outDir)
	_, stdout, stderr, runErr := reconutil.SafeRun([]string{script}, reconutil.RunOpts{
		Timeout:    timeout,
		Env:        env,
		CPUSeconds: h.CPUSeconds,
		MemBytes:   h.MemBytes,
	})
	combined := stdout + stderr

	logPath := filepath.Join(layerDir, fmt.Sprintf("%s.log.txt", action.Tool))
	if writeErr := os.WriteFile(logPath, []byte(combined), 0o644); writeErr != nil {
		return model.Result{}, fmt.Errorf("dispatch: write layer log: %w", writeErr)
	}

	summary := model.NewSummary(layerNum, action.Target)
	summaryPath := filepath.Join(layerDir, "summary.json")
	if fileExists(summaryPath) {
		if loadErr := reconutil.LoadJSON(summaryPath, &summary); loadErr != nil {
			return model.Result{}, fmt.Errorf("dispatch: read layer summary: %w", loadErr)
		}
	}

	if runErr != nil {
		return model.Result{Summary: summary, LogsPath: logPath, Output: combined}, runErr
	}
	return model.Result{Summary: summary, LogsPath: logPath, Output: combined}, nil
}

// layerNumber extracts N from a "layerN" tool name; callers only invoke
// this after IsLayerTool has confirmed the format.
func layerNumber(tool string) int {
	n, _ := strconv.Atoi(tool[len("layer"):])
	return n
}
