package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/reconx/internal/config"
	"github.com/antigravity-dev/reconx/internal/dispatch"
	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/planner"
	"github.com/antigravity-dev/reconx/internal/reconutil"
	"github.com/antigravity-dev/reconx/internal/report"
	"github.com/antigravity-dev/reconx/internal/rules"
	"github.com/antigravity-dev/reconx/internal/scheduler"
	"github.com/antigravity-dev/reconx/internal/scope"
	"github.com/antigravity-dev/reconx/internal/state"
)

// runFlags collects the CLI surface shared by plan, run, and resume, per
// the target/scope/out/layers/plan/rules/max-parallel/timeout/rate/
// time-budget flag list.
type runFlags struct {
	target      string
	scopePath   string
	outDir      string
	layers      []string
	planMode    string
	rulesPath   string
	maxParallel int
	timeout     int
	rate        float64
	timeBudget  int
	configPath  string
	sandbox     bool
}

func addSharedFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.target, "target", "", "target host or network to recon (required)")
	cmd.Flags().StringVar(&f.scopePath, "scope", "", "path to the scope JSON file (required)")
	cmd.Flags().StringVar(&f.outDir, "out", "", "output directory for this run (required)")
	cmd.Flags().StringSliceVar(&f.layers, "layers", []string{"1", "2", "3", "4"}, "comma-separated layer numbers to seed")
	cmd.Flags().StringVar(&f.planMode, "plan", "auto", `planning mode: "auto" (rules-derived) or "manual" (seed only)`)
	cmd.Flags().StringVar(&f.rulesPath, "rules", "examples/rules.yaml", "path to the rule document")
	cmd.Flags().IntVar(&f.maxParallel, "max-parallel", 1, "maximum concurrent task dispatch")
	cmd.Flags().IntVar(&f.timeout, "timeout", 600, "per-task timeout in seconds")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "maximum dispatch batches per second (0 disables throttling)")
	cmd.Flags().IntVar(&f.timeBudget, "time-budget", 0, "scheduler wall-clock budget in minutes (default: scope's time_budget_minutes)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to an optional reconx.toml configuration file")
	cmd.Flags().BoolVar(&f.sandbox, "sandbox", false, "run adapter dispatch inside a sandboxed Docker container instead of the host")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("out")
}

func layerTools(layers []string) []string {
	out := make([]string, 0, len(layers))
	for _, l := range layers {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, "layer"+l)
	}
	return out
}

// buildPlan loads scope and rules, seeds layer actions for the --target
// value (which must be in scope), optionally derives rule-based actions from whatever layer
// summaries already exist under outDir, and returns the deduplicated,
// allowed-tools-filtered plan.
func buildPlan(f *runFlags) (model.Scope, []model.Action, error) {
	sc, err := scope.Load(f.scopePath)
	if err != nil {
		return model.Scope{}, nil, err
	}
	if !sc.HasTarget(f.target) {
		return model.Scope{}, nil, fmt.Errorf("reconx: target %q is not present in scope targets", f.target)
	}

	seed := planner.Seed(layerTools(f.layers), []string{f.target})

	var ruleDerived []model.Action
	if f.planMode == "auto" {
		ruleSet, err := rules.Load(f.rulesPath)
		if err != nil {
			return model.Scope{}, nil, fmt.Errorf("reconx: loading rules: %w", err)
		}
		existing, err := report.LoadLayerSummaries(f.outDir)
		if err != nil {
			return model.Scope{}, nil, fmt.Errorf("reconx: loading layer summaries: %w", err)
		}
		// Summaries can mention hosts outside the authorization envelope;
		// actions against them are dropped here, not at dispatch time.
		for _, a := range rules.EmitActions(ruleSet, existing) {
			if sc.HasTarget(a.Target) {
				ruleDerived = append(ruleDerived, a)
			}
		}
	}

	planned, err := planner.Plan(seed, ruleDerived, sc.AllowedToolSet())
	if err != nil {
		return model.Scope{}, nil, fmt.Errorf("reconx: planning: %w", err)
	}
	return sc, planned, nil
}

// writeNextSteps persists the planned action list as a human-facing
// Markdown checklist once, before scheduling begins.
func writeNextSteps(outDir string, planned []model.Action) error {
	var b strings.Builder
	b.WriteString("# Next steps\n\n")
	for _, a := range planned {
		fmt.Fprintf(&b, "- [ ] `%s` on `%s` (priority %d)\n", a.Tool, a.Target, a.Priority)
	}
	path := filepath.Join(outDir, "next_steps.md")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("reconx: ensure out dir: %w", err)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func newPlanCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute and persist the planned action list without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scope.CheckAuthGate(); err != nil {
				return err
			}
			_, planned, err := buildPlan(f)
			if err != nil {
				return err
			}
			if err := reconutil.EnsureDirs(f.outDir); err != nil {
				return fmt.Errorf("reconx: ensuring reserved out-dirs: %w", err)
			}
			if err := writeNextSteps(f.outDir, planned); err != nil {
				return fmt.Errorf("reconx: writing next_steps.md: %w", err)
			}
			slog.Info("plan computed", "actions", len(planned), "out", f.outDir)
			return nil
		},
	}
	addSharedFlags(cmd, f)
	return cmd
}

func newRunCmd(use string) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: "Plan and execute recon actions under a time-budgeted schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(cmd.Context(), f)
		},
	}
	addSharedFlags(cmd, f)
	return cmd
}

func doRun(ctx context.Context, f *runFlags) error {
	if err := scope.CheckAuthGate(); err != nil {
		return err
	}

	sc, planned, err := buildPlan(f)
	if err != nil {
		return err
	}
	if err := reconutil.EnsureDirs(f.outDir); err != nil {
		return fmt.Errorf("reconx: ensuring reserved out-dirs: %w", err)
	}
	if err := writeNextSteps(f.outDir, planned); err != nil {
		return fmt.Errorf("reconx: writing next_steps.md: %w", err)
	}

	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return fmt.Errorf("reconx: loading config: %w", err)
	}
	cfgManager := config.NewManager(cfg)
	if f.configPath != "" {
		stopReload := watchConfigReload(f.configPath, cfgManager)
		defer stopReload()
	}

	resolvedCfg := cfgManager.Get()
	if f.sandbox {
		resolvedCfg.Dispatch.Backend = "docker"
	}
	backend, err := buildBackend(resolvedCfg)
	if err != nil {
		return err
	}

	store, err := state.Open(filepath.Join(f.outDir, "_state.sqlite"))
	if err != nil {
		return fmt.Errorf("reconx: opening state store: %w", err)
	}
	defer store.Close()

	timeBudget := f.timeBudget
	if timeBudget <= 0 {
		timeBudget = sc.TimeBudgetMinutes
	}

	sched := scheduler.New(store, backend, scheduler.Config{
		OutDir:         f.outDir,
		TimeBudget:     time.Duration(timeBudget) * time.Minute,
		MaxParallel:    f.maxParallel,
		TimeoutPerTask: time.Duration(f.timeout) * time.Second,
		RatePerSec:     f.rate,
	})

	slog.Info("scheduler starting", "actions", len(planned), "time_budget_minutes", timeBudget, "max_parallel", f.maxParallel)
	if err := sched.Run(ctx, planned); err != nil {
		return fmt.Errorf("reconx: scheduler run: %w", err)
	}

	return buildReport(f.outDir)
}

// watchConfigReload installs a SIGHUP handler that reloads configPath into
// manager. The scheduler's backend is resolved from the manager once at
// start; a SIGHUP mid-run updates the manager's snapshot for the next
// invocation of this binary but does not hot-swap the in-flight backend.
// The returned func stops the watcher and must be called before returning.
func watchConfigReload(configPath string, manager *config.RWMutexManager) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				if err := manager.Reload(configPath); err != nil {
					slog.Error("config reload failed", "path", configPath, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", configPath)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func buildBackend(cfg *config.Config) (dispatch.Backend, error) {
	switch cfg.Dispatch.Backend {
	case "docker":
		backend, err := dispatch.NewDockerDispatcher(cfg.Dispatch.Docker)
		if err != nil {
			return nil, fmt.Errorf("reconx: docker backend: %w", err)
		}
		return backend, nil
	default:
		return dispatch.NewHostDispatcherWithCeilings(handlerCeilings(cfg.Handlers)), nil
	}
}

// handlerCeilings converts the config's per-handler second ceilings into the
// time.Duration map HostDispatcher clamps against.
func handlerCeilings(h config.Handlers) map[string]time.Duration {
	return map[string]time.Duration{
		"http_enum":  time.Duration(h.HTTPEnumSeconds) * time.Second,
		"ssh_banner": time.Duration(h.SSHBannerSeconds) * time.Second,
		"dns_enum":   time.Duration(h.DNSEnumSeconds) * time.Second,
		"tls_probe":  time.Duration(h.TLSProbeSeconds) * time.Second,
		"nmap":       time.Duration(h.NmapSeconds) * time.Second,
	}
}

func buildReport(outDir string) error {
	layerSummaries, err := report.LoadLayerSummaries(outDir)
	if err != nil {
		return fmt.Errorf("reconx: loading layer summaries: %w", err)
	}
	combinedSummaries, err := report.LoadCombinedSummaries(outDir)
	if err != nil {
		return fmt.Errorf("reconx: loading combined summaries: %w", err)
	}

	combined := report.Build(append(layerSummaries, combinedSummaries...))
	if _, err := report.RenderJSON(combined, outDir); err != nil {
		return fmt.Errorf("reconx: rendering json report: %w", err)
	}
	if _, err := report.RenderHTML(combined, outDir); err != nil {
		return fmt.Errorf("reconx: rendering html report: %w", err)
	}

	timelinePath := filepath.Join(outDir, "_timeline.txt")
	return reconutil.AppendTimeline(timelinePath, "Report written")
}
