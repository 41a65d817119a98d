// Package scheduler drains the persistent task queue under a time budget,
// bounded parallelism, and an optional rate limit, invoking the adapter
// dispatch contract for each task and recording its outcome.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antigravity-dev/reconx/internal/dispatch"
	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
	"github.com/antigravity-dev/reconx/internal/state"
)

// Config bounds one scheduler drain run.
type Config struct {
	OutDir         string
	TimeBudget     time.Duration
	MaxParallel    int
	TimeoutPerTask time.Duration
	RatePerSec     float64
}

// normalizedMaxParallel treats zero or negative as 1.
func (c Config) normalizedMaxParallel() int {
	if c.MaxParallel <= 0 {
		return 1
	}
	return c.MaxParallel
}

// Scheduler drains a Store's pending tasks through a Backend.
type Scheduler struct {
	Store   *state.Store
	Backend dispatch.Backend
	Config  Config

	limiter *dispatch.RateLimiter
}

// New returns a Scheduler ready to Run.
func New(store *state.Store, backend dispatch.Backend, cfg Config) *Scheduler {
	return &Scheduler{
		Store:   store,
		Backend: backend,
		Config:  cfg,
		limiter: dispatch.NewRateLimiter(cfg.RatePerSec),
	}
}

// Run upserts every planned action, then drains the queue until the time
// budget is exhausted or no pending work remains. It returns the first
// unrecoverable (persistence) error encountered; per-task handler errors
// are recorded in the task store and master log, not returned.
func (s *Scheduler) Run(ctx context.Context, planned []model.Action) error {
	for _, action := range planned {
		if _, err := s.Store.Upsert(action); err != nil {
			return fmt.Errorf("scheduler: upsert: %w", err)
		}
	}

	ndjsonPath := filepath.Join(s.Config.OutDir, "_master_log.ndjson")
	timelinePath := filepath.Join(s.Config.OutDir, "_timeline.txt")

	deadline := time.Now().Add(s.Config.TimeBudget)
	if err := reconutil.AppendTimeline(timelinePath, fmt.Sprintf("Scheduler start; budget=%dm", int(s.Config.TimeBudget.Minutes()))); err != nil {
		return fmt.Errorf("scheduler: timeline: %w", err)
	}

	maxParallel := s.Config.normalizedMaxParallel()

	for time.Now().Before(deadline) {
		pending, err := s.Store.GetPending(maxParallel)
		if err != nil {
			return fmt.Errorf("scheduler: get pending: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		var wg sync.WaitGroup
		var done, errored int32
		for _, task := range pending {
			task := task
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.runOne(ctx, task, ndjsonPath) {
					atomic.AddInt32(&done, 1)
				} else {
					atomic.AddInt32(&errored, 1)
				}
			}()
		}
		wg.Wait()

		if stillPending, err := s.Store.GetPending(1 << 30); err == nil {
			_ = s.Store.RecordTick(len(pending), int(done), int(errored), len(stillPending))
		}

		if s.Config.RatePerSec > 0 {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}
	}

	if err := reconutil.AppendTimeline(timelinePath, "Scheduler end"); err != nil {
		return fmt.Errorf("scheduler: timeline: %w", err)
	}
	return nil
}

// maxOutputTail bounds the captured-output snippet persisted alongside a
// task's row: enough to spot-check a handler's behavior without inflating
// the state store with full probe transcripts (those live in logs_path).
const maxOutputTail = 4096

// runOne dispatches one task and reports whether it reached TaskDone.
func (s *Scheduler) runOne(ctx context.Context, task model.Task, ndjsonPath string) bool {
	if err := s.Store.SetStatus(task.ID, model.TaskRunning, ""); err != nil {
		return false
	}
	_ = reconutil.AppendNDJSON(ndjsonPath, map[string]interface{}{
		"ts": reconutil.UTCNowISO(), "event": "task_start", "task_id": task.ID,
	})

	action := model.Action{Tool: task.Tool, Args: task.Args, Target: task.Target, Priority: task.Priority}
	result, err := s.Backend.RunAction(ctx, action, s.Config.OutDir, s.Config.TimeoutPerTask)
	_ = s.Store.SetOutputTail(task.ID, tail(result.Output, maxOutputTail))
	if err != nil {
		_ = s.Store.SetStatus(task.ID, model.TaskError, "")
		_ = reconutil.AppendNDJSON(ndjsonPath, map[string]interface{}{
			"ts": reconutil.UTCNowISO(), "event": "task_error", "task_id": task.ID, "error": err.Error(),
		})
		return false
	}

	summaryPath := filepath.Join(s.Config.OutDir, "combined", fmt.Sprintf("summary_%d_%d.json", task.ID, time.Now().Unix()))
	if dumpErr := reconutil.DumpJSON(result.Summary, summaryPath); dumpErr != nil {
		_ = s.Store.SetStatus(task.ID, model.TaskError, "")
		_ = reconutil.AppendNDJSON(ndjsonPath, map[string]interface{}{
			"ts": reconutil.UTCNowISO(), "event": "task_error", "task_id": task.ID, "error": dumpErr.Error(),
		})
		return false
	}

	_ = s.Store.SetStatus(task.ID, model.TaskDone, result.LogsPath)
	_ = reconutil.AppendNDJSON(ndjsonPath, map[string]interface{}{
		"ts": reconutil.UTCNowISO(), "event": "task_done", "task_id": task.ID, "logs": result.LogsPath,
	})
	return true
}

// tail returns the last n bytes of s without splitting a multi-byte rune
// (it trims to the rune boundary at or after the byte cut).
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
