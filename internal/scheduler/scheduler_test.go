package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
	"github.com/antigravity-dev/reconx/internal/state"
)

type fakeBackend struct {
	calls   int64
	delay   time.Duration
	failing map[string]bool
}

func (f *fakeBackend) RunAction(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.failing != nil && f.failing[action.Target] {
		return model.Result{}, os.ErrInvalid
	}
	return model.Result{
		Summary:  model.NewSummary(1, action.Target),
		LogsPath: filepath.Join(outDir, "task.log"),
		Output:   "probed " + action.Target + "\n",
	}, nil
}

func newTestScheduler(t *testing.T, backend *fakeBackend, cfg Config) (*Scheduler, *state.Store) {
	t.Helper()
	if cfg.OutDir == "" {
		cfg.OutDir = t.TempDir()
	}
	if err := reconutil.EnsureDirs(cfg.OutDir); err != nil {
		t.Fatal(err)
	}
	s, err := state.Open(filepath.Join(cfg.OutDir, "_state.sqlite"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, backend, cfg), s
}

func TestRunDrainsAllPendingTasks(t *testing.T) {
	backend := &fakeBackend{}
	sched, store := newTestScheduler(t, backend, Config{TimeBudget: time.Minute, MaxParallel: 2, TimeoutPerTask: time.Second})

	actions := []model.Action{
		model.NewAction("http_enum", "a.com", nil),
		model.NewAction("http_enum", "b.com", nil),
	}
	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, err := store.GetAll()
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range all {
		if task.Status != model.TaskDone {
			t.Fatalf("task %d status = %s, want done", task.ID, task.Status)
		}
	}
	if atomic.LoadInt64(&backend.calls) != 2 {
		t.Fatalf("expected 2 backend calls, got %d", backend.calls)
	}
}

func TestRunMarksHandlerErrorsWithoutAbortingSchedule(t *testing.T) {
	backend := &fakeBackend{failing: map[string]bool{"bad.com": true}}
	sched, store := newTestScheduler(t, backend, Config{TimeBudget: time.Minute, MaxParallel: 2, TimeoutPerTask: time.Second})

	actions := []model.Action{
		model.NewAction("http_enum", "bad.com", nil),
		model.NewAction("http_enum", "good.com", nil),
	}
	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, _ := store.GetAll()
	statuses := map[string]model.TaskStatus{}
	for _, task := range all {
		statuses[task.Target] = task.Status
	}
	if statuses["bad.com"] != model.TaskError {
		t.Fatalf("bad.com status = %s, want error", statuses["bad.com"])
	}
	if statuses["good.com"] != model.TaskDone {
		t.Fatalf("good.com status = %s, want done", statuses["good.com"])
	}
}

func TestRunIsIdempotentAcrossReruns(t *testing.T) {
	backend := &fakeBackend{}
	outDir := t.TempDir()
	cfg := Config{OutDir: outDir, TimeBudget: time.Minute, MaxParallel: 1, TimeoutPerTask: time.Second}
	sched, store := newTestScheduler(t, backend, cfg)

	actions := []model.Action{model.NewAction("http_enum", "a.com", nil)}
	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstAll, _ := store.GetAll()

	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	secondAll, _ := store.GetAll()

	if len(firstAll) != len(secondAll) {
		t.Fatalf("task count changed across reruns: %d vs %d", len(firstAll), len(secondAll))
	}
	if firstAll[0].ID != secondAll[0].ID {
		t.Fatal("task id should be stable across reruns")
	}
}

func TestRunWithEmptyActionsWritesTimelineAndExits(t *testing.T) {
	backend := &fakeBackend{}
	sched, _ := newTestScheduler(t, backend, Config{TimeBudget: time.Minute, MaxParallel: 1, TimeoutPerTask: time.Second})

	if err := sched.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(sched.Config.OutDir, "_timeline.txt"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "Scheduler start") || !strings.Contains(text, "Scheduler end") {
		t.Fatalf("expected start/end timeline entries, got %q", text)
	}
}

func TestRunRecordsTickStatsAndOutputTail(t *testing.T) {
	backend := &fakeBackend{}
	sched, store := newTestScheduler(t, backend, Config{TimeBudget: time.Minute, MaxParallel: 2, TimeoutPerTask: time.Second})

	actions := []model.Action{
		model.NewAction("http_enum", "a.com", nil),
		model.NewAction("http_enum", "b.com", nil),
	}
	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ticks, err := store.CountSchedulerStats()
	if err != nil {
		t.Fatal(err)
	}
	if ticks == 0 {
		t.Fatal("expected at least one scheduler_stats row to be recorded")
	}

	all, err := store.GetAll()
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range all {
		if task.Status == model.TaskDone && task.OutputTail == "" {
			t.Fatalf("task %d: expected a non-empty output tail", task.ID)
		}
	}
}

func TestTailTrimsToByteLimitWithoutSplittingRunes(t *testing.T) {
	s := strings.Repeat("a", 10) + "é" + strings.Repeat("b", 10)
	got := tail(s, 11)
	if !strings.HasSuffix(s, got) {
		t.Fatalf("tail(%q, 11) = %q is not a suffix", s, got)
	}
	if len(got) > 11+1 {
		t.Fatalf("tail result too long: %q", got)
	}
}

func TestNormalizedMaxParallelTreatsNonPositiveAsOne(t *testing.T) {
	cases := []int{0, -1, -10}
	for _, v := range cases {
		cfg := Config{MaxParallel: v}
		if got := cfg.normalizedMaxParallel(); got != 1 {
			t.Errorf("normalizedMaxParallel(%d) = %d, want 1", v, got)
		}
	}
}

func TestTimeBudgetBoundaryStopsFurtherDispatch(t *testing.T) {
	backend := &fakeBackend{delay: 150 * time.Millisecond}
	sched, store := newTestScheduler(t, backend, Config{
		TimeBudget: 100 * time.Millisecond, MaxParallel: 1, TimeoutPerTask: time.Second,
	})

	actions := []model.Action{
		model.NewAction("http_enum", "a.com", nil),
		model.NewAction("http_enum", "b.com", nil),
		model.NewAction("http_enum", "c.com", nil),
	}
	if err := sched.Run(context.Background(), actions); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, _ := store.GetAll()
	doneCount := 0
	for _, task := range all {
		if task.Status == model.TaskDone {
			doneCount++
		}
	}
	if doneCount < 1 {
		t.Fatal("expected the first dispatched task to finish")
	}
	if doneCount == len(all) {
		t.Fatal("expected the tight time budget to prevent every task from completing")
	}
}
