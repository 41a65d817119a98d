package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/reconx/internal/model"
)

func TestIsLayerTool(t *testing.T) {
	cases := map[string]bool{
		"layer1":    true,
		"layer42":   true,
		"layer":     false,
		"layerabc":  false,
		"http_enum": false,
		"layer1x":   false,
	}
	for tool, want := range cases {
		if got := IsLayerTool(tool); got != want {
			t.Errorf("IsLayerTool(%q) = %v, want %v", tool, got, want)
		}
	}
}

func TestFindLayerScriptSearchesOutDirParent(t *testing.T) {
	base := t.TempDir()
	outDir := filepath.Join(base, "run", "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	scriptPath := filepath.Join(base, "run", "recon_layer1.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := FindLayerScript("layer1", outDir)
	if err != nil {
		t.Fatalf("FindLayerScript: %v", err)
	}
	if found != scriptPath {
		t.Fatalf("found = %q, want %q", found, scriptPath)
	}
}

func TestFindLayerScriptNotFound(t *testing.T) {
	outDir := t.TempDir()
	if _, err := FindLayerScript("layer99", outDir); err == nil {
		t.Fatal("expected error when no script is found")
	}
}

func TestHostDispatcherRunsLayerScriptAndReadsSummary(t *testing.T) {
	base := t.TempDir()
	outDir := filepath.Join(base, "run", "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := `#!/bin/sh
mkdir -p "$OUT/layer1"
echo "scanning $T"
cat > "$OUT/layer1/summary.json" <<JSON
{"layer":1,"target":"$T","evidence":[{"type":"service","port":80,"service":"http"}],"findings":[],"artifacts":[]}
JSON
`
	if err := os.WriteFile(filepath.Join(base, "run", "recon_layer1.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	h := NewHostDispatcher()
	action := model.NewAction("layer1", "1.2.3.4", nil)
	result, err := h.RunAction(context.Background(), action, outDir, 5*time.Second)
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if result.LogsPath == "" {
		t.Fatal("expected a log file path on the result")
	}
	if result.Summary.Layer != 1 {
		t.Fatalf("Summary.Layer = %d, want 1", result.Summary.Layer)
	}
	if result.Summary.Target != "1.2.3.4" {
		t.Fatalf("Summary.Target = %q, want 1.2.3.4", result.Summary.Target)
	}
	if len(result.Summary.Evidence) != 1 || result.Summary.Evidence[0].Service != "http" {
		t.Fatalf("expected 1 http evidence entry, got %+v", result.Summary.Evidence)
	}
}

func TestHostDispatcherLayerScriptMissingYieldsEmptySummary(t *testing.T) {
	outDir := t.TempDir()
	h := NewHostDispatcher()
	action := model.NewAction("layer9", "1.2.3.4", nil)
	result, err := h.RunAction(context.Background(), action, outDir, time.Second)
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if result.Summary.Layer != 9 || result.Summary.Target != "1.2.3.4" {
		t.Fatalf("expected empty layer-9 summary stub, got %+v", result.Summary)
	}
	if len(result.Summary.Evidence) != 0 {
		t.Fatal("expected no evidence when script is missing")
	}
}

func TestHostDispatcherUnknownToolYieldsEmptySummary(t *testing.T) {
	h := NewHostDispatcher()
	outDir := t.TempDir()
	action := model.NewAction("totally_unknown_tool", "example.com", nil)
	result, err := h.RunAction(context.Background(), action, outDir, time.Second)
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if len(result.Summary.Evidence) != 0 || len(result.Summary.Findings) != 0 {
		t.Fatal("expected empty summary for unknown tool")
	}
}

func TestHostDispatcherRoutesToNamedHandler(t *testing.T) {
	called := false
	h := &HostDispatcher{Registry: Registry{
		"fake_tool": func(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
			called = true
			return model.NewSummary(0, action.Target), nil
		},
	}}
	_, err := h.RunAction(context.Background(), model.NewAction("fake_tool", "x", nil), t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if !called {
		t.Fatal("expected registered handler to be invoked")
	}
}
