package report

import (
	"path/filepath"
	"sort"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// LoadLayerSummaries reads every "<out>/layer<N>/summary.json" file present
// under outDir, the per-layer probe output the planner and rule evaluator
// consume as input. Missing files are simply absent from the result; a
// probe that hasn't run yet contributes nothing.
func LoadLayerSummaries(outDir string) ([]model.Summary, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "layer*", "summary.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return loadAll(matches)
}

// LoadCombinedSummaries reads every per-task snapshot written by the
// scheduler under "<out>/combined/summary_<taskid>_<ts>.json", for final
// report aggregation.
func LoadCombinedSummaries(outDir string) ([]model.Summary, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "combined", "summary_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return loadAll(matches)
}

func loadAll(paths []string) ([]model.Summary, error) {
	out := make([]model.Summary, 0, len(paths))
	for _, p := range paths {
		var s model.Summary
		if err := reconutil.LoadJSON(p, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
