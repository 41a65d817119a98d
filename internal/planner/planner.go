// Package planner merges seed actions (one per requested layer) with the
// rule evaluator's output into the final, deduplicated action list a run
// submits to the scheduler.
package planner

import (
	"fmt"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// SeedPriority is the priority given to one seed action per requested
// layer, ahead of any rule-derived action.
const SeedPriority = 1

// Seed returns one priority-1 Action per requested layer for each target in
// targets. layers are tool names of the form "layerN".
func Seed(layers []string, targets []string) []model.Action {
	var out []model.Action
	for _, target := range targets {
		for _, layer := range layers {
			a := model.NewAction(layer, target, map[string]interface{}{})
			a.Priority = SeedPriority
			out = append(out, a)
		}
	}
	return out
}

// Plan concatenates seed actions first and ruleDerived actions second,
// deduplicates by (tool, canonical(args), target) keeping the last
// occurrence (so an identical rule-derived action overrides its seed
// counterpart), and finally filters out any action whose tool is not in
// allowedTools (when allowedTools is non-empty).
func Plan(seed, ruleDerived []model.Action, allowedTools map[string]bool) ([]model.Action, error) {
	all := make([]model.Action, 0, len(seed)+len(ruleDerived))
	all = append(all, seed...)
	all = append(all, ruleDerived...)

	order := make([]string, 0, len(all))
	byKey := make(map[string]model.Action, len(all))
	for _, a := range all {
		key, err := dedupKey(a)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = a // last occurrence wins
	}

	out := make([]model.Action, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		if len(allowedTools) > 0 && !allowedTools[a.Tool] {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func dedupKey(a model.Action) (string, error) {
	canon, err := reconutil.CanonicalJSON(a.Args)
	if err != nil {
		return "", fmt.Errorf("canonicalize args: %w", err)
	}
	return fmt.Sprintf("%s\x00%s\x00%s", a.Tool, string(canon), a.Target), nil
}
