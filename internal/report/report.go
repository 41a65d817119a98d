// Package report aggregates per-target Summaries into the combined model a
// run publishes: the sorted-unique target set, every Evidence/Finding/
// Artifact flattened and target-annotated, and the "services" subset of
// evidence whose type is "service".
package report

import (
	"sort"

	"github.com/antigravity-dev/reconx/internal/model"
)

// TargetEvidence is an Evidence record annotated with the target it was
// observed on.
type TargetEvidence struct {
	Target string `json:"target"`
	model.Evidence
}

// TargetFinding is a Finding record annotated with its source target.
type TargetFinding struct {
	Target string `json:"target"`
	model.Finding
}

// TargetArtifact is an Artifact record annotated with its source target.
type TargetArtifact struct {
	Target string `json:"target"`
	model.Artifact
}

// Combined is the aggregated model rendered to both JSON and HTML.
type Combined struct {
	Targets   []string         `json:"targets"`
	Evidence  []TargetEvidence `json:"evidence"`
	Services  []TargetEvidence `json:"services"`
	Findings  []TargetFinding  `json:"findings"`
	Artifacts []TargetArtifact `json:"artifacts"`
}

// Build aggregates summaries into a Combined model.
func Build(summaries []model.Summary) Combined {
	targetSet := map[string]bool{}
	var evidence []TargetEvidence
	var services []TargetEvidence
	var findings []TargetFinding
	var artifacts []TargetArtifact

	for _, s := range summaries {
		targetSet[s.Target] = true
		for _, ev := range s.Evidence {
			te := TargetEvidence{Target: s.Target, Evidence: ev}
			evidence = append(evidence, te)
			if ev.Type == "service" {
				services = append(services, te)
			}
		}
		for _, f := range s.Findings {
			findings = append(findings, TargetFinding{Target: s.Target, Finding: f})
		}
		for _, a := range s.Artifacts {
			artifacts = append(artifacts, TargetArtifact{Target: s.Target, Artifact: a})
		}
	}

	targets := make([]string, 0, len(targetSet))
	for t := range targetSet {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	return Combined{
		Targets:   targets,
		Evidence:  evidence,
		Services:  services,
		Findings:  findings,
		Artifacts: artifacts,
	}
}
