package rules

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/antigravity-dev/reconx/internal/model"
)

// EmitActions evaluates every rule against the Evidence/Finding records
// pooled from summaries and, for each rule with at least one matching
// record, emits one Action per (then.run entry) per distinct target seen
// across summaries. The first matching record's fields are available for
// "with" templating alongside "{target}".
func EmitActions(rules []Rule, summaries []model.Summary) []model.Action {
	evidenceRecords := evidenceAsRecords(summaries)
	findingRecords := findingsAsRecords(summaries)
	targets := distinctTargets(summaries)

	var actions []model.Action
	for _, rule := range rules {
		records := evidenceRecords
		if rule.Kind == KindFindings {
			records = findingRecords
		}

		var first map[string]interface{}
		matched := false
		for _, rec := range records {
			if Eval(rule.Match, rec) {
				matched = true
				first = rec
				break
			}
		}
		if !matched {
			continue
		}

		for _, target := range targets {
			for _, run := range rule.Run {
				args := templateArgs(run.With, target, first)
				actions = append(actions, model.NewAction(run.Tool, target, args))
			}
		}
	}
	return actions
}

func evidenceAsRecords(summaries []model.Summary) []map[string]interface{} {
	var out []map[string]interface{}
	for _, s := range summaries {
		for _, ev := range s.Evidence {
			rec := map[string]interface{}{
				"type":    ev.Type,
				"proto":   ev.Proto,
				"service": ev.Service,
				"product": ev.Product,
				"version": ev.Version,
				"name":    ev.Name,
				"url":     ev.URL,
			}
			if ev.Port != nil {
				rec["port"] = float64(*ev.Port)
			}
			out = append(out, rec)
		}
	}
	return out
}

func findingsAsRecords(summaries []model.Summary) []map[string]interface{} {
	var out []map[string]interface{}
	for _, s := range summaries {
		for _, f := range s.Findings {
			out = append(out, map[string]interface{}{
				"id":           f.ID,
				"title":        f.Title,
				"severity":     f.Severity,
				"evidence_ref": f.EvidenceRef,
			})
		}
	}
	return out
}

func distinctTargets(summaries []model.Summary) []string {
	set := map[string]bool{}
	for _, s := range summaries {
		set[s.Target] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// templateArgs renders each string value in with using "{target}" and any
// field name present on first. An unresolvable placeholder leaves that
// part of the string untouched rather than failing the whole rule.
// Non-string values pass through unchanged.
func templateArgs(with map[string]interface{}, target string, first map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(with))
	for k, v := range with {
		s, isString := v.(string)
		if !isString {
			out[k] = v
			continue
		}
		out[k] = renderTemplate(s, target, first)
	}
	return out
}

// renderTemplate substitutes each recognized "{name}" placeholder ("target"
// or a field present on first) with its value. A placeholder naming
// anything else is a per-placeholder formatting error and is left verbatim
// in the result rather than aborting the whole substitution.
func renderTemplate(s, target string, first map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "target" {
			return target
		}
		if first != nil {
			if v, ok := first[name]; ok {
				return fmt.Sprint(v)
			}
		}
		return m
	})
}
