package rules

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RecordKind identifies which record stream a rule's match expression
// iterates: evidence records or finding records.
type RecordKind int

const (
	KindEvidence RecordKind = iota
	KindFindings
)

// RunSpec is one entry in a rule's "then.run" list: an Action template.
type RunSpec struct {
	Tool string
	With map[string]interface{}
}

// Rule is a compiled rule document entry.
type Rule struct {
	Source string // raw match string, for diagnostics
	Kind   RecordKind
	Match  Node
	Run    []RunSpec
}

type rawThen struct {
	Run []rawRun `yaml:"run"`
}

type rawRun struct {
	Tool string                 `yaml:"tool"`
	With map[string]interface{} `yaml:"with"`
}

type rawRule struct {
	Match string  `yaml:"match"`
	Then  rawThen `yaml:"then"`
}

// Load reads a YAML rule document from path. The document must be a list;
// unrecognized top-level keys on each entry are ignored (yaml.v3 does this
// by default since rawRule has no inline/strict directive).
//
// A rule whose match expression fails to parse (it would require a
// disallowed AST node, or is not lexically well-formed) is logged and
// skipped rather than aborting the whole load: one bad rule should not
// block every other rule in the file.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}

	var raw []rawRule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rules: parse %s: must be a YAML list: %w", path, err)
	}

	var out []Rule
	for _, r := range raw {
		rule, err := compileRule(r)
		if err != nil {
			slog.Warn("skipping rule with invalid match expression", "match", r.Match, "error", err)
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func compileRule(r rawRule) (Rule, error) {
	kind, inner, err := splitMatch(r.Match)
	if err != nil {
		return Rule{}, err
	}
	node, err := parseExpr(inner)
	if err != nil {
		return Rule{}, err
	}

	runs := make([]RunSpec, 0, len(r.Then.Run))
	for _, rr := range r.Then.Run {
		runs = append(runs, RunSpec{Tool: rr.Tool, With: rr.With})
	}

	return Rule{Source: r.Match, Kind: kind, Match: node, Run: runs}, nil
}

// splitMatch parses the "evidence[<expr>]" / "findings[<expr>]" outer
// wrapper and returns the record kind and the inner expression text.
func splitMatch(match string) (RecordKind, string, error) {
	match = strings.TrimSpace(match)
	var kind RecordKind
	var prefix string
	switch {
	case strings.HasPrefix(match, "evidence["):
		kind, prefix = KindEvidence, "evidence["
	case strings.HasPrefix(match, "findings["):
		kind, prefix = KindFindings, "findings["
	default:
		return 0, "", fmt.Errorf("rules: match must start with evidence[ or findings[: %q", match)
	}
	if !strings.HasSuffix(match, "]") {
		return 0, "", fmt.Errorf("rules: match missing closing bracket: %q", match)
	}
	inner := match[len(prefix) : len(match)-1]
	return kind, inner, nil
}
