// Package rules implements the Rule Engine: a pure matcher from a normalized
// ClusterEvent to the ordered list of (rule id, playbook id) pairs that apply.
package rules

import (
	"regexp"

	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
)

// Match is one (rule id, playbook id) pair returned by Engine.Match.
type Match struct {
	RuleID     string
	PlaybookID string
}

// Rule is a single condition -> playbook binding, registered at startup in
// the order they should be evaluated (spec.md §3: "order of matching rules is
// the order of registration").
type Rule struct {
	ID             string
	Name           string
	EventKind      clusterevent.Kind
	NamespaceRegex *regexp.Regexp // nil means "match any namespace" (default .*)
	SeverityFloor  clusterevent.Severity
	PlaybookID     string
}

// Matches reports whether r applies to e.
func (r Rule) Matches(e clusterevent.Event) bool {
	if r.EventKind != e.Kind {
		return false
	}
	if !e.Severity.AtLeast(r.SeverityFloor) {
		return false
	}
	if r.NamespaceRegex == nil {
		return true
	}
	return r.NamespaceRegex.MatchString(e.Namespace)
}

// Engine holds an immutable, registration-ordered rule set built at startup.
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine from an ordered rule slice. The slice's order is
// preserved exactly — callers that want the five built-in bindings plus
// overrides should append overrides after (or before) the built-ins
// themselves; the Engine never reorders.
func NewEngine(rules []Rule) *Engine {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Engine{rules: cp}
}

// Match returns every (rule id, playbook id) pair whose rule matches e, in
// registration order. Pure: never mutates e or the engine's rule set.
func (e *Engine) Match(event clusterevent.Event) []Match {
	var matches []Match
	for _, r := range e.rules {
		if r.Matches(event) {
			matches = append(matches, Match{RuleID: r.ID, PlaybookID: r.PlaybookID})
		}
	}
	return matches
}

// BuiltinRules returns the five built-in kind-to-playbook bindings from
// spec.md §4.2. NamespaceRegex is nil (match any namespace) for all of them;
// SeverityFloor is Info (match any severity) for the four WatchLoop kinds and
// Warning for the AlertmanagerFiring scale-up rule — operators layer narrower
// overrides in front of or behind this slice as NewEngine input.
func BuiltinRules() []Rule {
	return []Rule{
		{ID: "rule-001", Name: "crash loop remediation", EventKind: clusterevent.CrashLoop, SeverityFloor: clusterevent.Info, PlaybookID: "crash_loop_remediation"},
		{ID: "rule-002", Name: "oom kill remediation", EventKind: clusterevent.OOMKilled, SeverityFloor: clusterevent.Info, PlaybookID: "oom_kill_remediation"},
		{ID: "rule-003", Name: "node not ready remediation", EventKind: clusterevent.NotReadyNode, SeverityFloor: clusterevent.Info, PlaybookID: "node_not_ready_remediation"},
		{ID: "rule-004", Name: "deployment rollback", EventKind: clusterevent.ReplicationFailure, SeverityFloor: clusterevent.Info, PlaybookID: "deployment_rollback"},
		{ID: "rule-005", Name: "scale up on load", EventKind: clusterevent.AlertmanagerFiring, SeverityFloor: clusterevent.Warning, PlaybookID: "scale_up_on_load"},
	}
}
