package trigger

import (
	"strings"

	"github.com/pcharbon70/loom/internal/mapval"
)

// PostingMode controls whether an issue-triage run posts its result
// directly or waits for human approval.
type PostingMode string

const (
	// PostAuto posts the composed response without an approval gate.
	PostAuto PostingMode = "auto_post"
	// PostApprovalRequired gates posting behind a human decision.
	PostApprovalRequired PostingMode = "approval_required"
)

// Synonyms accepted for each posting mode.
var autoPostSynonyms = map[string]struct{}{
	"auto_post":    {},
	"autopost":     {},
	"auto":         {},
	"automatic":    {},
	"auto_approve": {},
}

var approvalRequiredSynonyms = map[string]struct{}{
	"approval_required": {},
	"approval":          {},
	"manual":            {},
	"require_approval":  {},
	"gated":             {},
}

// ResolvePostingMode interprets the trigger's approval policy.
//
// The mode is read from trigger.approval_policy.mode, accepting the
// synonyms above. A legacy boolean auto_post flag is honored next, first
// on the approval_policy sub-map and then on the trigger itself. Anything
// unresolvable, including a missing trigger, defaults to
// approval_required: never auto-post on ambiguous configuration.
func ResolvePostingMode(trig map[string]any) PostingMode {
	policy := mapval.Map(trig, "approval_policy")

	if mode := strings.ToLower(mapval.String(policy, "mode")); mode != "" {
		if _, ok := autoPostSynonyms[mode]; ok {
			return PostAuto
		}
		if _, ok := approvalRequiredSynonyms[mode]; ok {
			return PostApprovalRequired
		}
	}

	if v, ok := mapval.Bool(policy, "auto_post"); ok {
		if v {
			return PostAuto
		}
		return PostApprovalRequired
	}
	if v, ok := mapval.Bool(trig, "auto_post"); ok {
		if v {
			return PostAuto
		}
		return PostApprovalRequired
	}

	return PostApprovalRequired
}
