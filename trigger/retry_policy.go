package trigger

import (
	"strings"
	"time"

	"github.com/pcharbon70/loom/internal/mapval"
)

// Modes that disallow retrying the full run.
var fullRunDisallowModes = map[string]struct{}{
	"disabled":        {},
	"disallow":        {},
	"blocked":         {},
	"step_only":       {},
	"step_level_only": {},
}

// Modes that declare step-level retry.
var stepRetryModes = map[string]struct{}{
	"step_only":         {},
	"step_level":        {},
	"step_level_only":   {},
	"full_and_step":     {},
	"full_run_and_step": {},
}

// Nested sub-maps searched for step-retry configuration, in order.
var stepPolicyKeys = []string{"step_retry_policy", "step_retry", "step_level"}

// Boolean flags that declare step-level retry.
var stepRetryFlags = []string{"step_retry", "step_level", "allow_step_retry", "allow_step_level"}

// Keys naming a configured retry step, in precedence order.
var stepKeys = []string{"retry_step", "step", "default_step"}

// Keys naming an allowed-steps list, in precedence order.
var stepListKeys = []string{"allowed_steps", "retry_steps", "steps"}

// RetryPolicy is the structured interpretation of a trigger's retry
// configuration.
type RetryPolicy struct {
	// Mode is the raw mode string, normalized to lower case.
	Mode string
	// FullRunAllowed reports whether the whole run may be retried.
	FullRunAllowed bool
	// StepRetryDeclared reports whether any form of step-level retry is
	// configured.
	StepRetryDeclared bool
	// DefaultStep is the configured retry step, when one is declared.
	DefaultStep string
	// AllowedSteps restricts which steps a step-level retry may target.
	// Empty means unrestricted.
	AllowedSteps []string
	// Backoff is the retry delay configuration.
	Backoff BackoffConfig
	// Source records which trigger key resolved the policy:
	// "retry_policy", "policy.retry_policy", "policy.retry", or "none".
	Source string
	// Raw is the policy map the fields were resolved from.
	Raw map[string]any
}

// AsMap renders the resolved policy for inclusion in typed error records.
func (p RetryPolicy) AsMap() map[string]any {
	m := map[string]any{
		"mode":                p.Mode,
		"full_run_allowed":    p.FullRunAllowed,
		"step_retry_declared": p.StepRetryDeclared,
		"source":              p.Source,
	}
	if p.DefaultStep != "" {
		m["default_step"] = p.DefaultStep
	}
	if len(p.AllowedSteps) > 0 {
		m["allowed_steps"] = append([]string(nil), p.AllowedSteps...)
	}
	return m
}

// StepAllowed reports whether step is permitted by the allowed-steps list.
// An empty list permits any step.
func (p RetryPolicy) StepAllowed(step string) bool {
	if len(p.AllowedSteps) == 0 {
		return true
	}
	for _, s := range p.AllowedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// ResolveRetryPolicy interprets the trigger's retry configuration.
//
// The policy map is searched in this order: trigger.retry_policy,
// trigger.policy.retry_policy, trigger.policy.retry. A missing policy
// resolves to an empty map, which allows full-run retry and declares no
// step-level retry.
//
// Full-run retry is disallowed when the mode is one of disabled, disallow,
// blocked, step_only, or step_level_only, or when an explicit full_run or
// allow_full_run flag is false. Otherwise it is allowed.
//
// Step-level retry is declared when any of: a step_retry, step_level,
// allow_step_retry, or allow_step_level flag is true; the mode is one of
// step_only, step_level, step_level_only, full_and_step, or
// full_run_and_step; a retry_step, step, or default_step is configured,
// directly or under a nested step_retry_policy, step_retry, or step_level
// sub-map (a trigger-level step_retry_policy sub-map is honored as a last
// resort); or an allowed_steps, retry_steps, or steps list is non-empty.
func ResolveRetryPolicy(trig map[string]any) RetryPolicy {
	policyMap, source := locateRetryPolicy(trig)

	p := RetryPolicy{
		Mode:   normalizeMode(mapval.String(policyMap, "mode")),
		Source: source,
		Raw:    policyMap,
	}

	p.FullRunAllowed = resolveFullRunAllowed(policyMap, p.Mode)

	// Step-level configuration searches the policy itself, its nested
	// sub-maps, and finally a trigger-level step_retry_policy sub-map.
	scopes := []map[string]any{policyMap}
	for _, key := range stepPolicyKeys {
		if sub := mapval.Map(policyMap, key); sub != nil {
			scopes = append(scopes, sub)
		}
	}
	if sub := mapval.Map(trig, "step_retry_policy"); sub != nil {
		scopes = append(scopes, sub)
	}

	for _, scope := range scopes {
		if p.DefaultStep == "" {
			p.DefaultStep = mapval.FirstString(scope, stepKeys...)
		}
		if len(p.AllowedSteps) == 0 {
			for _, key := range stepListKeys {
				if steps := mapval.Strings(scope, key); len(steps) > 0 {
					p.AllowedSteps = steps
					break
				}
			}
		}
	}

	p.StepRetryDeclared = resolveStepRetryDeclared(policyMap, scopes, p)
	p.Backoff = resolveBackoff(policyMap)

	return p
}

func locateRetryPolicy(trig map[string]any) (map[string]any, string) {
	if sub := mapval.Map(trig, "retry_policy"); sub != nil {
		return sub, "retry_policy"
	}
	if policy := mapval.Map(trig, "policy"); policy != nil {
		if sub := mapval.Map(policy, "retry_policy"); sub != nil {
			return sub, "policy.retry_policy"
		}
		if sub := mapval.Map(policy, "retry"); sub != nil {
			return sub, "policy.retry"
		}
	}
	return map[string]any{}, "none"
}

func resolveFullRunAllowed(policyMap map[string]any, mode string) bool {
	if _, disallowed := fullRunDisallowModes[mode]; disallowed {
		return false
	}
	if v, ok := mapval.Bool(policyMap, "full_run"); ok && !v {
		return false
	}
	if v, ok := mapval.Bool(policyMap, "allow_full_run"); ok && !v {
		return false
	}
	return true
}

func resolveStepRetryDeclared(policyMap map[string]any, scopes []map[string]any, p RetryPolicy) bool {
	for _, flag := range stepRetryFlags {
		if v, ok := mapval.Bool(policyMap, flag); ok && v {
			return true
		}
	}
	if _, ok := stepRetryModes[p.Mode]; ok {
		return true
	}
	if p.DefaultStep != "" || len(p.AllowedSteps) > 0 {
		return true
	}
	// A nested sub-map that exists but only carries flags still declares.
	for _, scope := range scopes[1:] {
		if v, ok := mapval.Bool(scope, "enabled"); ok && v {
			return true
		}
	}
	return false
}

func normalizeMode(mode string) string {
	return strings.ToLower(mode)
}

// BackoffConfig is the retry delay configuration read from the policy's
// backoff sub-map.
type BackoffConfig struct {
	// Strategy is one of constant, linear, exponential, or
	// exponential_jitter. Empty means the engine default.
	Strategy string
	// Initial is the base delay. Zero means the engine default.
	Initial time.Duration
	// Max caps the delay. Zero means no cap beyond the strategy's own.
	Max time.Duration
}

// resolveBackoff reads the policy's backoff sub-map. Durations accept Go
// duration strings ("30s") or bare numbers interpreted as seconds.
func resolveBackoff(policyMap map[string]any) BackoffConfig {
	sub := mapval.Map(policyMap, "backoff")
	if sub == nil {
		return BackoffConfig{}
	}
	return BackoffConfig{
		Strategy: strings.ToLower(mapval.String(sub, "strategy")),
		Initial:  durationField(sub, "initial"),
		Max:      durationField(sub, "max"),
	}
}

func durationField(m map[string]any, key string) time.Duration {
	if s := mapval.String(m, key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	if n, ok := mapval.Int(m, key); ok && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}
