// Package gatekeeper implements the post-run gatekeeper (spec §4.6): a
// pure function of (matches, run outcome, tool events, config) producing a
// Decision with no I/O. Has no direct teacher analogue; its boolean-
// predicate decomposition for should_write_candidate is modeled on
// internal/gateway/retry.go's isRetryable-style composition of small named
// predicates into one decision, each contributing a human-readable reason.
package gatekeeper

import (
	"fmt"
	"math"
	"strings"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/types"
)

// Input bundles the post-run gatekeeper's pure-function arguments.
type Input struct {
	ShownQAIDs []types.QAID
	UsedQAIDs  []types.QAID
	TopInject  *types.QAID // the single top injected item, if any
	Matches    []types.QARecord
	Outcome    types.RunOutcome
	Draft      *types.CandidateDraft
	SecretHit  bool // a secret was detected under strict redaction
	Top1Score  float64
}

// Decide computes the Decision for one completed Run (spec §4.6).
func Decide(in Input, cfg config.GatekeeperConfig) types.Decision {
	hitRefs := buildHitRefs(in.ShownQAIDs, in.UsedQAIDs)
	plans := buildValidatePlans(in, cfg)

	shouldWrite, reasons := shouldWriteCandidate(in, cfg)

	return types.Decision{
		HitRefs:              hitRefs,
		ValidatePlans:        plans,
		ShouldWriteCandidate: shouldWrite,
		Reasons:              reasons,
	}
}

func buildHitRefs(shown, used []types.QAID) []types.HitRef {
	usedSet := make(map[types.QAID]bool, len(used))
	for _, id := range used {
		usedSet[id] = true
	}

	seen := make(map[types.QAID]bool, len(shown)+len(used))
	var refs []types.HitRef
	add := func(id types.QAID) {
		if seen[id] {
			return
		}
		seen[id] = true
		refs = append(refs, types.HitRef{QAID: id, Shown: true, Used: usedSet[id]})
	}
	for _, id := range shown {
		add(id)
	}
	for _, id := range used {
		if !seen[id] {
			seen[id] = true
			refs = append(refs, types.HitRef{QAID: id, Shown: false, Used: true})
		}
	}
	return refs
}

// chosenValidationSet picks the qa_ids the gatekeeper validates against the
// Run's outcome: used_qa_ids if non-empty, else the single top injected
// item if any, else none (spec §4.6).
func chosenValidationSet(in Input) []types.QAID {
	if len(in.UsedQAIDs) > 0 {
		return in.UsedQAIDs
	}
	if in.TopInject != nil {
		return []types.QAID{*in.TopInject}
	}
	return nil
}

func buildValidatePlans(in Input, cfg config.GatekeeperConfig) []types.ValidatePlan {
	chosen := chosenValidationSet(in)
	if len(chosen) == 0 {
		return nil
	}

	result := classifyResult(in.Outcome)
	notes := fmt.Sprintf("exit_code=%d duration_ms=%d stdout_tail_digest=%s stderr_tail_digest=%s result=%s",
		in.Outcome.ExitCode, in.Outcome.DurationMS, digest(in.Outcome.StdoutTail), digest(in.Outcome.StderrTail), result)

	plans := make([]types.ValidatePlan, 0, len(chosen))
	for _, id := range chosen {
		plans = append(plans, types.ValidatePlan{QAID: id, Result: result, Notes: notes})
	}
	return plans
}

func classifyResult(outcome types.RunOutcome) string {
	if outcome.ExitCode == 0 {
		return types.ValidationPass
	}
	if majorityOK(outcome.ToolEvents) {
		return types.ValidationPartial
	}
	return types.ValidationFail
}

func majorityOK(events []types.ToolEvent) bool {
	if len(events) == 0 {
		return false
	}
	ok := 0
	for _, e := range events {
		if e.Status == types.ToolStatusOK {
			ok++
		}
	}
	return ok*2 > len(events)
}

func digest(s string) string {
	if len(s) > 80 {
		return s[len(s)-80:]
	}
	return s
}

func shouldWriteCandidate(in Input, cfg config.GatekeeperConfig) (bool, []string) {
	reasons := make([]string, 0, 7)
	ok := true

	check := func(predicate bool, reason string) {
		if predicate {
			reasons = append(reasons, "ok: "+reason)
		} else {
			ok = false
			reasons = append(reasons, "blocked: "+reason)
		}
	}

	check(in.Outcome.ExitCode == 0, "exit_code == 0")
	check(len(in.Outcome.ToolEvents) > 0, "tool_events != empty")
	check(in.Draft != nil && in.Draft.Confidence >= cfg.MinConfidence, "draft confidence >= min_confidence")
	check(!in.SecretHit, "no secret detected under strict redaction")
	check(!isTrivial(in.Outcome.StdoutTail, cfg), "output is not trivial")
	check(!hasStrongMatch(in.Matches, cfg), "no existing match has a strong signal")
	check(in.Top1Score < cfg.SkipIfTop1ScoreGE, "top1_score < skip_if_top1_score_ge")

	return ok, reasons
}

// isTrivial classifies output too short or too repetitive to be worth
// storing (spec §4.6 predicate 5). A zero threshold disables its check.
func isTrivial(stdout string, cfg config.GatekeeperConfig) bool {
	trimmed := strings.TrimSpace(stdout)
	if cfg.TrivialMinLen > 0 && len(trimmed) < cfg.TrivialMinLen {
		return true
	}
	if cfg.TrivialMinEntropy > 0 && shannonEntropy(trimmed) < cfg.TrivialMinEntropy {
		return true
	}
	return false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	n := float64(total)
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func hasStrongMatch(matches []types.QARecord, cfg config.GatekeeperConfig) bool {
	for _, m := range matches {
		if m.ValidationLevel >= cfg.MinLevelInject && m.Trust >= cfg.StrongTrust {
			return true
		}
	}
	return false
}
