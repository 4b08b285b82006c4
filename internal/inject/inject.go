// Package inject implements the retrieval/injection policy (spec §4.5): a
// pure function from a memory.search result vector to an ordered,
// size-bounded InjectItem list. Grounded on
// internal/context/engine.go's BuildPrompt budget-trimming loop (drop
// items once a running total exceeds budget), generalized from a token
// budget to the character budget SPEC_FULL.md's policy calls for.
package inject

import (
	"fmt"
	"sort"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/types"
)

// Select applies the filters, pool selection, ordering, and truncation
// rules of spec §4.5 to records and returns the InjectItem list to merge
// into the prompt.
func Select(records []types.QARecord, cfg config.PromptInjectConfig) []types.InjectItem {
	filtered := applyFilters(records, cfg)
	if len(filtered) == 0 {
		return nil
	}

	pool := poolFor(filtered, cfg)
	if len(pool) == 0 {
		return nil
	}

	sortDescending(pool)

	selected := truncate(pool, cfg)

	items := make([]types.InjectItem, 0, len(selected))
	for _, r := range selected {
		items = append(items, types.InjectItem{
			QAID:          r.QAID,
			ReferenceText: formatReference(r),
		})
	}
	return items
}

func applyFilters(records []types.QARecord, cfg config.PromptInjectConfig) []types.QARecord {
	floor := cfg.FreshnessFloor
	blockGE := cfg.BlockIfConsecutiveFailGE
	minTrust := cfg.MinTrustShow

	out := make([]types.QARecord, 0, len(records))
	for _, r := range records {
		if r.Status != types.QAStatusActive {
			continue
		}
		if r.Freshness < floor {
			continue
		}
		if blockGE > 0 && r.ConsecutiveFail >= blockGE {
			continue
		}
		if r.Trust < minTrust {
			continue
		}
		out = append(out, r)
	}
	return out
}

func poolFor(filtered []types.QARecord, cfg config.PromptInjectConfig) []types.QARecord {
	var primary []types.QARecord
	for _, r := range filtered {
		if r.ValidationLevel >= cfg.MinLevelInject {
			primary = append(primary, r)
		}
	}
	if len(primary) > 0 {
		return primary
	}

	var fallback []types.QARecord
	for _, r := range filtered {
		if r.ValidationLevel >= cfg.MinLevelFallback {
			fallback = append(fallback, r)
		}
	}
	return fallback
}

// sortDescending orders pool by (validation_level, trust, score, freshness,
// qa_id) descending, with qa_id descending serving as the stable
// tie-break (spec §4.5).
func sortDescending(pool []types.QARecord) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.ValidationLevel != b.ValidationLevel {
			return a.ValidationLevel > b.ValidationLevel
		}
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Freshness != b.Freshness {
			return a.Freshness > b.Freshness
		}
		return a.QAID > b.QAID
	})
}

func truncate(pool []types.QARecord, cfg config.PromptInjectConfig) []types.QARecord {
	if len(pool) > 0 && pool[0].Score >= cfg.SkipIfTop1ScoreGE {
		return pool[:1]
	}

	maxInject := cfg.MaxInject
	if maxInject <= 0 || maxInject > len(pool) {
		maxInject = len(pool)
	}
	capped := pool[:maxInject]

	if cfg.MaxChars <= 0 {
		return capped
	}

	total := 0
	kept := 0
	for _, r := range capped {
		refLen := len(formatReference(r))
		if kept > 0 && total+refLen > cfg.MaxChars {
			break
		}
		total += refLen
		kept++
	}
	return capped[:kept]
}

// formatReference embeds qa_id in a deterministic syntactic marker so the
// post-run extractor can detect which items the backend referenced
// (spec §4.5, §4.7).
func formatReference(r types.QARecord) string {
	return fmt.Sprintf("[QA:%s] Q: %s\nA: %s", r.QAID, r.Query, r.Answer)
}
