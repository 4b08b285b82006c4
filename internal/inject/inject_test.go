package inject

import (
	"testing"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/types"
)

func baseConfig() config.PromptInjectConfig {
	return config.PromptInjectConfig{
		FreshnessFloor:           0.001,
		BlockIfConsecutiveFailGE: 3,
		MinTrustShow:             0.2,
		MinLevelInject:           2,
		MinLevelFallback:         1,
		SkipIfTop1ScoreGE:        0.98,
		MaxInject:                3,
		MaxChars:                 0,
	}
}

func TestSelectEmptyWhenNoRecords(t *testing.T) {
	if got := Select(nil, baseConfig()); got != nil {
		t.Errorf("Select(nil) = %v, want nil", got)
	}
}

func TestSelectFiltersBlockedStatus(t *testing.T) {
	records := []types.QARecord{
		{QAID: "a", Status: types.QAStatusBlocked, Freshness: 1, Trust: 1, ValidationLevel: 3, Score: 0.9},
	}
	if got := Select(records, baseConfig()); got != nil {
		t.Errorf("Select() = %v, want nil (status filtered)", got)
	}
}

func TestSelectFiltersConsecutiveFail(t *testing.T) {
	records := []types.QARecord{
		{QAID: "a", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 3, Score: 0.9, ConsecutiveFail: 3},
	}
	if got := Select(records, baseConfig()); got != nil {
		t.Errorf("Select() = %v, want nil (consecutive_fail filtered)", got)
	}
}

func TestSelectPrefersPrimaryPool(t *testing.T) {
	records := []types.QARecord{
		{QAID: "lo", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 1, Score: 0.5},
		{QAID: "hi", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 2, Score: 0.4},
	}
	items := Select(records, baseConfig())
	if len(items) != 1 || items[0].QAID != "hi" {
		t.Fatalf("items = %v, want only the primary-pool record", items)
	}
}

func TestSelectFallsBackWhenPrimaryEmpty(t *testing.T) {
	records := []types.QARecord{
		{QAID: "lo", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 1, Score: 0.5},
	}
	items := Select(records, baseConfig())
	if len(items) != 1 || items[0].QAID != "lo" {
		t.Fatalf("items = %v, want fallback-pool record", items)
	}
}

func TestSelectOrderingDescending(t *testing.T) {
	records := []types.QARecord{
		{QAID: "a", Status: types.QAStatusActive, Freshness: 1, Trust: 0.5, ValidationLevel: 2, Score: 0.3},
		{QAID: "b", Status: types.QAStatusActive, Freshness: 1, Trust: 0.9, ValidationLevel: 2, Score: 0.3},
	}
	items := Select(records, baseConfig())
	if len(items) != 2 || items[0].QAID != "b" || items[1].QAID != "a" {
		t.Fatalf("items = %v, want [b, a] (higher trust first)", items)
	}
}

func TestSelectTop1ScoreShortCircuits(t *testing.T) {
	cfg := baseConfig()
	records := []types.QARecord{
		{QAID: "top", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 2, Score: 0.99},
		{QAID: "second", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 2, Score: 0.9},
	}
	items := Select(records, cfg)
	if len(items) != 1 || items[0].QAID != "top" {
		t.Fatalf("items = %v, want only [top]", items)
	}
}

func TestSelectMaxInjectCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxInject = 2
	records := []types.QARecord{
		{QAID: "a", Status: types.QAStatusActive, Freshness: 1, Trust: 0.9, ValidationLevel: 2, Score: 0.3},
		{QAID: "b", Status: types.QAStatusActive, Freshness: 1, Trust: 0.8, ValidationLevel: 2, Score: 0.3},
		{QAID: "c", Status: types.QAStatusActive, Freshness: 1, Trust: 0.7, ValidationLevel: 2, Score: 0.3},
	}
	items := Select(records, cfg)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
}

func TestSelectCharBudgetDropsFromTail(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxInject = 3
	cfg.MaxChars = 40
	records := []types.QARecord{
		{QAID: "a", Query: "q1", Answer: "a reasonably long answer text here", Status: types.QAStatusActive, Freshness: 1, Trust: 0.9, ValidationLevel: 2, Score: 0.3},
		{QAID: "b", Query: "q2", Answer: "another reasonably long answer text", Status: types.QAStatusActive, Freshness: 1, Trust: 0.8, ValidationLevel: 2, Score: 0.3},
	}
	items := Select(records, cfg)
	if len(items) != 1 || items[0].QAID != "a" {
		t.Fatalf("items = %v, want only [a] (budget exhausted, drop tail)", items)
	}
}

func TestSelectReferenceTextEmbedsMarker(t *testing.T) {
	records := []types.QARecord{
		{QAID: "xyz", Query: "how do I log", Answer: "use tracing", Status: types.QAStatusActive, Freshness: 1, Trust: 1, ValidationLevel: 2, Score: 0.3},
	}
	items := Select(records, baseConfig())
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if want := "[QA:xyz]"; !containsSubstr(items[0].ReferenceText, want) {
		t.Errorf("ReferenceText = %q, want it to contain %q", items[0].ReferenceText, want)
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
