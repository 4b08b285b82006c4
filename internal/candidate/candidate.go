// Package candidate implements the candidate extractor (spec §4.7): a
// pure function composing a fresh Q/A draft from a completed Run's
// stdout/stderr/tool_events, redacting secret-like spans and scoring a
// bounded confidence. Grounded on internal/runtime/tools/readurl.go's
// htmltomarkdown.ConvertString normalization step (stdout may itself
// contain HTML/markdown-ish backend output; normalizing it before capping
// keeps the answer text clean) and internal/config/flatten.go's
// MaskSecrets placeholder-substitution idea, generalized from config
// values to scanned free text.
package candidate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/types"
)

const redactionPlaceholder = "[REDACTED]"

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	knownKeyPrefix  = regexp.MustCompile(`\b(sk-|ghp_|AKIA|xox[baprs]-)[A-Za-z0-9_\-]{8,}\b`)
	codeFencePat    = regexp.MustCompile("```")
	tagWordPattern  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_\-]{2,}`)
)

// Extract computes zero or one CandidateDraft per spec §4.7. A nil return
// means no draft qualified (redaction blocked it under strict_block, or
// confidence fell short of min_confidence).
func Extract(query, stdout, stderr string, toolEvents []types.ToolEvent, cfg config.CandidateExtractConfig) *types.CandidateDraft {
	answer := composeAnswer(stdout, cfg.MaxAnswerChars)
	context := composeContext(stderr, toolEvents, cfg.MaxContextChars)

	answer, answerHit := redact(answer, cfg.StrictBlock)
	context, contextHit := redact(context, cfg.StrictBlock)
	if cfg.StrictBlock && (answerHit || contextHit) {
		return nil
	}

	confidence := scoreConfidence(answer, toolEvents)
	if confidence < cfg.MinConfidence {
		return nil
	}

	return &types.CandidateDraft{
		Query:      query,
		Answer:     answer,
		Context:    context,
		Tags:       deriveTags(query, toolEvents),
		Confidence: confidence,
	}
}

// composeAnswer takes the last K characters of stdout, trimmed at a
// sentence boundary where possible, capped at maxChars (spec §4.7 step 1).
func composeAnswer(stdout string, maxChars int) string {
	normalized := normalizeMarkdown(stdout)
	if maxChars <= 0 || len(normalized) <= maxChars {
		return strings.TrimSpace(normalized)
	}

	tail := normalized[len(normalized)-maxChars:]
	if idx := strings.IndexAny(tail, ".!?\n"); idx >= 0 && idx < len(tail)/2 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

// composeContext renders the stderr tail plus a compact "name -> status"
// line per tool event, capped at maxChars (spec §4.7 step 2).
func composeContext(stderr string, toolEvents []types.ToolEvent, maxChars int) string {
	var b strings.Builder
	b.WriteString(normalizeMarkdown(stderr))
	for _, te := range toolEvents {
		fmt.Fprintf(&b, "\n%s -> %s", te.Name, te.Status)
	}
	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return strings.TrimSpace(out)
}

func normalizeMarkdown(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return md
}

// DetectSecrets reports whether text contains any secret-like span under
// the same patterns redaction uses, without mutating anything. The engine
// calls this and passes the result to the gatekeeper as Input.SecretHit,
// its strict-redaction predicate (spec §4.6).
func DetectSecrets(text string) bool {
	_, hit := redact(text, true)
	return hit
}

// redact scans text for secret-like spans (high-entropy tokens, known key
// prefixes, email addresses) and, when strict_block is false, replaces
// matched spans with a fixed placeholder (spec §4.7 step 4).
func redact(text string, strictBlock bool) (string, bool) {
	hit := false

	mask := func(s string, pattern *regexp.Regexp) string {
		return pattern.ReplaceAllStringFunc(s, func(m string) string {
			hit = true
			if strictBlock {
				return m // caller discards the whole draft; no need to mutate
			}
			return redactionPlaceholder
		})
	}

	out := mask(text, emailPattern)
	out = mask(out, knownKeyPrefix)
	out = redactHighEntropyTokens(out, &hit, strictBlock)

	return out, hit
}

// redactHighEntropyTokens flags bare alphanumeric tokens long enough and
// random-looking enough to be secrets (Shannon entropy over a permissive
// threshold), independent of any known prefix.
func redactHighEntropyTokens(text string, hit *bool, strictBlock bool) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	out := text
	for _, f := range fields {
		token := strings.Trim(f, `.,;:'")(][{}`)
		if len(token) < 20 || len(token) > 128 {
			continue
		}
		if shannonEntropy(token) < 4.0 {
			continue
		}
		*hit = true
		if !strictBlock {
			out = strings.ReplaceAll(out, token, redactionPlaceholder)
		}
	}
	return out
}

func shannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// scoreConfidence is a bounded sum of small positive contributions,
// starting from a 0.5 baseline and capped at 1.0 (spec §4.7 step 5).
func scoreConfidence(answer string, toolEvents []types.ToolEvent) float64 {
	score := 0.5

	if len(toolEvents) > 0 {
		okCount := 0
		for _, te := range toolEvents {
			if te.Status == types.ToolStatusOK {
				okCount++
			}
		}
		density := float64(okCount) / float64(len(toolEvents))
		score += 0.2 * density
	}

	if n := len(answer); n >= 40 && n <= 2000 {
		score += 0.15
	}

	if codeFencePat.MatchString(answer) {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// deriveTags pulls tags from tool names and a small keyword heuristic on
// the query (spec §4.7 step 3).
func deriveTags(query string, toolEvents []types.ToolEvent) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		tags = append(tags, t)
	}

	for _, te := range toolEvents {
		add(te.Name)
	}
	for _, word := range tagWordPattern.FindAllString(query, -1) {
		if len(word) >= 4 {
			add(word)
		}
	}
	return tags
}
