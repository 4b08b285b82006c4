// Package runner spawns a backend (subprocess or streaming HTTP client),
// multiplexes its stdout/stderr, parses the embedded structured-event
// protocol, enforces the policy hook and timeouts, and returns a
// RunOutcome (spec §4.3). Grounded on internal/runtime/runtime.go's turn
// loop (tool_call/tool_result event shape) and internal/runtime/tools/
// bash.go's exec.CommandContext spawn pattern, generalized from one
// blocking call into a streaming duplex Session.
package runner

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/user/memex/internal/types"
)

// StreamFormat selects how the structured-event parser recognizes embedded
// records in a backend's stdout (spec §4.3.3, §6 "stream-format").
type StreamFormat string

const (
	// StreamFormatJSONL recognizes line-delimited JSON objects with a
	// discriminator field (tool_call, tool_result, message).
	StreamFormatJSONL StreamFormat = "jsonl"

	// StreamFormatText recognizes the marker-sentinel fallback: lines
	// starting with a configurable prefix, parsed as key=value.
	StreamFormatText StreamFormat = "text"
)

// DefaultMarkerPrefix is the marker-sentinel fallback's default line prefix
// (spec §4.3.3 example: "TOOL_REQUEST:").
const DefaultMarkerPrefix = "TOOL_REQUEST:"

// ParsedRecord is one structured event recognized in the stream, already
// classified into a ToolEvent-shaped record. Non-tool discriminators (e.g.
// "message") are reported with Kind == "" and are otherwise ignored by the
// runner beyond forwarding.
type ParsedRecord struct {
	Kind string // "tool_call" | "tool_result" | "" (other)
	Name string
	Args json.RawMessage
	Status string
	ExitCode *int
}

// Parser incrementally scans a backend's output stream for embedded
// structured records, skipping unparsable lines without aborting
// (spec §4.3.3: "On parse failure a single event MUST be skipped without
// aborting the stream; a counter is incremented").
type Parser struct {
	format       StreamFormat
	markerPrefix string

	ParseErrors int
}

// NewParser creates a Parser for the given stream format. markerPrefix is
// only consulted when format is StreamFormatText; an empty value falls
// back to DefaultMarkerPrefix.
func NewParser(format StreamFormat, markerPrefix string) *Parser {
	if markerPrefix == "" {
		markerPrefix = DefaultMarkerPrefix
	}
	return &Parser{format: format, markerPrefix: markerPrefix}
}

// ParseLine attempts to recognize one line of output as a structured
// record. It returns ok=false for any line that is not a recognized record;
// ParseErrors is incremented only for malformed records (invalid JSON or an
// unknown discriminator in jsonl, a marker line with bad key=value pairs or
// no tool key in text), not for free-form lines. Callers should still
// forward the raw line to the sink/ring-buffer regardless of ok.
func (p *Parser) ParseLine(line string) (ParsedRecord, bool) {
	switch p.format {
	case StreamFormatJSONL:
		return p.parseJSONLine(line)
	default:
		return p.parseMarkerLine(line)
	}
}

type jsonlEnvelope struct {
	Type     string          `json:"type"` // discriminator: tool_call | tool_result | message
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Status   string          `json:"status"`
	ExitCode *int            `json:"exit_code"`
}

func (p *Parser) parseJSONLine(line string) (ParsedRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return ParsedRecord{}, false
	}

	var env jsonlEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		p.ParseErrors++
		return ParsedRecord{}, false
	}

	switch env.Type {
	case "tool_call", "tool_result", "message":
		return ParsedRecord{
			Kind:     discriminatorToKind(env.Type),
			Name:     env.Name,
			Args:     env.Args,
			Status:   env.Status,
			ExitCode: env.ExitCode,
		}, true
	default:
		p.ParseErrors++
		return ParsedRecord{}, false
	}
}

func discriminatorToKind(t string) string {
	switch t {
	case "tool_call":
		return types.ToolEventKindCall
	case "tool_result":
		return types.ToolEventKindResult
	default:
		return ""
	}
}

// parseMarkerLine recognizes the marker-sentinel fallback: a line starting
// with the configured prefix, followed by key=value pairs separated by
// whitespace (spec §4.3.3 example "TOOL_REQUEST:").
func (p *Parser) parseMarkerLine(line string) (ParsedRecord, bool) {
	if !strings.HasPrefix(line, p.markerPrefix) {
		return ParsedRecord{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, p.markerPrefix))
	if rest == "" {
		p.ParseErrors++
		return ParsedRecord{}, false
	}

	fields := make(map[string]string)
	for _, tok := range strings.Fields(rest) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			p.ParseErrors++
			return ParsedRecord{}, false
		}
		fields[kv[0]] = kv[1]
	}

	name, ok := fields["tool"]
	if !ok {
		p.ParseErrors++
		return ParsedRecord{}, false
	}

	rec := ParsedRecord{
		Kind:   types.ToolEventKindCall,
		Name:   name,
		Status: fields["status"],
	}
	if fields["status"] != "" {
		rec.Kind = types.ToolEventKindResult
	}
	if ec, ok := fields["exit_code"]; ok {
		if n, err := strconv.Atoi(ec); err == nil {
			rec.ExitCode = &n
		}
	}
	if argsJSON, ok := fields["args"]; ok {
		rec.Args = json.RawMessage(argsJSON)
	}
	return rec, true
}

// ScanLines splits data into lines for incremental parsing, tolerant
// of a final unterminated line.
func ScanLines(data []byte, f func(line string)) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		f(scanner.Text())
	}
}
