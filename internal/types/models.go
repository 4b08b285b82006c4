// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Run is a single invocation of a backend (spec §3).
type Run struct {
	RunID        RunID     `json:"run_id"`
	ProjectID    string    `json:"project_id"`
	Query        string    `json:"query"`
	ParentRunID  RunID     `json:"parent_run_id,omitempty"`
	BackendKind  string    `json:"backend_kind"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	ExitCode     int       `json:"exit_code"`
}

// Event is a versioned, append-only record within a Run's event log
// (spec §3, §4.1, §6).
type Event struct {
	V     int             `json:"v"`
	Type  string          `json:"type"`
	TS    time.Time       `json:"ts"`
	RunID RunID           `json:"run_id"`
	Data  json.RawMessage `json:"data"`
}

// Event type constants (spec §3).
const (
	EventRunStart              = "run.start"
	EventMemorySearchRequest   = "memory.search.request"
	EventMemorySearchResult    = "memory.search.result"
	EventMemoryInjectDecision  = "memory.inject.decision"
	EventBackendSpawn          = "backend.spawn"
	EventToolCall              = "tool.call"
	EventToolResult            = "tool.result"
	EventStdoutChunk           = "stdout.chunk"
	EventStderrChunk           = "stderr.chunk"
	EventMemoryHitWrite        = "memory.hit.write"
	EventMemoryValidationWrite = "memory.validation.write"
	EventMemoryCandidateWrite  = "memory.candidate.write"
	EventRunEnd                = "run.end"
)

// CurrentEventVersion is the schema version stamped on events this engine
// writes. Readers must tolerate both older and newer values.
const CurrentEventVersion = 1

// QARecord is a stored Question/Answer item returned by memory.search;
// opaque to the core beyond these fields (spec §3).
type QARecord struct {
	QAID            QAID           `json:"qa_id"`
	Query           string         `json:"query"`
	Answer          string         `json:"answer"`
	Score           float64        `json:"score"`
	Trust           float64        `json:"trust"`
	ValidationLevel int            `json:"validation_level"`
	Freshness       float64        `json:"freshness"`
	Status          string         `json:"status"`
	ConsecutiveFail int            `json:"consecutive_fail"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// QA record status values the core recognizes.
const (
	QAStatusActive  = "active"
	QAStatusBlocked = "blocked"
)

// InjectItem is one selected prior match, formatted for injection into the
// merged prompt (spec §3, §4.5).
type InjectItem struct {
	QAID          QAID   `json:"qa_id"`
	ReferenceText string `json:"reference_text"`
}

// ToolEvent is an observed tool_call/tool_result pair surfaced by the runner
// driver (spec §3).
type ToolEvent struct {
	Seq        int64     `json:"seq"`
	Kind       string    `json:"kind"` // call|result
	Name       string    `json:"name"`
	ArgsDigest string    `json:"args_digest"`
	Status     string    `json:"status"` // ok|error|unknown
	ExitCode   *int      `json:"exit_code,omitempty"`
	TS         time.Time `json:"ts"`
}

// ToolEvent kind and status values.
const (
	ToolEventKindCall   = "call"
	ToolEventKindResult = "result"

	ToolStatusOK      = "ok"
	ToolStatusError   = "error"
	ToolStatusUnknown = "unknown"
)

// RunOutcome is the result of running a backend to completion (spec §3).
type RunOutcome struct {
	ExitCode    int         `json:"exit_code"`
	DurationMS  int64       `json:"duration_ms"`
	ToolEvents  []ToolEvent `json:"tool_events"`
	StdoutTail  string      `json:"stdout_tail"`
	StderrTail  string      `json:"stderr_tail"`
	ShownQAIDs  []QAID      `json:"shown_qa_ids"`
	UsedQAIDs   []QAID      `json:"used_qa_ids"`
}

// HitRef records that a prior QA was shown and/or used during a Run
// (spec §4.6).
type HitRef struct {
	QAID  QAID `json:"qa_id"`
	Shown bool `json:"shown"`
	Used  bool `json:"used"`
}

// Validation result classifications (spec §4.6).
const (
	ValidationPass    = "pass"
	ValidationPartial = "partial"
	ValidationFail    = "fail"
)

// ValidatePlan is one planned record_validation call (spec §4.6).
type ValidatePlan struct {
	QAID   QAID   `json:"qa_id"`
	Result string `json:"result"`
	Notes  string `json:"notes,omitempty"`
}

// Decision is the post-run gatekeeper's pure output (spec §3, §4.6).
type Decision struct {
	HitRefs             []HitRef       `json:"hit_refs"`
	ValidatePlans       []ValidatePlan `json:"validate_plans"`
	ShouldWriteCandidate bool          `json:"should_write_candidate"`
	Reasons             []string       `json:"reasons"`
}

// CandidateDraft is a freshly minted Q/A proposal (spec §3, §4.7).
type CandidateDraft struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Context    string   `json:"context"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// Files mode and encoding values for TaskSpec (spec §3, §6).
const (
	FilesModeEmbed = "embed"
	FilesModeRef   = "ref"
	FilesModeAuto  = "auto"

	FilesEncodingUTF8   = "utf-8"
	FilesEncodingBase64 = "base64"
	FilesEncodingAuto   = "auto"
)

// TaskSpec is one task parsed from structured batch input (spec §3, §4.4).
type TaskSpec struct {
	ID             TaskID   `json:"id"`
	Backend        string   `json:"backend"`
	Workdir        string   `json:"workdir"`
	Model          string   `json:"model,omitempty"`
	ModelProvider  string   `json:"model_provider,omitempty"`
	Dependencies   []TaskID `json:"dependencies,omitempty"`
	Timeout        int      `json:"timeout,omitempty"` // seconds
	Retry          int      `json:"retry,omitempty"`
	Files          []string `json:"files,omitempty"`
	FilesMode      string   `json:"files_mode,omitempty"`
	FilesEncoding  string   `json:"files_encoding,omitempty"`
	StreamFormat   string   `json:"stream_format,omitempty"`
	Content        string   `json:"content"`
}

// TaskOutcome is the per-task result of a DAG batch run (spec §4.8).
type TaskOutcome struct {
	TaskID   TaskID `json:"task_id"`
	ExitCode int    `json:"exit_code"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}
