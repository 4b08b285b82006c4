package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/user/memex/internal/candidate"
	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/eventlog"
	"github.com/user/memex/internal/gatekeeper"
	"github.com/user/memex/internal/inject"
	"github.com/user/memex/internal/runner"
	"github.com/user/memex/internal/toolpolicy"
	"github.com/user/memex/internal/types"
)

// usedMarkerPattern recognizes the injection marker syntax in a backend's
// stdout (spec §6: `\[QA:([A-Za-z0-9_\-]+)\]`).
var usedMarkerPattern = regexp.MustCompile(`\[QA:([A-Za-z0-9_\-]+)\]`)

// Engine is the orchestrator wiring memory, the runner driver, and the
// gatekeeper into the run/resume/replay/run_batch operations (spec §4.8).
type Engine struct {
	Memory      types.MemoryFacade
	Policy      *toolpolicy.Policy
	Ask         runner.AskFunc
	Config      *config.Config
	Broadcaster *Broadcaster

	// Out and Err receive the backend's live stdout/stderr lines; Err also
	// receives the final per-run summary line. Nil disables forwarding.
	Out io.Writer
	Err io.Writer
}

// New creates an Engine from its collaborators.
func New(memory types.MemoryFacade, policy *toolpolicy.Policy, ask runner.AskFunc, cfg *config.Config) *Engine {
	queueSize := 64
	if cfg != nil {
		queueSize = cfg.StateManagement.SubscriberQueue
	}
	return &Engine{Memory: memory, Policy: policy, Ask: ask, Config: cfg, Broadcaster: NewBroadcaster(queueSize)}
}

// runOptions carries per-Run overrides on top of the loaded config.
type runOptions struct {
	streamFormat  runner.StreamFormat
	model         string
	modelProvider string
}

// RunOption customizes a single Run, mirroring the per-task keys of the
// structured batch input (spec §6).
type RunOption func(*runOptions)

// WithStreamFormat selects the structured-event format the runner parses
// from this Run's backend output, overriding control.stream_format
// (spec §4.3.3 "selectable by config", §6 "stream-format").
func WithStreamFormat(f runner.StreamFormat) RunOption {
	return func(o *runOptions) { o.streamFormat = f }
}

// WithModel forwards a model (and optionally a provider) selection to the
// backend (spec §6 "model", "model-provider").
func WithModel(model, provider string) RunOption {
	return func(o *runOptions) {
		o.model = model
		o.modelProvider = provider
	}
}

// runEndData is the JSON payload of a run.end event.
type runEndData struct {
	ExitCode int    `json:"exit_code"`
	Reason   string `json:"reason,omitempty"`
}

func (e *Engine) publish(runID types.RunID, state SessionState) {
	if e.Config != nil && !e.Config.StateManagement.Enabled {
		return
	}
	e.Broadcaster.Publish(StateTransition{RunID: runID, State: state})
}

func emit(log *eventlog.Writer, runID types.RunID, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("marshal event payload failed", "type", eventType, "error", err)
		return
	}
	event := types.Event{
		V:     types.CurrentEventVersion,
		Type:  eventType,
		TS:    time.Now(),
		RunID: runID,
		Data:  payload,
	}
	if err := log.Append(event); err != nil {
		slog.Warn("event log append failed", "type", eventType, "error", enginerr.ErrIO, "cause", err)
	}
}

// Run executes the full pre/run/post pipeline for one query (spec §4.8).
func (e *Engine) Run(ctx context.Context, projectID, query string, backend, workdir string, opts ...RunOption) (int, error) {
	return e.run(ctx, projectID, query, backend, workdir, types.RunID(""), opts...)
}

// Resume starts a fresh Run carrying parent_run_id into its run.start
// event (spec §4.8 "Resume", §9 "Resume semantics"). The parent's event
// log is not read: retrieval uses the new query alone, exactly as in Run,
// and no in-memory state is rehydrated.
func (e *Engine) Resume(ctx context.Context, parentRunID types.RunID, projectID, query, backend, workdir string, opts ...RunOption) (int, error) {
	return e.run(ctx, projectID, query, backend, workdir, parentRunID, opts...)
}

func (e *Engine) run(ctx context.Context, projectID, query, backend, workdir string, parentRunID types.RunID, opts ...RunOption) (int, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	runID := types.NewRunID()
	e.publish(runID, StateInitializing)

	logPath := eventlog.Path(e.Config.EventsOut.Dir, e.Config.EventsOut.Filename, runID)
	log, err := eventlog.Create(logPath)
	if err != nil {
		return 1, fmt.Errorf("%w: %v", enginerr.ErrIO, err)
	}
	defer log.Close()

	emit(log, runID, types.EventRunStart, types.Run{
		RunID: runID, ProjectID: projectID, Query: query,
		ParentRunID: parentRunID, BackendKind: backend, StartedAt: time.Now(),
	})

	// Pre: search + injection policy.
	e.publish(runID, StateMemorySearch)
	emit(log, runID, types.EventMemorySearchRequest, types.SearchPayload{ProjectID: projectID, Query: query, Limit: 20})

	searchCtx := ctx
	var cancel context.CancelFunc
	if e.Config.Control.SearchTimeout > 0 {
		searchCtx, cancel = context.WithTimeout(ctx, e.Config.Control.SearchTimeout)
		defer cancel()
	}
	matches, searchErr := e.Memory.Search(searchCtx, types.SearchPayload{ProjectID: projectID, Query: query, Limit: 20})
	if searchErr != nil {
		slog.Warn("memory search failed", "error", enginerr.ErrMemory, "cause", searchErr)
		matches = nil
	}
	emit(log, runID, types.EventMemorySearchResult, matches)

	injectItems := inject.Select(matches, e.Config.PromptInject)
	emit(log, runID, types.EventMemoryInjectDecision, injectItems)

	mergedPrompt := mergePrompt(query, injectItems)

	// Run: spawn the backend, pump events, collect outcome.
	e.publish(runID, StateRunnerStarting)
	sess, err := e.spawn(ctx, backend, workdir, o)
	if err != nil {
		emit(log, runID, types.EventRunEnd, runEndData{ExitCode: 1, Reason: "spawn"})
		e.publish(runID, StateFailed)
		return 1, fmt.Errorf("%w: %v", enginerr.ErrSpawn, err)
	}
	emit(log, runID, types.EventBackendSpawn, map[string]string{"backend": backend, "workdir": workdir})

	if err := sess.WriteStdin([]byte(mergedPrompt + "\n")); err != nil {
		slog.Warn("write stdin failed", "error", err)
	}

	e.publish(runID, StateRunnerRunning)
	runCtx := ctx
	if e.Config.Control.TaskTimeout > 0 {
		var taskCancel context.CancelFunc
		runCtx, taskCancel = context.WithTimeout(ctx, e.Config.Control.TaskTimeout)
		defer taskCancel()
	}
	outcome, waitErr := sess.Wait(runCtx)

	for _, te := range outcome.ToolEvents {
		eventType := types.EventToolCall
		if te.Kind == types.ToolEventKindResult {
			eventType = types.EventToolResult
		}
		emit(log, runID, eventType, te)
	}
	emit(log, runID, types.EventStdoutChunk, map[string]string{"tail": outcome.StdoutTail})
	emit(log, runID, types.EventStderrChunk, map[string]string{"tail": outcome.StderrTail})

	outcome.ShownQAIDs = shownIDs(injectItems)
	outcome.UsedQAIDs = usedIDs(outcome.StdoutTail, outcome.ShownQAIDs)

	// Cancellation skips the post-phase entirely; a run.end with the cancel
	// reason is still emitted (spec §5 "Cancellation").
	if waitErr != nil && (outcome.ExitCode == 124 || outcome.ExitCode == 130) {
		reason := "timeout"
		kind := enginerr.ErrTimeout
		if outcome.ExitCode == 130 {
			reason = "cancelled"
			kind = enginerr.ErrCancelled
		}
		emit(log, runID, types.EventRunEnd, runEndData{ExitCode: outcome.ExitCode, Reason: reason})
		e.publish(runID, StateFailed)
		e.summarize(runID, outcome.ExitCode, len(outcome.ShownQAIDs), len(outcome.UsedQAIDs))
		return outcome.ExitCode, fmt.Errorf("%w", kind)
	}

	// Post: gatekeeper + candidate extraction + writes.
	e.publish(runID, StateGatekeeperEvaluating)
	var topInject *types.QAID
	if len(injectItems) > 0 {
		id := injectItems[0].QAID
		topInject = &id
	}
	var top1Score float64
	if len(matches) > 0 {
		top1Score = matches[0].Score
	}

	draft := candidate.Extract(query, outcome.StdoutTail, outcome.StderrTail, outcome.ToolEvents, e.Config.CandidateExtract)
	// The strict scan runs over the raw tails regardless of strict_block:
	// non-strict mode still extracts a redacted draft for manual review,
	// but a secret-bearing run never auto-writes a candidate.
	secretHit := candidate.DetectSecrets(outcome.StdoutTail + "\n" + outcome.StderrTail)

	decision := gatekeeper.Decide(gatekeeper.Input{
		ShownQAIDs: outcome.ShownQAIDs,
		UsedQAIDs:  outcome.UsedQAIDs,
		TopInject:  topInject,
		Matches:    matches,
		Outcome:    outcome,
		Draft:      draft,
		SecretHit:  secretHit,
		Top1Score:  top1Score,
	}, e.Config.Gatekeeper)

	e.publish(runID, StateMemoryPersisting)
	e.applyDecision(ctx, log, runID, projectID, decision, draft)

	emit(log, runID, types.EventRunEnd, runEndData{ExitCode: outcome.ExitCode})
	if outcome.ExitCode == 0 {
		e.publish(runID, StateCompleted)
	} else {
		e.publish(runID, StateFailed)
	}
	e.summarize(runID, outcome.ExitCode, len(outcome.ShownQAIDs), len(outcome.UsedQAIDs))
	return outcome.ExitCode, nil
}

// summarize prints the final per-run summary line to the run's stderr
// channel (spec §7 "exit code plus a final summary line").
func (e *Engine) summarize(runID types.RunID, exitCode, shown, used int) {
	if e.Err == nil {
		return
	}
	fmt.Fprintf(e.Err, "memex: run %s exit=%d shown=%d used=%d\n", runID, exitCode, shown, used)
}

func (e *Engine) applyDecision(ctx context.Context, log *eventlog.Writer, runID types.RunID, projectID string, decision types.Decision, draft *types.CandidateDraft) {
	writeCtx := ctx
	var cancel context.CancelFunc
	if e.Config.Control.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, e.Config.Control.WriteTimeout)
		defer cancel()
	}

	if len(decision.HitRefs) > 0 {
		if err := e.Memory.RecordHit(writeCtx, projectID, decision.HitRefs); err != nil {
			slog.Warn("record hit failed", "error", enginerr.ErrMemory, "cause", err)
		} else {
			emit(log, runID, types.EventMemoryHitWrite, decision.HitRefs)
		}
	}

	for _, plan := range decision.ValidatePlans {
		if err := e.Memory.RecordValidation(writeCtx, projectID, plan.QAID, plan.Result, plan.Notes); err != nil {
			slog.Warn("record validation failed", "error", enginerr.ErrMemory, "cause", err)
			continue
		}
		emit(log, runID, types.EventMemoryValidationWrite, plan)
	}

	if decision.ShouldWriteCandidate && draft != nil {
		if err := e.Memory.RecordCandidate(writeCtx, *draft); err != nil {
			slog.Warn("record candidate failed", "error", enginerr.ErrMemory, "cause", err)
		} else {
			emit(log, runID, types.EventMemoryCandidateWrite, draft)
		}
	}
}

// spawn selects the runner driver by backend kind: a bare name (codex,
// claude, gemini) spawns a subprocess; anything containing "://" opens a
// streaming HTTP session (spec §6 "backend ... one of codex|claude|gemini|
// <URL>"). The structured-event format resolves per-Run option first, then
// control.stream_format, then line-delimited JSON.
func (e *Engine) spawn(ctx context.Context, backend, workdir string, o runOptions) (runner.Session, error) {
	hook := &runner.PolicyHook{Policy: e.Policy, Ask: e.Ask, AskTimeout: e.Config.Policy.AskTimeout}

	format := o.streamFormat
	if format == "" {
		format = runner.StreamFormat(e.Config.Control.StreamFormat)
	}
	if format == "" {
		format = runner.StreamFormatJSONL
	}

	if strings.Contains(backend, "://") {
		headers := make(map[string]string)
		if o.model != "" {
			headers["X-Model"] = o.model
		}
		if o.modelProvider != "" {
			headers["X-Model-Provider"] = o.modelProvider
		}
		d := &runner.HTTPStreamDriver{
			URL:          backend,
			APIKey:       e.Config.Memory.ServiceAPIKey,
			Headers:      headers,
			HTTPClient:   &http.Client{},
			StreamFormat: format,
			MarkerPrefix: e.Config.Control.MarkerPrefix,
			Policy:       hook,
			Sink:         e.Out,
		}
		return d.Spawn(ctx)
	}

	var args []string
	if o.model != "" {
		args = append(args, "--model", o.model)
	}
	if o.modelProvider != "" {
		args = append(args, "--model-provider", o.modelProvider)
	}
	d := &runner.SubprocessDriver{
		Command:      backend,
		Args:         args,
		Workdir:      workdir,
		StreamFormat: format,
		MarkerPrefix: e.Config.Control.MarkerPrefix,
		Policy:       hook,
		Sink:         e.Out,
		ErrSink:      e.Err,
	}
	return d.Spawn(ctx)
}

// mergePrompt composes user_query || formatted(inject_list) (spec §4.8
// step 2).
func mergePrompt(query string, items []types.InjectItem) string {
	if len(items) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\n")
	for _, item := range items {
		b.WriteString(item.ReferenceText)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func shownIDs(items []types.InjectItem) []types.QAID {
	ids := make([]types.QAID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.QAID)
	}
	return ids
}

// usedIDs scans stdout for the injection marker syntax and reports, in
// first-seen order, which shown ids were actually referenced (spec §6,
// §7 invariant "used_qa_ids ⊆ shown_qa_ids").
func usedIDs(stdout string, shown []types.QAID) []types.QAID {
	shownSet := make(map[types.QAID]bool, len(shown))
	for _, id := range shown {
		shownSet[id] = true
	}

	seen := make(map[types.QAID]bool)
	var used []types.QAID
	for _, m := range usedMarkerPattern.FindAllStringSubmatch(stdout, -1) {
		id := types.QAID(m[1])
		if !shownSet[id] || seen[id] {
			continue
		}
		seen[id] = true
		used = append(used, id)
	}
	return used
}
