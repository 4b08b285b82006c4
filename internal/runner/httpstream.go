package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/user/memex/internal/toolpolicy"
	"github.com/user/memex/internal/types"
)

// HTTPStreamDriver backs a Session with a streaming HTTP request: the
// request body is a pipe the caller can keep writing to (WriteStdin), and
// the chunked response body is scanned for structured events the same way
// a subprocess's stdout is (spec §4.3, backend kind "http"). Grounded on
// pkg/llm/openai/client.go's http.NewRequestWithContext + Bearer-auth
// shape, generalized from one blocking request/response into a duplex
// streaming Session.
type HTTPStreamDriver struct {
	URL          string
	Method       string
	Headers      map[string]string
	APIKey       string
	HTTPClient   *http.Client
	StreamFormat StreamFormat
	MarkerPrefix string
	RingCapacity int
	Policy       *PolicyHook

	// Sink receives every response line as it arrives, for live UI
	// forwarding and raw logging. Nil disables forwarding.
	Sink io.Writer
}

// Spawn opens the streaming HTTP request and returns a live Session.
func (d *HTTPStreamDriver) Spawn(ctx context.Context) (Session, error) {
	runCtx, cancel := context.WithCancel(ctx)

	pr, pw := io.Pipe()

	method := d.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(runCtx, method, d.URL, pr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/jsonl")
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	client := d.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	ringCap := d.RingCapacity
	if ringCap <= 0 {
		ringCap = 64 * 1024
	}

	s := &httpStreamSession{
		pipeWriter: pw,
		stdoutBuf:  NewRingBuffer(ringCap),
		stderrBuf:  NewRingBuffer(ringCap),
		parser:     NewParser(d.StreamFormat, d.MarkerPrefix),
		policy:     d.Policy,
		sink:       d.Sink,
		cancel:     cancel,
		started:    time.Now(),
		done:       make(chan struct{}),
	}
	s.state.set(StateSpawning)

	go func() {
		resp, err := client.Do(req)
		if err != nil {
			s.finish(0, fmt.Errorf("http stream request: %w", err))
			return
		}
		defer resp.Body.Close()
		s.state.set(StateReady)

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			s.stderrBuf.Write(body)
			s.finish(resp.StatusCode, fmt.Errorf("http stream: status %d", resp.StatusCode))
			return
		}

		s.pump(resp.Body)
		s.finish(0, nil)
	}()

	return s, nil
}

type httpStreamSession struct {
	pipeWriter *io.PipeWriter
	stdoutBuf  *RingBuffer
	stderrBuf  *RingBuffer
	parser     *Parser
	policy     *PolicyHook
	sink       io.Writer
	cancel     context.CancelFunc
	started    time.Time

	state stateBox

	mu         sync.Mutex
	toolEvents []types.ToolEvent
	seq        int64

	done         chan struct{}
	finished     bool
	outcome      types.RunOutcome
	cancelReason string
}

func (s *httpStreamSession) State() State { return s.state.get() }

func (s *httpStreamSession) WriteStdin(data []byte) error {
	_, err := s.pipeWriter.Write(data)
	if err != nil {
		return fmt.Errorf("write stream body: %w", err)
	}
	return nil
}

func (s *httpStreamSession) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.state.transitionOnFirstActivity()
		s.stdoutBuf.Write([]byte(line))
		s.stdoutBuf.Write([]byte("\n"))
		if s.sink != nil {
			fmt.Fprintln(s.sink, line)
		}

		rec, ok := s.parser.ParseLine(line)
		if !ok {
			continue
		}
		s.handleRecord(rec)
	}
}

func (s *httpStreamSession) handleRecord(rec ParsedRecord) {
	if rec.Kind == "" {
		return // non-tool records (e.g. "message") are only forwarded
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if rec.Kind == types.ToolEventKindCall && s.policy != nil {
		decision := s.policy.Resolve(context.Background(), rec.Name, rec.Args)
		if decision == toolpolicy.Deny {
			s.writeRefusal(rec.Name)
		}
	}

	status := rec.Status
	if status == "" {
		status = types.ToolStatusUnknown
	}
	te := types.ToolEvent{
		Seq:      seq,
		Kind:     rec.Kind,
		Name:     rec.Name,
		Status:   status,
		ExitCode: rec.ExitCode,
		TS:       time.Now(),
	}
	if len(rec.Args) > 0 {
		te.ArgsDigest = digest(rec.Args)
	}

	s.mu.Lock()
	s.toolEvents = append(s.toolEvents, te)
	s.mu.Unlock()
}

func (s *httpStreamSession) writeRefusal(toolName string) {
	env := RefusalEnvelope{Type: "policy_refusal", ToolName: toolName, Reason: "denied by policy"}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := s.pipeWriter.Write(data); err != nil {
		slog.Warn("failed to write policy refusal to stream body", "tool", toolName, "error", err)
	}
}

func (s *httpStreamSession) finish(httpStatus int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true

	exitCode := 0
	switch {
	case s.state.get() == StateCancelling:
		exitCode = 124
		if s.cancelReason != "timeout" {
			exitCode = 130
		}
	case httpStatus >= 400:
		exitCode = 1
	case err != nil:
		exitCode = 1
	}

	s.outcome = types.RunOutcome{
		ExitCode:   exitCode,
		DurationMS: time.Since(s.started).Milliseconds(),
		ToolEvents: append([]types.ToolEvent(nil), s.toolEvents...),
		StdoutTail: s.stdoutBuf.String(),
		StderrTail: s.stderrBuf.String(),
	}
	s.state.set(StateDone)
	close(s.done)
}

func (s *httpStreamSession) Wait(ctx context.Context) (types.RunOutcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		reason := "timeout"
		if ctx.Err() == context.Canceled {
			reason = "cancelled"
		}
		s.Cancel(reason)
		<-s.done
		return s.outcome, ctx.Err()
	}
}

func (s *httpStreamSession) Cancel(reason string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.cancelReason = reason
	s.mu.Unlock()

	s.state.set(StateCancelling)
	_ = s.pipeWriter.CloseWithError(fmt.Errorf("session cancelled: %s", reason))
	s.cancel()
}

var _ Session = (*httpStreamSession)(nil)
