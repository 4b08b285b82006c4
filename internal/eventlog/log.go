// Package eventlog implements the append-only, per-Run JSON-lines event log
// (spec §4.1, §6). Grounded on internal/state/event.go's file-backed,
// mutex-guarded append pattern, generalized from a per-session directory
// layout to a single file per Run and extended with explicit flush points
// and a replay reader.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/memex/internal/types"
)

// Flush points named explicitly per the WAL-style durability wording
// borrowed from the original Rust implementation: the log is guaranteed
// survivable up to the last of these.
const (
	FlushOnToolResult  = types.EventToolResult
	FlushOnMemoryWrite = "memory.*.write" // matched by prefix, see shouldFlush
	FlushOnRunEnd      = types.EventRunEnd
)

// Writer owns a single Run's event log file exclusively for the duration of
// the Run (spec §3 "A Run exclusively owns its event log file handle").
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// Path returns the data directory's default event log file path
// (~/.memex/events_out/run.events.jsonl by default), joined with runID to
// keep each Run's log distinct on disk.
func Path(dir, filename string, runID types.RunID) string {
	base := filename
	if base == "" {
		base = "run.events.jsonl"
	}
	return filepath.Join(dir, string(runID)+"."+base)
}

// Create opens a Run's log file for appending, creating it if absent. It
// never truncates: if a file already exists at path, new events are
// appended after its existing content, matching "Event log files are
// created append-only and never rewritten" (spec §3).
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Append writes one event, flushing immediately if the event type is one of
// the durability checkpoints (spec §4.1: "at least at every tool.result,
// memory.*.write, and run.end").
func (w *Writer) Append(event types.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	if shouldFlush(event.Type) {
		if err := w.w.Flush(); err != nil {
			return fmt.Errorf("flush event log: %w", err)
		}
	}
	return nil
}

func shouldFlush(eventType string) bool {
	if eventType == FlushOnToolResult || eventType == FlushOnRunEnd {
		return true
	}
	return len(eventType) > len("memory.") && eventType[:len("memory.")] == "memory." &&
		bytes.HasSuffix([]byte(eventType), []byte(".write"))
}

// Sync forces a buffered-writer flush and an fsync, for callers that want a
// stronger guarantee than the default per-checkpoint flushing (e.g. before
// "sync now").
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush event log on close: %w", err)
	}
	return w.f.Close()
}

// Replay opens path and streams its events in file order without executing
// side effects, for UI reconstruction (spec §4.1). The returned channel is
// closed when the file is exhausted or a read error occurs; a read error is
// not reported, the stream simply ends early.
func Replay(path string) (<-chan types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log for replay: %w", err)
	}

	out := make(chan types.Event)
	go func() {
		defer f.Close()
		defer close(out)

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var event types.Event
			if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
				// Forward-compatible readers skip unparsable lines rather
				// than aborting the stream (spec §4.1).
				continue
			}
			out <- event
		}
	}()
	return out, nil
}

// LastRunEnd scans path and returns the last run.end event, if any; found
// reports whether any run.end was seen, wherever it sits in the file. Used
// by engine.Replay to take the replayed run's final exit code (spec §4.1).
func LastRunEnd(path string) (event types.Event, found bool, err error) {
	ch, err := Replay(path)
	if err != nil {
		return types.Event{}, false, err
	}
	var last types.Event
	for e := range ch {
		if e.Type == types.EventRunEnd {
			last = e
			found = true
		}
	}
	return last, found, nil
}
