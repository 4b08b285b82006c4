// Package engine is the orchestrator: it wires the retrieval/injection
// policy, the runner driver, and the post-run gatekeeper into the
// run/resume/replay/run_batch operations (spec §4.8), and broadcasts
// session-state transitions to lossy subscribers (spec §4.9, §9
// "concurrency boundaries"). Grounded on internal/gateway/{gateway,queue,
// run}.go (Run struct, per-lane processing, RunOption functional options,
// golang.org/x/sync/semaphore concurrency cap) and internal/runtime/
// runtime.go (phase sequencing: record event, build prompt, call backend,
// record result, repeat/finish).
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/user/memex/internal/types"
)

// SessionState is one state in the orchestrator's authoritative state
// machine for a Run (spec §4.9).
type SessionState int

const (
	StateInitializing SessionState = iota
	StateMemorySearch
	StateRunnerStarting
	StateRunnerRunning
	StateGatekeeperEvaluating
	StateMemoryPersisting
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateMemorySearch:
		return "MemorySearch"
	case StateRunnerStarting:
		return "RunnerStarting"
	case StateRunnerRunning:
		return "RunnerRunning"
	case StateGatekeeperEvaluating:
		return "GatekeeperEvaluating"
	case StateMemoryPersisting:
		return "MemoryPersisting"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StateTransition is one broadcast record (spec §4.9).
type StateTransition struct {
	RunID types.RunID
	State SessionState
}

// Broadcaster fans out state transitions to subscribers without letting a
// slow subscriber back-pressure the engine: a send that would block is
// dropped and counted instead (spec §4.9, §9 "the engine owns progress").
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan StateTransition
	nextID      int
	queueSize   int
	dropped     atomic.Int64
}

// NewBroadcaster creates a Broadcaster whose subscriber channels are
// buffered to queueSize; a queueSize <= 0 defaults to 64.
func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broadcaster{subscribers: make(map[int]chan StateTransition), queueSize: queueSize}
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan StateTransition, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan StateTransition, b.queueSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fires a transition to every subscriber, dropping (and counting)
// on any channel that isn't ready to receive.
func (b *Broadcaster) Publish(t StateTransition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- t:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many broadcast sends have been dropped so far.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
