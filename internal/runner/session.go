package runner

import (
	"context"
	"sync"
	"time"

	"github.com/user/memex/internal/toolpolicy"
	"github.com/user/memex/internal/types"
)

// State is one state in a Session's lifecycle (spec §4.3 "State machine of
// a Session"): Spawning -> Ready -> Running -> (Draining -> Done |
// Cancelling -> Done).
type State int

const (
	StateSpawning State = iota
	StateReady
	StateRunning
	StateDraining
	StateCancelling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Session is the live capability over a spawned backend instance for one
// Run (spec §3 GLOSSARY, §4.3).
type Session interface {
	// WriteStdin sends bytes to the backend's input stream (e.g. the merged
	// prompt, or a policy refusal envelope on tool_call deny).
	WriteStdin(data []byte) error

	// Wait blocks until the backend exits or the Session is cancelled,
	// returning the accumulated RunOutcome. Always populated, even on
	// error (spec §4.3 "Terminal state Done always carries a RunOutcome").
	Wait(ctx context.Context) (types.RunOutcome, error)

	// Cancel requests graceful termination with reason, escalating to a
	// forced kill after a grace period. Idempotent (spec §5).
	Cancel(reason string)

	// State reports the Session's current lifecycle state.
	State() State
}

// AskFunc is the external decision callback invoked on an "ask" policy
// resolution. It must return within the bound passed to it; the caller
// enforces the timeout and treats expiry as deny (spec §4.3.4).
type AskFunc func(ctx context.Context, toolName string, args []byte) (toolpolicy.Decision, error)

// PolicyHook wires a toolpolicy.Policy and an optional Ask callback into
// the running Session so that observed tool_call events are resolved
// before the backend proceeds (spec §4.3.4).
type PolicyHook struct {
	Policy     *toolpolicy.Policy
	Ask        AskFunc
	AskTimeout time.Duration
}

// Resolve applies allow/deny/ask resolution to one observed tool_call,
// blocking on Ask with a bounded timeout whose expiry defaults to deny.
func (h *PolicyHook) Resolve(ctx context.Context, name string, args []byte) toolpolicy.Decision {
	if h == nil || h.Policy == nil {
		return toolpolicy.Allow
	}

	if err := h.Policy.ValidateArgs(name, args); err != nil {
		return toolpolicy.Deny // malformed or schema-violating arguments are never allowed through
	}

	decision := h.Policy.Resolve(name, args)
	if decision != toolpolicy.Ask || h.Ask == nil {
		return decision
	}

	timeout := h.AskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	askCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolved, err := h.Ask(askCtx, name, args)
	if err != nil {
		return toolpolicy.Deny // expiry or error defaults to deny (spec §4.3.4)
	}
	return resolved
}

// RefusalEnvelope is the small JSON envelope written back through stdin
// when a tool_call is denied, so the backend can revise (spec §4.3.4).
type RefusalEnvelope struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// stateBox is an embeddable, thread-safe State holder shared by both
// drivers (subprocess and httpstream).
type stateBox struct {
	mu    sync.Mutex
	state State
}

func (b *stateBox) get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *stateBox) set(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// transitionOnFirstActivity moves Ready -> Running exactly once, on the
// first forwarded chunk or first structured event, whichever is earlier
// (spec §4.3 "Ready -> Running occurs on first forwarded chunk or first
// structured event").
func (b *stateBox) transitionOnFirstActivity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReady {
		b.state = StateRunning
	}
}
