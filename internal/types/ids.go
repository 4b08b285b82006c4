// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// RunID identifies a single invocation of the three-phase pipeline.
type RunID string

// EventID identifies one append-only event-log record.
type EventID string

// TaskID identifies a task within a parsed batch; unique within that batch,
// not globally.
type TaskID string

// QAID is the opaque identifier of a stored Question/Answer record, owned
// by the memory service.
type QAID string

// NewRunID generates a fresh run identifier.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewEventID generates a fresh event identifier.
func NewEventID() EventID {
	return EventID(uuid.New().String())
}
