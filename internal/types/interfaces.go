// internal/types/interfaces.go
package types

import (
	"context"
)

// SearchPayload is the request shape for MemoryFacade.Search (spec §4.2).
type SearchPayload struct {
	ProjectID string  `json:"project_id"`
	Query     string  `json:"query"`
	Limit     int     `json:"limit"` // <= 20
	MinScore  float64 `json:"min_score"`
}

// MemoryFacade abstracts the remote/local/hybrid memory service variants
// behind one capability set (spec §4.2, §9 "polymorphism over memory
// providers"). Implementations must be safe for concurrent use across
// Runs in a batch.
type MemoryFacade interface {
	Search(ctx context.Context, payload SearchPayload) ([]QARecord, error)
	RecordHit(ctx context.Context, projectID string, refs []HitRef) error
	RecordValidation(ctx context.Context, projectID string, qaID QAID, result string, notes string) error
	RecordCandidate(ctx context.Context, draft CandidateDraft) error
	TaskGrade(ctx context.Context, prompt string) (string, error) // level L0-L3
}

// Task grade levels (spec §4.2).
const (
	TaskGradeL0 = "L0"
	TaskGradeL1 = "L1"
	TaskGradeL2 = "L2"
	TaskGradeL3 = "L3"
)

// EventLog is the append-only, per-Run event log contract (spec §4.1).
type EventLog interface {
	Append(event Event) error
	Sync() error
	Close() error
}

// EventReplayer opens a closed or in-progress log for replay without
// executing side effects (spec §4.1).
type EventReplayer interface {
	Replay(path string) (<-chan Event, error)
}
