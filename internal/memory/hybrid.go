package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/memex/internal/types"
)

// Hybrid reads from the local store first and opportunistically merges
// remote results, and writes synchronously to local. Hits and validations
// are forwarded to remote right away in a background goroutine; candidates
// are pushed to remote on a periodic tick (spec §4.2 "eventually-consistent
// sync loop").
// Grounded on internal/scheduler/scheduler.go's cron wiring, adapted from
// firing user tasks to firing a background sync instead.
type Hybrid struct {
	local  *Local
	remote *Remote
	cron   *cron.Cron

	mu       sync.Mutex
	nextTick time.Time
	lastErr  error
}

// NewHybrid wires a Local and Remote facade together and starts the
// periodic sync loop at the given interval. Call Stop to shut it down.
func NewHybrid(local *Local, remote *Remote, interval time.Duration) *Hybrid {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	h := &Hybrid{
		local:  local,
		remote: remote,
		cron:   cron.New(),
	}

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := h.cron.AddFunc(spec, func() {
		if err := h.syncNow(context.Background()); err != nil {
			slog.Warn("hybrid memory sync failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid hybrid sync interval", "interval", interval, "error", err)
	}
	h.cron.Start()
	h.recordNextTick()
	return h
}

func (h *Hybrid) recordNextTick() {
	entries := h.cron.Entries()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(entries) > 0 {
		h.nextTick = entries[0].Next
	}
}

// Stop stops the background sync ticker.
func (h *Hybrid) Stop() {
	h.cron.Stop()
}

// NextTick reports the next scheduled sync time, used by "sync status".
func (h *Hybrid) NextTick() time.Time {
	h.recordNextTick()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextTick
}

// LastError reports the most recent sync failure, if any, used by
// "sync status".
func (h *Hybrid) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// SyncNow forces one sync tick immediately, used by "sync now".
func (h *Hybrid) SyncNow(ctx context.Context) error {
	return h.syncNow(ctx)
}

func (h *Hybrid) syncNow(ctx context.Context) error {
	drafts, err := h.local.UnsyncedCandidates(ctx, 100)
	if err != nil {
		h.setLastErr(err)
		return fmt.Errorf("list unsynced candidates: %w", err)
	}
	if len(drafts) == 0 || h.remote == nil {
		h.setLastErr(nil)
		return nil
	}

	// Fire-and-forget at-least-once delivery (spec §9 open question on
	// hybrid conflict resolution: not specified at the engine level).
	var firstErr error
	for _, d := range drafts {
		if err := h.remote.RecordCandidate(ctx, d); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	if firstErr != nil {
		h.setLastErr(firstErr)
		return fmt.Errorf("push candidates to remote: %w", firstErr)
	}

	if err := h.local.MarkCandidatesSynced(ctx); err != nil {
		h.setLastErr(err)
		return fmt.Errorf("mark candidates synced: %w", err)
	}
	h.setLastErr(nil)
	return nil
}

func (h *Hybrid) setLastErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
}

// Search implements types.MemoryFacade: local first, then remote results
// merged in, ordered by score (spec §4.2).
func (h *Hybrid) Search(ctx context.Context, payload types.SearchPayload) ([]types.QARecord, error) {
	localResults, err := h.local.Search(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}

	if h.remote == nil {
		return localResults, nil
	}

	remoteResults, err := h.remote.Search(ctx, payload)
	if err != nil {
		// Memory facade failures are never fatal to the Run (spec §4.2).
		slog.Warn("hybrid remote search failed, using local results only", "error", err)
		return localResults, nil
	}

	seen := make(map[types.QAID]bool, len(localResults))
	merged := make([]types.QARecord, 0, len(localResults)+len(remoteResults))
	for _, r := range localResults {
		seen[r.QAID] = true
		merged = append(merged, r)
	}
	for _, r := range remoteResults {
		if seen[r.QAID] {
			continue
		}
		merged = append(merged, r)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

// RecordHit implements types.MemoryFacade: applied to local synchronously;
// remote is best-effort and never blocks the Run's post phase.
func (h *Hybrid) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	if err := h.local.RecordHit(ctx, projectID, refs); err != nil {
		return fmt.Errorf("local record_hit: %w", err)
	}
	if h.remote != nil {
		go func() {
			if err := h.remote.RecordHit(context.Background(), projectID, refs); err != nil {
				slog.Warn("hybrid remote record_hit failed", "error", err)
			}
		}()
	}
	return nil
}

// RecordValidation implements types.MemoryFacade.
func (h *Hybrid) RecordValidation(ctx context.Context, projectID string, qaID types.QAID, result string, notes string) error {
	if err := h.local.RecordValidation(ctx, projectID, qaID, result, notes); err != nil {
		return fmt.Errorf("local record_validation: %w", err)
	}
	if h.remote != nil {
		go func() {
			if err := h.remote.RecordValidation(context.Background(), projectID, qaID, result, notes); err != nil {
				slog.Warn("hybrid remote record_validation failed", "error", err)
			}
		}()
	}
	return nil
}

// RecordCandidate implements types.MemoryFacade: written to local
// synchronously, picked up by the next sync tick for the remote push.
func (h *Hybrid) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	if err := h.local.RecordCandidate(ctx, draft); err != nil {
		return fmt.Errorf("local record_candidate: %w", err)
	}
	return nil
}

// TaskGrade implements types.MemoryFacade, preferring the remote's
// calibration signal when available.
func (h *Hybrid) TaskGrade(ctx context.Context, prompt string) (string, error) {
	if h.remote != nil {
		if level, err := h.remote.TaskGrade(ctx, prompt); err == nil {
			return level, nil
		}
	}
	return h.local.TaskGrade(ctx, prompt)
}

var _ types.MemoryFacade = (*Hybrid)(nil)
