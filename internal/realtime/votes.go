package realtime

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
)

// VoteCountLoader recounts a slide's votes from the durable Response rows.
// Used once per (session, slide) after a process restart; the tally is a
// cache, the rows are the source of truth.
type VoteCountLoader interface {
	LoadVoteCounts(ctx context.Context, sessionID, slideID uuid.UUID) (counts map[string]int, total int, err error)
}

type tallyKey struct {
	sessionID uuid.UUID
	slideID   uuid.UUID
}

type slideTally struct {
	counts map[string]int // option id -> count
	total  int            // one per accepted submission
}

// VoteAggregator maintains running per-option counts per (session, slide)
// and schedules coalesced vote_update broadcasts. Increments are O(1); it
// never re-scans historical responses on the vote path.
type VoteAggregator struct {
	mu          sync.Mutex
	tallies     map[tallyKey]*slideTally
	broadcaster *Broadcaster
	loader      VoteCountLoader
	logger      *zap.Logger
}

// NewVoteAggregator creates a vote aggregator. loader may be nil when there
// is no durable store to recount from (tests).
func NewVoteAggregator(broadcaster *Broadcaster, loader VoteCountLoader, logger *zap.Logger) *VoteAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteAggregator{
		tallies:     make(map[tallyKey]*slideTally),
		broadcaster: broadcaster,
		loader:      loader,
		logger:      logger,
	}
}

// RecordVote applies one accepted submission to the tally and schedules a
// debounced vote_update broadcast recomputed from current totals. The
// submission is already validated and persisted by the caller.
func (a *VoteAggregator) RecordVote(ctx context.Context, sessionID uuid.UUID, slide *models.Slide, content *models.ChoiceContent, selectedIDs []string) {
	key := tallyKey{sessionID: sessionID, slideID: slide.ID}

	a.mu.Lock()
	t := a.ensureLocked(ctx, key)
	t.total++
	for _, id := range selectedIDs {
		t.counts[id]++
	}
	a.mu.Unlock()

	slideID := slide.ID
	a.broadcaster.BroadcastDebounced(sessionID, TypeVoteUpdate, func() any {
		return a.Snapshot(ctx, sessionID, slideID, content)
	})
}

// Snapshot builds the current vote_update payload for a choice slide. Every
// option appears, including zero-count ones; with no votes at all every
// percentage is 0.0 rather than a division by zero.
func (a *VoteAggregator) Snapshot(ctx context.Context, sessionID, slideID uuid.UUID, content *models.ChoiceContent) VoteUpdatePayload {
	key := tallyKey{sessionID: sessionID, slideID: slideID}

	a.mu.Lock()
	t := a.ensureLocked(ctx, key)
	counts := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	total := t.total
	a.mu.Unlock()

	options := make([]VoteOption, 0, len(content.Options))
	for _, opt := range content.Options {
		count := counts[opt.ID]
		var pct float64
		if total > 0 {
			pct = math.Round(float64(count)/float64(total)*1000) / 10
		}
		options = append(options, VoteOption{
			ID:         opt.ID,
			Text:       opt.Text,
			Count:      count,
			Percentage: pct,
		})
	}
	return VoteUpdatePayload{
		SlideID:    slideID.String(),
		Options:    options,
		TotalVotes: total,
	}
}

// Forget drops the tally for a session, releasing memory once it has ended.
func (a *VoteAggregator) Forget(sessionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.tallies {
		if key.sessionID == sessionID {
			delete(a.tallies, key)
		}
	}
}

// ensureLocked returns the tally for key, recounting from the durable store
// on first access. Caller holds a.mu.
func (a *VoteAggregator) ensureLocked(ctx context.Context, key tallyKey) *slideTally {
	if t, ok := a.tallies[key]; ok {
		return t
	}
	t := &slideTally{counts: make(map[string]int)}
	if a.loader != nil {
		counts, total, err := a.loader.LoadVoteCounts(ctx, key.sessionID, key.slideID)
		if err != nil {
			a.logger.Warn("vote recount failed, starting empty",
				zap.String("session_id", key.sessionID.String()),
				zap.String("slide_id", key.slideID.String()),
				zap.Error(err))
		} else if counts != nil {
			t.counts = counts
			t.total = total
		}
	}
	a.tallies[key] = t
	return t
}
