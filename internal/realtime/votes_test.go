package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oratify/backend/internal/models"
)

type fakeVoteLoader struct {
	counts map[string]int
	total  int
	err    error
	calls  int
}

func (f *fakeVoteLoader) LoadVoteCounts(ctx context.Context, sessionID, slideID uuid.UUID) (map[string]int, int, error) {
	f.calls++
	return f.counts, f.total, f.err
}

func yesNoSlide() (*models.Slide, *models.ChoiceContent) {
	content := &models.ChoiceContent{
		Question: "Ship it?",
		Options: []models.ChoiceOption{
			{ID: "yes", Text: "Yes"},
			{ID: "no", Text: "No"},
		},
	}
	return &models.Slide{ID: uuid.New(), Type: models.SlideTypeChoice}, content
}

func optionByID(t *testing.T, p VoteUpdatePayload, id string) VoteOption {
	t.Helper()
	for _, opt := range p.Options {
		if opt.ID == id {
			return opt
		}
	}
	t.Fatalf("option %q not in payload", id)
	return VoteOption{}
}

func TestVoteAggregator_Snapshot(t *testing.T) {
	ctx := context.Background()
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), nil, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})
	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})

	p := agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, slide.ID.String(), p.SlideID)
	assert.Equal(t, 2, p.TotalVotes)

	yes := optionByID(t, p, "yes")
	assert.Equal(t, 2, yes.Count)
	assert.Equal(t, 100.0, yes.Percentage)

	// Zero-count options still appear.
	no := optionByID(t, p, "no")
	assert.Equal(t, 0, no.Count)
	assert.Equal(t, 0.0, no.Percentage)
}

func TestVoteAggregator_NoVotesNoDivision(t *testing.T) {
	ctx := context.Background()
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), nil, nil)
	_, content := yesNoSlide()

	p := agg.Snapshot(ctx, uuid.New(), uuid.New(), content)
	assert.Equal(t, 0, p.TotalVotes)
	for _, opt := range p.Options {
		assert.Equal(t, 0.0, opt.Percentage)
	}
}

func TestVoteAggregator_PercentageRounding(t *testing.T) {
	ctx := context.Background()
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), nil, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})
	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})
	agg.RecordVote(ctx, sessionID, slide, content, []string{"no"})

	p := agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, 66.7, optionByID(t, p, "yes").Percentage)
	assert.Equal(t, 33.3, optionByID(t, p, "no").Percentage)
}

func TestVoteAggregator_MultiSelect(t *testing.T) {
	ctx := context.Background()
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), nil, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	// One submission selecting both options counts once toward the total.
	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes", "no"})

	p := agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, 1, p.TotalVotes)
	assert.Equal(t, 1, optionByID(t, p, "yes").Count)
	assert.Equal(t, 1, optionByID(t, p, "no").Count)
}

func TestVoteAggregator_BroadcastsLatestTally(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	sender := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	agg := NewVoteAggregator(b, nil, nil)
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})
	agg.RecordVote(ctx, sessionID, slide, content, []string{"no"})

	time.Sleep(3 * testWindow)
	sent := sender.sent()
	require.Len(t, sent, 1)

	var p VoteUpdatePayload
	require.NoError(t, json.Unmarshal(sent[0].Payload, &p))
	assert.Equal(t, 2, p.TotalVotes, "coalesced broadcast reflects both votes")
}

func TestVoteAggregator_RecountsOnFirstAccess(t *testing.T) {
	ctx := context.Background()
	loader := &fakeVoteLoader{counts: map[string]int{"yes": 3, "no": 1}, total: 4}
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), loader, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})

	p := agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, 5, p.TotalVotes)
	assert.Equal(t, 4, optionByID(t, p, "yes").Count)
	assert.Equal(t, 1, loader.calls, "durable recount happens once")
}

func TestVoteAggregator_LoaderErrorStartsEmpty(t *testing.T) {
	ctx := context.Background()
	loader := &fakeVoteLoader{err: errors.New("db down")}
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), loader, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})

	p := agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, 1, p.TotalVotes)
}

func TestVoteAggregator_Forget(t *testing.T) {
	ctx := context.Background()
	loader := &fakeVoteLoader{}
	agg := NewVoteAggregator(NewBroadcaster(NewRegistry(nil), nil, nil, nil, time.Minute), loader, nil)
	sessionID := uuid.New()
	slide, content := yesNoSlide()

	agg.RecordVote(ctx, sessionID, slide, content, []string{"yes"})
	agg.Forget(sessionID)

	// The tally is gone; the next access recounts from the store.
	agg.Snapshot(ctx, sessionID, slide.ID, content)
	assert.Equal(t, 2, loader.calls)
}
