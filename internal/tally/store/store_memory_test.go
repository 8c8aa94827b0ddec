package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proposalModels "commonvote/internal/proposal/models"
	proposalStore "commonvote/internal/proposal/store"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/sentinel"
)

func setup(t *testing.T, now time.Time) (*InMemoryStore, *proposalStore.InMemoryStore) {
	t.Helper()
	proposals := proposalStore.NewInMemory()
	require.NoError(t, proposals.Create(context.Background(), &proposalModels.Proposal{
		ID:        "p1",
		GroupID:   "g1",
		Title:     "Buy a water pump",
		Status:    proposalModels.StatusVotingOpen,
		ShortCode: "001",
		OpensAt:   now.Add(-time.Minute),
		ClosesAt:  now.Add(time.Hour),
	}))
	return NewInMemory(proposals), proposals
}

func ballot(voter phone.Number, choice voteModels.Choice, now time.Time) voteModels.Vote {
	return voteModels.Vote{ProposalID: "p1", VoterPhone: voter, Choice: choice, RecordedAt: now}
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("first ballot is binding", func(t *testing.T) {
		votes, proposals := setup(t, now)

		rec, err := votes.Record(ctx, ballot("+15550000001", voteModels.ChoiceYes, now), now)
		require.NoError(t, err)
		assert.False(t, rec.Duplicate)
		assert.Equal(t, voteModels.Counts{Yes: 1}, rec.Counts)

		rec, err = votes.Record(ctx, ballot("+15550000001", voteModels.ChoiceNo, now), now)
		require.NoError(t, err)
		assert.True(t, rec.Duplicate)
		assert.Equal(t, voteModels.ChoiceYes, rec.Existing)

		p, err := proposals.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, voteModels.Counts{Yes: 1}, p.Counts)
	})

	t.Run("closed proposal stores nothing", func(t *testing.T) {
		votes, proposals := setup(t, now)

		_, err := votes.Record(ctx, ballot("+15550000001", voteModels.ChoiceYes, now), now.Add(2*time.Hour))
		require.ErrorIs(t, err, sentinel.ErrInvalidState)

		// Still no vote on record: a later valid ballot is accepted.
		rec, err := votes.Record(ctx, ballot("+15550000001", voteModels.ChoiceNo, now), now)
		require.NoError(t, err)
		assert.False(t, rec.Duplicate)

		p, err := proposals.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, voteModels.Counts{No: 1}, p.Counts)
	})

	t.Run("concurrent ballots count each voter once", func(t *testing.T) {
		votes, proposals := setup(t, now)
		const voters, perVoter = 20, 5

		var wg sync.WaitGroup
		for v := range voters {
			voter := phone.Number(fmt.Sprintf("+1555000%04d", v))
			for i := range perVoter {
				choice := voteModels.ChoiceYes
				if (v+i)%2 == 1 {
					choice = voteModels.ChoiceNo
				}
				wg.Go(func() {
					_, err := votes.Record(ctx, ballot(voter, choice, now), now)
					assert.NoError(t, err)
				})
			}
		}
		wg.Wait()

		p, err := proposals.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, voters, p.Counts.Total())
	})
}
