// Package store records votes. Each implementation makes the duplicate check,
// the vote insert and the proposal count increment one atomic step.
package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"commonvote/internal/tally/models"
	"commonvote/internal/tally/ports"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/phone"
)

const shardCount = 32

type voteKey struct {
	proposalID string
	voter      phone.Number
}

// InMemoryStore shards votes by proposal. The shard lock is held across the
// counter increment so two ballots from one voter cannot both be counted.
type InMemoryStore struct {
	counter ports.Counter
	shards  [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	votes map[voteKey]voteModels.Vote
}

func NewInMemory(counter ports.Counter) *InMemoryStore {
	s := &InMemoryStore{counter: counter}
	for i := range s.shards {
		s.shards[i] = &shard{votes: make(map[voteKey]voteModels.Vote)}
	}
	return s
}

func (s *InMemoryStore) shardFor(proposalID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(proposalID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *InMemoryStore) Record(ctx context.Context, vote voteModels.Vote, now time.Time) (*models.Recorded, error) {
	key := voteKey{proposalID: vote.ProposalID, voter: vote.VoterPhone}
	sh := s.shardFor(vote.ProposalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.votes[key]; ok {
		return &models.Recorded{Duplicate: true, Existing: existing.Choice}, nil
	}
	counts, err := s.counter.AddVote(ctx, vote.ProposalID, vote.Choice, now)
	if err != nil {
		return nil, err
	}
	sh.votes[key] = vote
	return &models.Recorded{Counts: counts}, nil
}
