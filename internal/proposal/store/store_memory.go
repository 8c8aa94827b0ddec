package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"commonvote/internal/proposal/models"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/platform/sentinel"
)

const maxShortCode = 999

// InMemoryStore keeps proposals in memory. The map lock guards membership
// only; each proposal carries its own lock so ballots on different
// proposals do not contend.
type InMemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*entry
	lastCode  map[string]int
}

type entry struct {
	mu       sync.Mutex
	proposal models.Proposal
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		proposals: make(map[string]*entry),
		lastCode:  make(map[string]int),
	}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.proposals[p.ID] = &entry{proposal: *p}
	return nil
}

func (s *InMemoryStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.proposals[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.Proposal, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.proposal
	return &p, nil
}

// Update holds the proposal lock while fn runs. fn may call NextShortCode;
// the store lock is never taken before a proposal lock.
func (s *InMemoryStore) Update(ctx context.Context, id string, fn func(ctx context.Context, p *models.Proposal) error) (*models.Proposal, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.proposal
	if err := fn(ctx, &p); err != nil {
		return nil, err
	}
	e.proposal = p
	return &p, nil
}

func (s *InMemoryStore) NextShortCode(_ context.Context, groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.lastCode[groupID] + 1
	if next > maxShortCode {
		return "", fmt.Errorf("group %s short codes: %w", groupID, sentinel.ErrConflict)
	}
	s.lastCode[groupID] = next
	return fmt.Sprintf("%03d", next), nil
}

func (s *InMemoryStore) FindByShortCode(_ context.Context, groupID, code string) (*models.Proposal, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.proposals))
	for _, e := range s.proposals {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		p := e.proposal
		e.mu.Unlock()
		if p.ShortCode != "" && p.GroupID == groupID && p.ShortCode == code {
			return &p, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) AddVote(_ context.Context, id string, choice voteModels.Choice, now time.Time) (voteModels.Counts, error) {
	e, err := s.lookup(id)
	if err != nil {
		return voteModels.Counts{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.proposal.IsOpenForVoting(now) {
		return voteModels.Counts{}, sentinel.ErrInvalidState
	}
	e.proposal.Counts = e.proposal.Counts.Add(choice)
	return e.proposal.Counts, nil
}

func (s *InMemoryStore) CloseDue(_ context.Context, now time.Time) ([]*models.Proposal, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.proposals))
	for _, e := range s.proposals {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var closed []*models.Proposal
	for _, e := range entries {
		e.mu.Lock()
		if e.proposal.DeadlinePassed(now) {
			e.proposal.Close()
			p := e.proposal
			closed = append(closed, &p)
		}
		e.mu.Unlock()
	}
	return closed, nil
}
