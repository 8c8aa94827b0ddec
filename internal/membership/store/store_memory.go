// Package store provides member directories backed by memory or Postgres.
package store

import (
	"context"
	"slices"
	"sync"

	"commonvote/internal/membership/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/sentinel"
)

// InMemoryDirectory keeps members in a map keyed by phone.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	members map[phone.Number]models.Member
}

func NewInMemory() *InMemoryDirectory {
	return &InMemoryDirectory{members: make(map[phone.Number]models.Member)}
}

// Upsert adds or replaces a member.
func (d *InMemoryDirectory) Upsert(_ context.Context, m models.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.Phone] = m
	return nil
}

// ResolveMemberGroup returns the group the phone belongs to.
func (d *InMemoryDirectory) ResolveMemberGroup(_ context.Context, number phone.Number) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[number]
	if !ok {
		return "", false, nil
	}
	return m.GroupID, true, nil
}

func (d *InMemoryDirectory) IsVerifiedMember(_ context.Context, number phone.Number, groupID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[number]
	return ok && m.GroupID == groupID && m.PhoneVerified, nil
}

func (d *InMemoryDirectory) MarkPhoneVerified(_ context.Context, number phone.Number) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[number]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.PhoneVerified = true
	d.members[number] = m
	return nil
}

// ListVerifiedMembers returns the group's verified phones in sorted order.
func (d *InMemoryDirectory) ListVerifiedMembers(_ context.Context, groupID string) ([]phone.Number, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []phone.Number
	for n, m := range d.members {
		if m.GroupID == groupID && m.PhoneVerified {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}
