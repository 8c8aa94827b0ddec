package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "commonvote/pkg/platform/audit"
	"commonvote/pkg/platform/audit/store/memory"
)

const voter = "+15551234567"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: voter,
		Action:  string(audit.EventOTPRequested),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), voter)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventOTPRequested), events[0].Action)
	assert.Equal(t, audit.CategorySecurity, events[0].Category, "category derived from action")
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject:    voter,
		Action:     string(audit.EventVoteAccepted),
		ProposalID: "p-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), voter)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Subject: voter,
			Action:  string(audit.EventSMSInbound),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), voter)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Subject: voter, Action: string(audit.EventSMSInbound)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted int
	for range 50 {
		wg.Go(func() {
			err := pub.Emit(context.Background(), audit.Event{
				Subject: voter,
				Action:  string(audit.EventSMSInbound),
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrBufferFull))
		})
	}
	wg.Wait()
	pub.Close()

	events, err := store.ListBySubject(context.Background(), voter)
	require.NoError(t, err)
	assert.Len(t, events, accepted, "every accepted event is persisted")
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	before := time.Now()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: voter,
		Action:  string(audit.EventOTPVerified),
	})
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), voter)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.False(t, events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		Subject:   voter,
		Action:    string(audit.EventOTPVerified),
		Timestamp: customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), voter)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_DifferentSubjects(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	other := "+15557654321"
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: voter, Action: string(audit.EventVoteAccepted)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: other, Action: string(audit.EventVoteRejected)}))

	events1, err := pub.List(context.Background(), voter)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventVoteAccepted), events1[0].Action)

	events2, err := pub.List(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, string(audit.EventVoteRejected), events2[0].Action)

	recent, err := store.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, other, recent[0].Subject, "newest first")
}

func TestPublisher_SamplesOperationsEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithSampler(NewSampler(0)))
	defer pub.Close()

	for _, action := range []audit.AuditEvent{audit.EventSMSInbound, audit.EventVoteAccepted, audit.EventOTPRequested} {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: voter, Action: string(action)}))
	}

	events, err := pub.List(context.Background(), voter)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventVoteAccepted), events[0].Action)
	assert.Equal(t, string(audit.EventOTPRequested), events[1].Action)
}

func TestSampler(t *testing.T) {
	inbound := audit.Event{Action: string(audit.EventSMSInbound), Category: audit.CategoryOperations}

	t.Run("rate is clamped", func(t *testing.T) {
		assert.True(t, NewSampler(3).Keep(inbound))
		assert.False(t, NewSampler(-1).Keep(inbound))
	})

	t.Run("per action override", func(t *testing.T) {
		s := NewSampler(1)
		s.SetRate(audit.EventSMSInbound, 0.5)
		s.roll = func() float64 { return 0.7 }
		assert.False(t, s.Keep(inbound))
		s.roll = func() float64 { return 0.2 }
		assert.True(t, s.Keep(inbound))
	})

	t.Run("non operations events are kept", func(t *testing.T) {
		s := NewSampler(0)
		assert.True(t, s.Keep(audit.Event{Action: string(audit.EventVoteRejected), Category: audit.CategoryCompliance}))
	})
}
