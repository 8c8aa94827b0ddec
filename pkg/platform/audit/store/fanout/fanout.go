// Package fanout writes audit events to a queryable store and to any number
// of write-only sinks.
package fanout

import (
	"context"
	"errors"

	audit "commonvote/pkg/platform/audit"
)

// Sink accepts events without supporting queries.
type Sink interface {
	Append(ctx context.Context, event audit.Event) error
}

type Store struct {
	primary audit.Store
	sinks   []Sink
}

func New(primary audit.Store, sinks ...Sink) *Store {
	return &Store{primary: primary, sinks: sinks}
}

// Append writes to the primary store then every sink. All sinks are attempted
// even when an earlier one fails.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	errs := []error{s.primary.Append(ctx, event)}
	for _, sink := range s.sinks {
		errs = append(errs, sink.Append(ctx, event))
	}
	return errors.Join(errs...)
}

func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	return s.primary.ListBySubject(ctx, subject)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.primary.ListRecent(ctx, limit)
}
