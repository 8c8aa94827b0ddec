package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commonvote/internal/tally/models"
	"commonvote/internal/tally/ports"
	voteModels "commonvote/internal/vote/models"
	txcontext "commonvote/pkg/platform/tx"
)

// PostgresStore relies on the (proposal_id, voter_phone) primary key of the
// votes table. The insert and the counter update share one transaction, so a
// refused increment rolls the vote back.
type PostgresStore struct {
	db      *sql.DB
	counter ports.Counter
}

// NewPostgres takes a counter that joins the transaction carried in ctx, such
// as the proposal PostgresStore.
func NewPostgres(db *sql.DB, counter ports.Counter) *PostgresStore {
	return &PostgresStore{db: db, counter: counter}
}

func (s *PostgresStore) Record(ctx context.Context, vote voteModels.Vote, now time.Time) (*models.Recorded, error) {
	var recorded *models.Recorded
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			INSERT INTO votes (proposal_id, voter_phone, choice, recorded_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (proposal_id, voter_phone) DO NOTHING
		`, vote.ProposalID, vote.VoterPhone.String(), string(vote.Choice), vote.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		if n == 0 {
			var existing string
			err := exec.QueryRowContext(ctx,
				`SELECT choice FROM votes WHERE proposal_id = $1 AND voter_phone = $2`,
				vote.ProposalID, vote.VoterPhone.String()).Scan(&existing)
			if err != nil {
				return fmt.Errorf("read existing vote: %w", err)
			}
			recorded = &models.Recorded{Duplicate: true, Existing: voteModels.Choice(existing)}
			return nil
		}

		counts, err := s.counter.AddVote(ctx, vote.ProposalID, vote.Choice, now)
		if err != nil {
			return err
		}
		recorded = &models.Recorded{Counts: counts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}
