package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"commonvote/internal/proposal/models"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/platform/sentinel"
	txcontext "commonvote/pkg/platform/tx"
)

const proposalColumns = `id, group_id, title, body, status, short_code, opens_at, closes_at,
	yes_count, no_count, outcome, created_at`

// PostgresStore persists proposals in the proposals table. Counts are only
// changed by single UPDATE statements guarded on status and deadline.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO proposals (id, group_id, title, body, status, short_code, opens_at, closes_at,
			yes_count, no_count, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, toArgs(p)...)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	return scanProposal(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn func(ctx context.Context, p *models.Proposal) error) (*models.Proposal, error) {
	var updated *models.Proposal
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		p, err := scanProposal(exec.QueryRowContext(ctx,
			`SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(ctx, p); err != nil {
			return err
		}
		query := `
			UPDATE proposals
			SET group_id = $2, title = $3, body = $4, status = $5, short_code = $6,
				opens_at = $7, closes_at = $8, yes_count = $9, no_count = $10, outcome = $11, created_at = $12
			WHERE id = $1
		`
		if _, err := exec.ExecContext(ctx, query, toArgs(p)...); err != nil {
			return fmt.Errorf("update proposal: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// NextShortCode bumps the per-group counter with an upsert so concurrent
// starts in one group never receive the same code.
func (s *PostgresStore) NextShortCode(ctx context.Context, groupID string) (string, error) {
	query := `
		INSERT INTO short_code_counters (group_id, last_code) VALUES ($1, 1)
		ON CONFLICT (group_id) DO UPDATE SET last_code = short_code_counters.last_code + 1
		RETURNING last_code
	`
	var next int
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, groupID).Scan(&next); err != nil {
		return "", fmt.Errorf("allocate short code: %w", err)
	}
	if next > maxShortCode {
		return "", fmt.Errorf("group %s short codes: %w", groupID, sentinel.ErrConflict)
	}
	return fmt.Sprintf("%03d", next), nil
}

func (s *PostgresStore) FindByShortCode(ctx context.Context, groupID, code string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE group_id = $1 AND short_code = $2`
	return scanProposal(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, groupID, code))
}

func (s *PostgresStore) AddVote(ctx context.Context, id string, choice voteModels.Choice, now time.Time) (voteModels.Counts, error) {
	yes, no := 0, 0
	if choice == voteModels.ChoiceYes {
		yes = 1
	} else {
		no = 1
	}
	query := `
		UPDATE proposals
		SET yes_count = yes_count + $2, no_count = no_count + $3
		WHERE id = $1 AND status = 'voting_open' AND opens_at <= $4 AND closes_at > $4
		RETURNING yes_count, no_count
	`
	exec := txcontext.Exec(ctx, s.db)
	var counts voteModels.Counts
	err := exec.QueryRowContext(ctx, query, id, yes, no, now).Scan(&counts.Yes, &counts.No)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return voteModels.Counts{}, fmt.Errorf("check proposal: %w", err)
		}
		if !exists {
			return voteModels.Counts{}, sentinel.ErrNotFound
		}
		return voteModels.Counts{}, sentinel.ErrInvalidState
	}
	if err != nil {
		return voteModels.Counts{}, fmt.Errorf("increment count: %w", err)
	}
	return counts, nil
}

// CloseDue locks the due proposals, decides each outcome and closes them in
// one statement.
func (s *PostgresStore) CloseDue(ctx context.Context, now time.Time) ([]*models.Proposal, error) {
	var closed []*models.Proposal
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT `+proposalColumns+` FROM proposals
			WHERE status = 'voting_open' AND closes_at <= $1
			FOR UPDATE SKIP LOCKED
		`, now)
		if err != nil {
			return fmt.Errorf("select due proposals: %w", err)
		}
		defer rows.Close()

		var ids, passed []string
		for rows.Next() {
			p, err := scanProposal(rows)
			if err != nil {
				return err
			}
			p.Close()
			ids = append(ids, p.ID)
			if p.Outcome == models.OutcomePassed {
				passed = append(passed, p.ID)
			}
			closed = append(closed, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate due proposals: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = exec.ExecContext(ctx, `
			UPDATE proposals
			SET status = 'closed',
				outcome = CASE WHEN id::text = ANY($2) THEN 'passed' ELSE 'failed' END
			WHERE id::text = ANY($1)
		`, pq.Array(ids), pq.Array(passed))
		if err != nil {
			return fmt.Errorf("close due proposals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p         models.Proposal
		status    string
		shortCode sql.NullString
		opensAt   sql.NullTime
		closesAt  sql.NullTime
		outcome   string
	)
	err := row.Scan(&p.ID, &p.GroupID, &p.Title, &p.Body, &status, &shortCode, &opensAt, &closesAt,
		&p.Counts.Yes, &p.Counts.No, &outcome, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	p.Status = models.Status(status)
	p.ShortCode = shortCode.String
	p.OpensAt = opensAt.Time
	p.ClosesAt = closesAt.Time
	p.Outcome = models.Outcome(outcome)
	return &p, nil
}

func toArgs(p *models.Proposal) []any {
	return []any{
		p.ID,
		p.GroupID,
		p.Title,
		p.Body,
		string(p.Status),
		sql.NullString{String: p.ShortCode, Valid: p.ShortCode != ""},
		sql.NullTime{Time: p.OpensAt, Valid: !p.OpensAt.IsZero()},
		sql.NullTime{Time: p.ClosesAt, Valid: !p.ClosesAt.IsZero()},
		p.Counts.Yes,
		p.Counts.No,
		string(p.Outcome),
		p.CreatedAt,
	}
}
