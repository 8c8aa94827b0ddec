package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commonvote/internal/membership/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/sentinel"
	txcontext "commonvote/pkg/platform/tx"
)

// PostgresDirectory reads the members table. Member CRUD belongs to another
// service; Upsert exists for seeding and tests.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Upsert(ctx context.Context, m models.Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO members (phone, group_id, display_name, phone_verified, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone) DO UPDATE
		SET group_id = EXCLUDED.group_id,
			display_name = EXCLUDED.display_name,
			phone_verified = EXCLUDED.phone_verified
	`
	_, err := txcontext.Exec(ctx, d.db).ExecContext(ctx, query,
		m.Phone.String(), m.GroupID, m.DisplayName, m.PhoneVerified, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) ResolveMemberGroup(ctx context.Context, number phone.Number) (string, bool, error) {
	var groupID string
	err := txcontext.Exec(ctx, d.db).QueryRowContext(ctx,
		`SELECT group_id FROM members WHERE phone = $1`, number.String()).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve member group: %w", err)
	}
	return groupID, true, nil
}

func (d *PostgresDirectory) IsVerifiedMember(ctx context.Context, number phone.Number, groupID string) (bool, error) {
	var ok bool
	err := txcontext.Exec(ctx, d.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM members WHERE phone = $1 AND group_id = $2 AND phone_verified
		)`, number.String(), groupID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return ok, nil
}

func (d *PostgresDirectory) MarkPhoneVerified(ctx context.Context, number phone.Number) error {
	res, err := txcontext.Exec(ctx, d.db).ExecContext(ctx,
		`UPDATE members SET phone_verified = TRUE WHERE phone = $1`, number.String())
	if err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (d *PostgresDirectory) ListVerifiedMembers(ctx context.Context, groupID string) ([]phone.Number, error) {
	rows, err := txcontext.Exec(ctx, d.db).QueryContext(ctx,
		`SELECT phone FROM members WHERE group_id = $1 AND phone_verified ORDER BY phone`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []phone.Number
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, phone.Number(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}
