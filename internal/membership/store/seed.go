package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"commonvote/internal/membership/models"
	"commonvote/pkg/phone"
)

// Upserter is the write side shared by both directories.
type Upserter interface {
	Upsert(ctx context.Context, m models.Member) error
}

type seedRecord struct {
	Phone         string `json:"phone"`
	GroupID       string `json:"group_id"`
	DisplayName   string `json:"display_name"`
	PhoneVerified bool   `json:"phone_verified"`
}

// Seed loads a JSON array of members into dir. Phones are normalised with
// defaultCountryCode; the first invalid record aborts the load.
func Seed(ctx context.Context, r io.Reader, dir Upserter, defaultCountryCode string) (int, error) {
	var records []seedRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode members: %w", err)
	}
	for i, rec := range records {
		number, err := phone.Normalize(rec.Phone, defaultCountryCode)
		if err != nil {
			return i, fmt.Errorf("member %d: %w", i, err)
		}
		if rec.GroupID == "" {
			return i, fmt.Errorf("member %d: group_id is required", i)
		}
		err = dir.Upsert(ctx, models.Member{
			Phone:         number,
			GroupID:       rec.GroupID,
			DisplayName:   rec.DisplayName,
			PhoneVerified: rec.PhoneVerified,
		})
		if err != nil {
			return i, fmt.Errorf("member %d: %w", i, err)
		}
	}
	return len(records), nil
}
