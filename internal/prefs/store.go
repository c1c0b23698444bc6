// Package prefs reads users' saved match preferences. The settings rows are
// written by the external settings API; this service only reads them.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tori/voicematch/internal/matching"
)

// Store reads match_settings rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a preference reader backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Setting loads a user's preferences. Returns (nil, nil) when the user has
// never saved any, which makes them ineligible for pairing.
func (s *Store) Setting(ctx context.Context, userID int64) (*matching.Setting, error) {
	const query = `
		SELECT preferred_gender, age_min, age_max, radius_km
		FROM match_settings
		WHERE user_id = $1`

	var st matching.Setting
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&st.PreferredGender, &st.AgeMin, &st.AgeMax, &st.RadiusKm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: load %d: %w", userID, err)
	}
	return &st, nil
}
