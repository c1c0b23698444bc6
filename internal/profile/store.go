// Package profile reads user demographic and display attributes from the
// external users table. Profile images are stored as relative media paths;
// the store joins them against the media base URL so clients always receive
// an absolute URL.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tori/voicematch/internal/matching"
)

// Store reads users rows.
type Store struct {
	db           *sql.DB
	mediaBaseURL string
}

// NewStore creates a profile reader. mediaBaseURL prefixes relative profile
// image paths.
func NewStore(db *sql.DB, mediaBaseURL string) *Store {
	return &Store{db: db, mediaBaseURL: mediaBaseURL}
}

// Person loads a user's attributes. Returns (nil, nil) for unknown ids.
func (s *Store) Person(ctx context.Context, userID int64) (*matching.Person, error) {
	const query = `
		SELECT id, username, COALESCE(age, 0), COALESCE(gender, ''), COALESCE(profile_image, '')
		FROM users
		WHERE id = $1`

	var p matching.Person
	var image string
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&p.ID, &p.Username, &p.Age, &p.Gender, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load %d: %w", userID, err)
	}

	p.ImageURL = s.absoluteURL(image)
	return &p, nil
}

// absoluteURL joins a stored media path against the media base URL. Already
// absolute URLs and empty paths pass through unchanged.
func (s *Store) absoluteURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(s.mediaBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
