// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/robertcoach/assess/internal/domain"
)

// ErrCorruptRecord is returned when a persisted session record fails
// shape validation. Callers treat it as "no session": a record without a
// usable session ID is never exposed as a partially populated session.
var ErrCorruptRecord = errors.New("persisted session record is corrupt")

// Repository defines the interface for persisting assessment sessions.
// Each browser profile holds at most one session record; saving replaces
// the previous record entirely.
type Repository interface {
	// LoadSession retrieves the session for a profile. Returns (nil, nil)
	// when no record exists, and ErrCorruptRecord when the stored payload
	// fails shape validation.
	LoadSession(ctx context.Context, profileID string) (*domain.Session, error)

	// SaveSession writes the full session in a single upsert, overwriting
	// any prior record unconditionally.
	SaveSession(ctx context.Context, profileID string, session *domain.Session) error

	// ClearSession removes the session record for a profile.
	ClearSession(ctx context.Context, profileID string) error

	// CleanupExpired removes session records not saved within the TTL.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
