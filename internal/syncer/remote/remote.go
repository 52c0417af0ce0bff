// Package remote implements the key-value document store that sync pushes to
// and pulls from.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/timepulse/timepulse/internal/timers"
)

var (
	// ErrUnauthorized is returned when the secret does not match the document.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrBadStatus is wrapped for unexpected HTTP responses.
	ErrBadStatus = errors.New("remote: unexpected status")
)

// Payload is the document stored under a sync id.
type Payload struct {
	timers.Snapshot
	// UpdatedAt is the writer's clock in epoch milliseconds. It is
	// informational and never used to resolve conflicts.
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// Store reads and writes whole documents with an expiry.
type Store interface {
	// Get returns nil, nil when no live document exists for id.
	Get(ctx context.Context, id, secret string) (*Payload, error)
	Put(ctx context.Context, id, secret string, p Payload, ttl time.Duration) error
}
