// Package session stores server-side login sessions keyed by an opaque id.
package session

import (
	"context"
	"errors"
	"time"

	"halalchat/api/internal/util"
)

var ErrNotFound = errors.New("session not found or expired")

// Data is what a session id resolves to.
type Data struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, userID string) (string, error)
	Lookup(ctx context.Context, sessionID string) (Data, error)
	Destroy(ctx context.Context, sessionID string) error
}

func newSessionID() string {
	return util.RandomHex(32)
}
