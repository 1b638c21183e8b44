// Package xid generates prefixed, time-sortable identifiers.
package xid

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns "<prefix>_<ulid>". IDs created later sort after earlier ones.
func New(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// OpID returns a fresh idempotency key for an operation captured offline.
func OpID() string {
	return uuid.NewString()
}
