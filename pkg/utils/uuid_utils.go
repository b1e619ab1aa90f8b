package utils

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var newUUIDv7 = uuid.NewV7

// ErrInvalidKeyID is returned for ids that are not a usable key id.
var ErrInvalidKeyID = errors.New("invalid key id")

// GenerateUUIDv7 returns a time-ordered id for a new key row. It falls back
// to a random v4 id when the v7 source fails.
func GenerateUUIDv7() uuid.UUID {
	id, err := newUUIDv7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ParseKeyID parses an id given by an operator. The nil uuid is rejected.
func ParseKeyID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidKeyID
	}
	return id, nil
}
