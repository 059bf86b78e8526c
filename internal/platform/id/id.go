// Package id generates identifiers for events, aggregates, and deadline tokens.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 encoding of a random UUIDv4.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// Parse decodes an id produced by NewID back into its UUID.
func Parse(raw string) (uuid.UUID, error) {
	decoded, err := encoding.DecodeString(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode id: %w", err)
	}
	return uuid.FromBytes(decoded)
}
