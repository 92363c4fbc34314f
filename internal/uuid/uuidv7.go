// Package uuid wraps UUID generation and validation for the budget service.
// UUIDv7 is time-ordered, which keeps index writes on UUID primary keys
// mostly append-only.
package uuid

import (
	googleuuid "github.com/google/uuid"
)

// New generates a new UUIDv7 string based on the current timestamp.
func New() string {
	id, err := googleuuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is unavailable;
		// fall back to v4 rather than propagating an error for an ID.
		return googleuuid.New().String()
	}
	return id.String()
}

// Parse validates and normalizes a UUID string.
func Parse(s string) (string, error) {
	parsed, err := googleuuid.Parse(s)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// IsValid checks if a string is a valid UUID
func IsValid(s string) bool {
	_, err := googleuuid.Parse(s)
	return err == nil
}
