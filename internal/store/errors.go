package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a conversation, contact or bot does not
// exist in the store.
var ErrNotFound = errors.New("store: not found")

// RemoteError is a failure reported by the hosted platform API.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("store: remote error (status %d): %s", e.Status, e.Message)
}
