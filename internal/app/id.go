package app

import "github.com/google/uuid"

// generateID produces a time-ordered UUIDv7, so ascending ids follow
// creation order and keyset pages stay stable.
func generateID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// generateBatchID produces the random correlation key of one claim run.
func generateBatchID() string {
	return uuid.NewString()
}
