// Package promptstore defines the port for per-user system prompt storage.
package promptstore

import "context"

// Store resolves the system prompt selected for a user. An empty string
// means the user has no selection and the caller falls back to the
// configured default prompt.
type Store interface {
	GetSelectedPromptContent(ctx context.Context, userID string) (string, error)
}
