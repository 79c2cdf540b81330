// Package prompt defines stored system prompts. Each user can select one
// prompt; the workflow injects the selected content as the system message
// on every turn.
package prompt

import "time"

// Prompt is one named system prompt.
type Prompt struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest carries the fields needed to create a prompt.
type CreateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
