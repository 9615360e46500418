package domain

import "time"

// Board is the metadata of the board owning a task set. The sync core
// consumes it read-only.
type Board struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Team groups boards and members. Peripheral context, never mutated here.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}
