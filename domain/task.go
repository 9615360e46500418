package domain

import (
	"errors"
	"strings"
	"time"
)

// Group names the board column a task belongs to.
type Group string

const (
	GroupTodo       Group = "todo"
	GroupInProgress Group = "inprogress"
	GroupDone       Group = "done"
	GroupUnsure     Group = "unsure"
)

// Groups returns the fixed column set in display order. The flat task
// sequence sent over the wire is rebuilt by walking this order.
func Groups() []Group {
	return []Group{GroupTodo, GroupInProgress, GroupDone, GroupUnsure}
}

// Valid reports whether g is one of the known columns.
func (g Group) Valid() bool {
	switch g {
	case GroupTodo, GroupInProgress, GroupDone, GroupUnsure:
		return true
	}
	return false
}

// Task represents a single board item in the local read model.
type Task struct {
	ID          string    `json:"id"`
	BoardID     string    `json:"boardId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Group       Group     `json:"group"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskDraft carries the caller-supplied fields of a task that does not
// exist yet. The server assigns id, rank and creation time.
type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Group       Group  `json:"group"`
}

// ErrEmptyTitle is returned when a task title is empty or blank.
var ErrEmptyTitle = errors.New("task title must not be empty")

// ErrUnknownGroup is returned when a group is not part of the fixed column set.
var ErrUnknownGroup = errors.New("unknown group")

// ValidateTitle rejects empty or whitespace-only titles before any intent
// is dispatched.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	return nil
}
