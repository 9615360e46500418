package board

import (
	"context"

	"github.com/jayanth920/taskfront/channel"
	"github.com/jayanth920/taskfront/domain"
)

// Sender pushes frames over a realtime channel. *channel.Session
// implements it.
type Sender interface {
	Send(channel.Message) error
	Status() channel.Status
}

// API is the slice of the REST surface the dispatcher depends on.
// *rest.Client implements it.
type API interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, boardID string, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, task domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}
