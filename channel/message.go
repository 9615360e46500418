package channel

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/jayanth920/taskfront/domain"
)

// Wire discriminators carried in the "type" field of every frame.
const (
	TypeInit           = "init"
	TypeTaskCreated    = "task_created"
	TypeTaskUpdated    = "task_updated"
	TypeTaskDeleted    = "task_deleted"
	TypeTasksReorder   = "tasks_reorder"
	TypeReorderRequest = "reorder"
)

// ErrUnknownType is returned by Decode for a frame whose type discriminator
// is not part of the protocol. Consumers drop such frames deliberately.
var ErrUnknownType = errors.New("unknown message type")

// Message is one frame of the board channel protocol. The set of variants is
// closed; dispatch exhaustively on the concrete types.
type Message interface {
	// Type returns the wire discriminator of the frame.
	Type() string
	// Board returns the board scope of the frame, empty when unscoped.
	Board() string

	isMessage()
}

// Init replaces the whole local task set with an authoritative snapshot.
type Init struct {
	BoardID string
	Tasks   []domain.Task
}

// TaskCreated announces a task newly persisted by the server.
type TaskCreated struct {
	BoardID string
	Task    domain.Task
}

// TaskUpdated carries the full replacement object for one task.
type TaskUpdated struct {
	BoardID string
	Task    domain.Task
}

// TaskDeleted announces removal of the task with the given identifier.
type TaskDeleted struct {
	BoardID string
	ID      string
}

// TasksReorder carries the authoritative full ordered set after a move.
type TasksReorder struct {
	BoardID string
	Tasks   []domain.Task
}

// Reorder is the client-to-server request carrying the full recomputed
// ordered set after a local move.
type Reorder struct {
	BoardID string
	Tasks   []domain.Task
}

func (Init) Type() string         { return TypeInit }
func (TaskCreated) Type() string  { return TypeTaskCreated }
func (TaskUpdated) Type() string  { return TypeTaskUpdated }
func (TaskDeleted) Type() string  { return TypeTaskDeleted }
func (TasksReorder) Type() string { return TypeTasksReorder }
func (Reorder) Type() string      { return TypeReorderRequest }

func (m Init) Board() string         { return m.BoardID }
func (m TaskCreated) Board() string  { return m.BoardID }
func (m TaskUpdated) Board() string  { return m.BoardID }
func (m TaskDeleted) Board() string  { return m.BoardID }
func (m TasksReorder) Board() string { return m.BoardID }
func (m Reorder) Board() string      { return m.BoardID }

func (Init) isMessage()         {}
func (TaskCreated) isMessage()  {}
func (TaskUpdated) isMessage()  {}
func (TaskDeleted) isMessage()  {}
func (TasksReorder) isMessage() {}
func (Reorder) isMessage()      {}

// envelope is the superset wire shape shared by all frames.
type envelope struct {
	Type    string        `json:"type"`
	BoardID string        `json:"boardId,omitempty"`
	Task    *domain.Task  `json:"task,omitempty"`
	Tasks   []domain.Task `json:"tasks,omitempty"`
	ID      string        `json:"id,omitempty"`
}

// Encode serializes a frame for the wire.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type(), BoardID: m.Board()}
	switch v := m.(type) {
	case Init:
		env.Tasks = v.Tasks
	case TaskCreated:
		task := v.Task
		env.Task = &task
	case TaskUpdated:
		task := v.Task
		env.Task = &task
	case TaskDeleted:
		env.ID = v.ID
	case TasksReorder:
		env.Tasks = v.Tasks
	case Reorder:
		env.Tasks = v.Tasks
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return sonic.Marshal(env)
}

// Decode parses one frame. Frames with an unrecognized type discriminator
// yield ErrUnknownType; frames missing their payload yield a decode error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case TypeInit:
		return Init{BoardID: env.BoardID, Tasks: env.Tasks}, nil
	case TypeTaskCreated:
		if env.Task == nil {
			return nil, fmt.Errorf("decode %s: missing task", env.Type)
		}
		return TaskCreated{BoardID: env.BoardID, Task: *env.Task}, nil
	case TypeTaskUpdated:
		if env.Task == nil {
			return nil, fmt.Errorf("decode %s: missing task", env.Type)
		}
		return TaskUpdated{BoardID: env.BoardID, Task: *env.Task}, nil
	case TypeTaskDeleted:
		if env.ID == "" {
			return nil, fmt.Errorf("decode %s: missing id", env.Type)
		}
		return TaskDeleted{BoardID: env.BoardID, ID: env.ID}, nil
	case TypeTasksReorder:
		return TasksReorder{BoardID: env.BoardID, Tasks: env.Tasks}, nil
	case TypeReorderRequest:
		return Reorder{BoardID: env.BoardID, Tasks: env.Tasks}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}
