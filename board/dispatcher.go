package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jayanth920/taskfront/channel"
	"github.com/jayanth920/taskfront/domain"
)

// ErrUnknownTask is returned when a command names a task absent from
// local state.
var ErrUnknownTask = errors.New("task not found in local state")

// Dispatcher turns user intents into local updates plus outbound traffic.
// Edits and deletes apply optimistically and are never rolled back; the next
// broadcast wins. Creates wait for the server echo instead.
type Dispatcher struct {
	store  *Store
	api    API
	sender Sender
	logger *log.Logger
}

// NewDispatcher wires a dispatcher to its store, REST API and optional
// realtime sender. sender may be nil for REST-only operation.
func NewDispatcher(store *Store, api API, sender Sender, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{store: store, api: api, sender: sender, logger: logger}
}

// Create validates the draft and asks the server to persist it. Local state
// is only touched with the server's reply, so a failed create leaves no
// trace. The later broadcast echo collapses into a no-op.
func (d *Dispatcher) Create(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if err := domain.ValidateTitle(draft.Title); err != nil {
		return domain.Task{}, err
	}
	if draft.Group == "" {
		draft.Group = domain.GroupTodo
	}
	if !draft.Group.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrUnknownGroup, draft.Group)
	}

	task, err := d.api.CreateTask(ctx, d.store.BoardID(), draft)
	if err != nil {
		return domain.Task{}, err
	}
	d.store.Apply(channel.TaskCreated{BoardID: d.store.BoardID(), Task: task})
	return task, nil
}

// Rename retitles a task locally first, then persists the full object. On
// failure the optimistic title stays; the server echo corrects it if the
// write never landed.
func (d *Dispatcher) Rename(ctx context.Context, id, title string) error {
	if err := domain.ValidateTitle(title); err != nil {
		return err
	}
	task, ok := d.store.Get(id)
	if !ok {
		return ErrUnknownTask
	}
	task.Title = title
	d.store.Put(task)

	if _, err := d.api.UpdateTask(ctx, task); err != nil {
		d.logger.WithError(err).WithField("taskId", id).Warn("rename not acknowledged")
		return err
	}
	return nil
}

// SetDescription replaces a task's description with the same optimistic
// policy as Rename.
func (d *Dispatcher) SetDescription(ctx context.Context, id, description string) error {
	task, ok := d.store.Get(id)
	if !ok {
		return ErrUnknownTask
	}
	task.Description = description
	d.store.Put(task)

	if _, err := d.api.UpdateTask(ctx, task); err != nil {
		d.logger.WithError(err).WithField("taskId", id).Warn("description edit not acknowledged")
		return err
	}
	return nil
}

// Delete removes a task locally first, then on the server.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	if _, ok := d.store.Get(id); !ok {
		return ErrUnknownTask
	}
	d.store.Remove(id)

	if err := d.api.DeleteTask(ctx, id); err != nil {
		d.logger.WithError(err).WithField("taskId", id).Warn("delete not acknowledged")
		return err
	}
	return nil
}

// Move relocates a task to toIndex within the destination group, renumbers
// both touched groups and applies the result optimistically. With an open
// channel the full recomputed set goes out as one reorder frame; otherwise
// only the moved task is persisted over REST. A failed send triggers an
// unconditional refetch so local state cannot drift.
func (d *Dispatcher) Move(ctx context.Context, id string, to domain.Group, toIndex int) (err error) {
	metrics, ctx := newMoveMetrics(ctx, d.logger)
	defer func() { metrics.Log(err) }()

	if !to.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownGroup, to)
	}
	task, ok := d.store.Get(id)
	if !ok {
		return ErrUnknownTask
	}
	metrics.SetGroups(task.Group, to)

	snapshot := d.store.Snapshot()
	metrics.SetTaskCount(len(snapshot))
	fromIndex := indexInGroup(snapshot, task.Group, id)
	next, changed := domain.Move(snapshot, id, task.Group, fromIndex, to, toIndex)
	if !changed {
		return nil
	}
	d.store.Replace(next)

	if d.sender != nil && d.sender.Status() == channel.StatusOpen {
		metrics.SetChannelUsed(true)
		start := time.Now()
		sendErr := d.sender.Send(channel.Reorder{BoardID: d.store.BoardID(), Tasks: next})
		metrics.ObserveSend(time.Since(start))
		if sendErr == nil {
			return nil
		}
		metrics.SetErrorStage("channel")
		d.logger.WithError(sendErr).Warn("bulk reorder not delivered, refetching")
		d.refetchAfterFailure(ctx, metrics)
		return sendErr
	}

	metrics.SetFallbackUsed(true)
	moved, ok := findByID(next, id)
	if !ok {
		return ErrUnknownTask
	}
	start := time.Now()
	_, updErr := d.api.UpdateTask(ctx, moved)
	metrics.ObserveSend(time.Since(start))
	if updErr != nil {
		metrics.SetErrorStage("rest")
		d.logger.WithError(updErr).Warn("fallback move not persisted, refetching")
		d.refetchAfterFailure(ctx, metrics)
		return updErr
	}
	return nil
}

// MoveToGroupEnd appends a task at the tail of the destination group.
func (d *Dispatcher) MoveToGroupEnd(ctx context.Context, id string, to domain.Group) error {
	return d.Move(ctx, id, to, len(d.store.Grouped()[to]))
}

// Refresh replaces local state with the authoritative set fetched over REST.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	tasks, err := d.api.ListTasks(ctx, d.store.BoardID())
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	d.store.Apply(channel.Init{BoardID: d.store.BoardID(), Tasks: tasks})
	return nil
}

func (d *Dispatcher) refetchAfterFailure(ctx context.Context, metrics *moveMetrics) {
	if rerr := d.Refresh(ctx); rerr != nil {
		metrics.SetErrorStage("refresh")
		d.logger.WithError(rerr).Error("refetch after failed move failed")
		return
	}
	metrics.SetRefetched(true)
}

func indexInGroup(tasks []domain.Task, group domain.Group, id string) int {
	i := 0
	for _, t := range tasks {
		if t.Group != group {
			continue
		}
		if t.ID == id {
			return i
		}
		i++
	}
	return -1
}

func findByID(tasks []domain.Task, id string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}
