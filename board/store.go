// Package board holds the local read model of one board and the commands
// that mutate it. The Store folds authoritative channel frames into local
// state; the Dispatcher turns user intents into optimistic updates plus
// channel or REST traffic.
package board

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jayanth920/taskfront/channel"
	"github.com/jayanth920/taskfront/domain"
)

// Store is the reconciled task set of a single board. The flat sequence is
// kept settled: groups in display order, tasks by rank within each group,
// ranks contiguous from zero. All methods are safe for concurrent use.
type Store struct {
	boardID string
	logger  *log.Entry

	mu    sync.Mutex
	tasks []domain.Task

	watchers broker
}

// NewStore creates an empty store scoped to one board.
func NewStore(boardID string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		boardID:  boardID,
		logger:   logger.WithField("boardId", boardID),
		watchers: broker{subs: make(map[chan struct{}]struct{})},
	}
}

// BoardID returns the board this store is scoped to.
func (s *Store) BoardID() string { return s.boardID }

// Apply folds one channel frame into local state and reports whether the
// state changed. Frames scoped to another board and frames that carry
// nothing new are discarded. Watchers are notified on every change.
func (s *Store) Apply(msg channel.Message) bool {
	if scope := msg.Board(); scope != "" && scope != s.boardID {
		s.logger.WithFields(log.Fields{"scope": scope, "type": msg.Type()}).
			Debug("discarding frame for another board")
		return false
	}

	s.mu.Lock()
	var changed bool
	switch m := msg.(type) {
	case channel.Init:
		s.tasks = domain.Renumber(m.Tasks)
		changed = true
	case channel.TaskCreated:
		changed = s.insertLocked(m.Task)
	case channel.TaskUpdated:
		changed = s.updateLocked(m.Task)
	case channel.TaskDeleted:
		changed = s.removeLocked(m.ID)
	case channel.TasksReorder:
		changed = s.reorderLocked(m.Tasks)
	default:
		// Client-to-server frames carry no authoritative state.
	}
	s.mu.Unlock()

	if changed {
		s.watchers.notify()
	}
	return changed
}

func (s *Store) insertLocked(task domain.Task) bool {
	if s.findLocked(task.ID) >= 0 {
		s.logger.WithField("taskId", task.ID).Debug("duplicate create discarded")
		return false
	}
	s.tasks = domain.Renumber(append(s.tasks, task))
	return true
}

func (s *Store) updateLocked(task domain.Task) bool {
	i := s.findLocked(task.ID)
	if i < 0 {
		s.logger.WithField("taskId", task.ID).Debug("update for unknown task discarded")
		return false
	}
	s.tasks[i] = task
	s.tasks = domain.Renumber(s.tasks)
	return true
}

func (s *Store) removeLocked(id string) bool {
	i := s.findLocked(id)
	if i < 0 {
		s.logger.WithField("taskId", id).Debug("delete for unknown task discarded")
		return false
	}
	s.tasks = domain.Renumber(append(s.tasks[:i], s.tasks[i+1:]...))
	return true
}

func (s *Store) reorderLocked(tasks []domain.Task) bool {
	next := domain.Renumber(tasks)
	if sameIDSequence(s.tasks, next) {
		return false
	}
	s.tasks = next
	return true
}

func (s *Store) findLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Replace swaps in a full task set. It backs optimistic bulk moves.
func (s *Store) Replace(tasks []domain.Task) {
	s.mu.Lock()
	s.tasks = domain.Renumber(tasks)
	s.mu.Unlock()
	s.watchers.notify()
}

// Put inserts or replaces one task. It backs optimistic single-task edits.
func (s *Store) Put(task domain.Task) {
	s.mu.Lock()
	if i := s.findLocked(task.ID); i >= 0 {
		s.tasks[i] = task
	} else {
		s.tasks = append(s.tasks, task)
	}
	s.tasks = domain.Renumber(s.tasks)
	s.mu.Unlock()
	s.watchers.notify()
}

// Remove drops one task and reports whether it was present. It backs
// optimistic deletes.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	removed := s.removeLocked(id)
	s.mu.Unlock()
	if removed {
		s.watchers.notify()
	}
	return removed
}

// Snapshot returns a copy of the normalized flat task sequence.
func (s *Store) Snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Grouped returns the tasks partitioned by group, each ordered by rank.
func (s *Store) Grouped() map[domain.Group][]domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.GroupBy(s.tasks)
}

// Get looks one task up by id.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(id); i >= 0 {
		return s.tasks[i], true
	}
	return domain.Task{}, false
}

// Len returns the number of tasks currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Watch returns a channel that receives a signal after every state change.
// The channel is buffered; signals collapse when the consumer lags.
func (s *Store) Watch() chan struct{} {
	return s.watchers.subscribe()
}

// Unwatch releases a channel obtained from Watch.
func (s *Store) Unwatch(ch chan struct{}) {
	s.watchers.unsubscribe(ch)
}

func sameIDSequence(a, b []domain.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// broker fans change signals out to watchers without blocking the mutating
// goroutine.
type broker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func (b *broker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *broker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}
