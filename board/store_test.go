package board

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jayanth920/taskfront/channel"
	"github.com/jayanth920/taskfront/domain"
)

func newTestStore(t *testing.T, boardID string) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewStore(boardID, logger)
}

func task(id, title string, g domain.Group, order int) domain.Task {
	return domain.Task{ID: id, BoardID: "b1", Title: title, Group: g, Order: order}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func wantIDs(t *testing.T, got []domain.Task, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got ids %v, want %v", ids(got), want)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("got ids %v, want %v", ids(got), want)
		}
	}
}

func TestApplyInitReplacesEverything(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("old1", "stale", domain.GroupTodo, 0),
		task("old2", "stale", domain.GroupDone, 0),
	}})

	changed := s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("a", "write docs", domain.GroupTodo, 0),
		task("b", "review", domain.GroupInProgress, 0),
	}})
	if !changed {
		t.Fatal("init should always report a change")
	}
	wantIDs(t, s.Snapshot(), "a", "b")

	if !s.Apply(channel.Init{BoardID: "b1"}) {
		t.Fatal("empty init should still replace")
	}
	if s.Len() != 0 {
		t.Fatalf("got %d tasks after empty init, want 0", s.Len())
	}
}

func TestApplyCreatedIsIdempotent(t *testing.T) {
	s := newTestStore(t, "b1")
	created := channel.TaskCreated{BoardID: "b1", Task: task("a", "write docs", domain.GroupTodo, 0)}

	if !s.Apply(created) {
		t.Fatal("first create should change state")
	}
	if s.Apply(created) {
		t.Fatal("duplicate create should be discarded")
	}
	if s.Len() != 1 {
		t.Fatalf("got %d tasks, want 1", s.Len())
	}
}

func TestApplyUpdatedReplacesWholeObject(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("a", "write docs", domain.GroupTodo, 0),
		task("b", "review", domain.GroupTodo, 1),
	}})

	moved := task("a", "write docs v2", domain.GroupDone, 0)
	moved.Description = "now with notes"
	if !s.Apply(channel.TaskUpdated{BoardID: "b1", Task: moved}) {
		t.Fatal("update for known task should change state")
	}

	got, ok := s.Get("a")
	if !ok {
		t.Fatal("task vanished after update")
	}
	if got.Title != "write docs v2" || got.Group != domain.GroupDone || got.Description != "now with notes" {
		t.Fatalf("update did not replace the whole object: %+v", got)
	}
	wantIDs(t, s.Snapshot(), "b", "a")
}

func TestApplyUpdatedUnknownDiscarded(t *testing.T) {
	s := newTestStore(t, "b1")
	if s.Apply(channel.TaskUpdated{BoardID: "b1", Task: task("ghost", "x", domain.GroupTodo, 0)}) {
		t.Fatal("update for unknown task should be discarded")
	}
	if s.Len() != 0 {
		t.Fatalf("discarded update inserted a task: %d", s.Len())
	}
}

func TestApplyDeletedRemovesOnce(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{task("a", "x", domain.GroupTodo, 0)}})

	if !s.Apply(channel.TaskDeleted{BoardID: "b1", ID: "a"}) {
		t.Fatal("delete for known task should change state")
	}
	if s.Apply(channel.TaskDeleted{BoardID: "b1", ID: "a"}) {
		t.Fatal("delete for unknown task should be a no-op")
	}
	if s.Len() != 0 {
		t.Fatalf("got %d tasks, want 0", s.Len())
	}
}

func TestApplyReorderDiscardsIdenticalSequence(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("a", "x", domain.GroupTodo, 0),
		task("b", "y", domain.GroupTodo, 1),
	}})

	ch := s.Watch()
	defer s.Unwatch(ch)

	same := channel.TasksReorder{BoardID: "b1", Tasks: []domain.Task{
		task("a", "x", domain.GroupTodo, 0),
		task("b", "y", domain.GroupTodo, 1),
	}}
	if s.Apply(same) {
		t.Fatal("reorder with identical id sequence should be discarded")
	}
	select {
	case <-ch:
		t.Fatal("discarded reorder must not notify watchers")
	default:
	}

	swapped := channel.TasksReorder{BoardID: "b1", Tasks: []domain.Task{
		task("b", "y", domain.GroupTodo, 0),
		task("a", "x", domain.GroupTodo, 1),
	}}
	if !s.Apply(swapped) {
		t.Fatal("reorder with a new sequence should replace state")
	}
	wantIDs(t, s.Snapshot(), "b", "a")
	select {
	case <-ch:
	default:
		t.Fatal("applied reorder should notify watchers")
	}
}

func TestApplyDiscardsForeignBoardFrames(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{task("a", "x", domain.GroupTodo, 0)}})

	frames := []channel.Message{
		channel.Init{BoardID: "b2", Tasks: []domain.Task{task("z", "other", domain.GroupTodo, 0)}},
		channel.TaskCreated{BoardID: "b2", Task: task("z", "other", domain.GroupTodo, 0)},
		channel.TaskUpdated{BoardID: "b2", Task: task("a", "hijack", domain.GroupTodo, 0)},
		channel.TaskDeleted{BoardID: "b2", ID: "a"},
		channel.TasksReorder{BoardID: "b2"},
	}
	for _, f := range frames {
		if s.Apply(f) {
			t.Fatalf("frame %s scoped to b2 must be discarded", f.Type())
		}
	}
	wantIDs(t, s.Snapshot(), "a")

	// Unscoped frames apply normally.
	if !s.Apply(channel.TaskDeleted{ID: "a"}) {
		t.Fatal("unscoped frame should apply")
	}
}

func TestWatchSignalsCollapse(t *testing.T) {
	s := newTestStore(t, "b1")
	ch := s.Watch()

	s.Apply(channel.TaskCreated{BoardID: "b1", Task: task("a", "x", domain.GroupTodo, 0)})
	s.Apply(channel.TaskCreated{BoardID: "b1", Task: task("b", "y", domain.GroupTodo, 1)})

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending signal after changes")
	}
	select {
	case <-ch:
		t.Fatal("signals should collapse into the buffered slot")
	default:
	}

	s.Unwatch(ch)
	s.Apply(channel.TaskDeleted{BoardID: "b1", ID: "a"})
	select {
	case <-ch:
		t.Fatal("unwatched channel must not receive signals")
	default:
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{task("a", "x", domain.GroupTodo, 0)}})

	snap := s.Snapshot()
	snap[0].Title = "mutated"
	got, _ := s.Get("a")
	if got.Title != "x" {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func checkSettledRanks(t *testing.T, s *Store) {
	t.Helper()
	for g, seq := range s.Grouped() {
		for i, tk := range seq {
			if tk.Order != i {
				t.Fatalf("%s[%d] has rank %d, want %d", g, i, tk.Order, i)
			}
		}
	}
}

func TestRanksStayContiguousAcrossMerges(t *testing.T) {
	s := newTestStore(t, "b1")

	// Snapshots may arrive with server-side gaps; settlement compacts them.
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("a", "one", domain.GroupTodo, 3),
		task("b", "two", domain.GroupTodo, 7),
		task("c", "three", domain.GroupDone, 5),
	}})
	checkSettledRanks(t, s)
	wantIDs(t, s.Snapshot(), "a", "b", "c")

	s.Apply(channel.TaskCreated{BoardID: "b1", Task: task("d", "four", domain.GroupTodo, 9)})
	checkSettledRanks(t, s)
	wantIDs(t, s.Snapshot(), "a", "b", "d", "c")

	s.Apply(channel.TaskDeleted{BoardID: "b1", ID: "a"})
	checkSettledRanks(t, s)
	wantIDs(t, s.Snapshot(), "b", "d", "c")

	s.Apply(channel.TaskUpdated{BoardID: "b1", Task: task("c", "three", domain.GroupTodo, 1)})
	checkSettledRanks(t, s)
	wantIDs(t, s.Snapshot(), "b", "c", "d")
}

func TestApplyUpdatedTwiceIsIdempotent(t *testing.T) {
	s := newTestStore(t, "b1")
	s.Apply(channel.Init{BoardID: "b1", Tasks: []domain.Task{
		task("a", "one", domain.GroupTodo, 0),
		task("b", "two", domain.GroupTodo, 1),
	}})

	update := channel.TaskUpdated{BoardID: "b1", Task: task("a", "one v2", domain.GroupDone, 4)}
	s.Apply(update)
	first := s.Snapshot()
	s.Apply(update)
	second := s.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("second apply changed the set size: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("second apply changed task %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStoresConvergeOnAuthoritativeBroadcast(t *testing.T) {
	a := newTestStore(t, "b1")
	b := newTestStore(t, "b1")
	initial := []domain.Task{
		task("t1", "one", domain.GroupTodo, 0),
		task("t2", "two", domain.GroupTodo, 1),
		task("t3", "three", domain.GroupDone, 0),
	}
	a.Apply(channel.Init{BoardID: "b1", Tasks: initial})
	b.Apply(channel.Init{BoardID: "b1", Tasks: initial})

	// Client A guesses optimistically; client B has not heard anything yet.
	guess, changed := domain.Move(a.Snapshot(), "t1", domain.GroupTodo, 0, domain.GroupDone, 0)
	if !changed {
		t.Fatal("move should change the set")
	}
	a.Replace(guess)

	authoritative := channel.TasksReorder{BoardID: "b1", Tasks: guess}
	a.Apply(authoritative)
	b.Apply(authoritative)

	snapA, snapB := a.Snapshot(), b.Snapshot()
	wantIDs(t, snapA, "t2", "t1", "t3")
	if len(snapA) != len(snapB) {
		t.Fatalf("stores diverged: %v vs %v", ids(snapA), ids(snapB))
	}
	for i := range snapA {
		if snapA[i] != snapB[i] {
			t.Fatalf("stores diverged at %d: %+v vs %+v", i, snapA[i], snapB[i])
		}
	}
}
