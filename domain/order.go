package domain

import "sort"

// GroupBy partitions tasks into their columns, each sequence sorted by rank
// ascending. Rank ties (possible only before settlement) break by ID so the
// result is a total order for any input. The input is not mutated.
func GroupBy(tasks []Task) map[Group][]Task {
	grouped := make(map[Group][]Task, len(Groups()))
	for _, t := range tasks {
		grouped[t.Group] = append(grouped[t.Group], t)
	}
	for g := range grouped {
		sortByRank(grouped[g])
	}
	return grouped
}

// SortedByGroup rebuilds the flat task sequence by walking the fixed column
// order and concatenating each column's rank-sorted tasks.
func SortedByGroup(tasks []Task) []Task {
	grouped := GroupBy(tasks)
	out := make([]Task, 0, len(tasks))
	for _, g := range Groups() {
		out = append(out, grouped[g]...)
	}
	return out
}

// Renumber returns the flat set with every column's ranks rewritten to be
// contiguous from zero, preserving relative order. The input is not mutated.
func Renumber(tasks []Task) []Task {
	grouped := GroupBy(tasks)
	out := make([]Task, 0, len(tasks))
	for _, g := range Groups() {
		seq := grouped[g]
		renumber(seq)
		out = append(out, seq...)
	}
	return out
}

// Move computes the task set after moving task id from position fromIndex in
// column from to position toIndex in column to. It returns the rebuilt flat
// set and true when a move happened, or the original slice and false for a
// no-op (identical source and destination) or a stale view (fromIndex does
// not reference the task in its current rank-sorted column). The destination
// index is clamped to the destination column's bounds; ranks in the touched
// columns are renumbered to stay contiguous from zero. Pure: the input slice
// and its tasks are never mutated.
func Move(tasks []Task, id string, from Group, fromIndex int, to Group, toIndex int) ([]Task, bool) {
	if from == to && fromIndex == toIndex {
		return tasks, false
	}

	grouped := GroupBy(tasks)
	src := grouped[from]
	if fromIndex < 0 || fromIndex >= len(src) || src[fromIndex].ID != id {
		return tasks, false
	}

	moved := src[fromIndex]
	src = append(src[:fromIndex:fromIndex], src[fromIndex+1:]...)
	renumber(src)

	if from == to {
		grouped[from] = insertAt(src, clampIndex(toIndex, len(src)), moved)
	} else {
		moved.Group = to
		dst := grouped[to]
		grouped[from] = src
		grouped[to] = insertAt(dst, clampIndex(toIndex, len(dst)), moved)
	}
	renumber(grouped[from])
	renumber(grouped[to])

	out := make([]Task, 0, len(tasks))
	for _, g := range Groups() {
		out = append(out, grouped[g]...)
	}
	return out, true
}

func sortByRank(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i > size {
		return size
	}
	return i
}

func insertAt(tasks []Task, i int, t Task) []Task {
	out := make([]Task, 0, len(tasks)+1)
	out = append(out, tasks[:i]...)
	out = append(out, t)
	return append(out, tasks[i:]...)
}

func renumber(tasks []Task) {
	for i := range tasks {
		tasks[i].Order = i
	}
}
