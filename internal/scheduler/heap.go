package scheduler

import "container/heap"

type entry struct {
	task  Task
	index int
}

// taskHeap is a min-heap of armed tasks ordered by FireAt. Each entry keeps
// its slice index so removal by ID does not need a scan.
type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].task.FireAt.Before(h[j].task.FireAt) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// armed pairs the heap with an ID index.
type armed struct {
	h    taskHeap
	byID map[string]*entry
}

func newArmed() *armed {
	return &armed{byID: make(map[string]*entry)}
}

// put arms t, replacing any task with the same ID.
func (a *armed) put(t Task) {
	if e, ok := a.byID[t.ID]; ok {
		e.task = t
		heap.Fix(&a.h, e.index)
		return
	}
	e := &entry{task: t}
	heap.Push(&a.h, e)
	a.byID[t.ID] = e
}

// remove disarms the task with the given ID. Reports whether one existed.
func (a *armed) remove(id string) bool {
	e, ok := a.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&a.h, e.index)
	delete(a.byID, id)
	return true
}

// peek returns the earliest task without removing it.
func (a *armed) peek() (Task, bool) {
	if len(a.h) == 0 {
		return Task{}, false
	}
	return a.h[0].task, true
}

// pop removes and returns the earliest task. Panics if empty.
func (a *armed) pop() Task {
	e := heap.Pop(&a.h).(*entry)
	delete(a.byID, e.task.ID)
	return e.task
}

func (a *armed) len() int { return len(a.h) }

func (a *armed) snapshot() []Task {
	out := make([]Task, 0, len(a.h))
	for _, e := range a.h {
		out = append(out, e.task)
	}
	return out
}
