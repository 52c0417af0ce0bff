package scheduler

import "time"

// Task is a one-shot notification armed for a wall-clock instant.
// The ID doubles as the notification tag so re-arming the same ID replaces
// the previous task rather than adding a second one.
type Task struct {
	ID     string
	Title  string
	Body   string
	FireAt time.Time
}

// TaskFromMillis builds a Task from a Unix millisecond timestamp.
func TaskFromMillis(id, title, body string, ms int64) Task {
	return Task{ID: id, Title: title, Body: body, FireAt: time.UnixMilli(ms)}
}

type opKind int

const (
	opSchedule opKind = iota
	opCancel
	opPending
)

// op is a single request handled by the scheduler goroutine. All requests
// share one channel so that calls from a single caller are applied in order.
type op struct {
	kind  opKind
	task  Task
	id    string
	reply chan []Task
}
