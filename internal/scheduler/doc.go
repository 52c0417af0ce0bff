// Package scheduler arms one-shot notifications keyed by ID.
//
// A single goroutine owns a min-heap of tasks ordered by fire time and a
// timer that sleeps until the earliest one is due. Sleeps are capped at one
// minute so that suspend/resume and wall-clock jumps are noticed quickly.
// Scheduling an ID that is already armed replaces it. A task whose fire time
// is not in the future fires immediately.
package scheduler
