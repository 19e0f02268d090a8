// Package queue provides the in-memory priority backlog that feeds the
// dispatcher.
//
// The queue keeps one FIFO sub-queue per priority level and always serves the
// highest non-empty level first. This is strict priority with no aging or
// fairness: under sustained high-priority load, low-priority payloads may
// wait indefinitely. That trade-off is intentional; callers that need
// fairness must shape their own submission priorities.
//
// Payloads whose deadline elapses while queued are never returned to the
// consumer; they are dropped at dequeue time and surfaced through the
// OnExpire callback so the owner can resolve them with a timeout.
package queue
