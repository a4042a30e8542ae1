// Package timequeue provides an insert-sorted queue of timed entries.
//
// Entries are kept in non-decreasing time order. Entries added with an equal
// time keep their insertion order, so everything due on the same tick comes
// out first-in first-out.
package timequeue

import (
	"sort"
	"time"
)

// Ref identifies an entry for removal. The zero Ref never identifies an entry.
type Ref uint64

// Valid reports whether r refers to an entry that was actually queued.
func (r Ref) Valid() bool {
	return r != 0
}

// Entry is a queued payload together with its due time.
type Entry[T any] struct {
	Ref     Ref
	Time    time.Duration
	Payload T
}

// Queue is an ordered container of timed payloads. It is not safe for
// concurrent use; the owner serializes access.
type Queue[T any] struct {
	entries []Entry[T]
	lastRef Ref
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Add inserts payload at time at and returns its ref.
func (q *Queue[T]) Add(at time.Duration, payload T) Ref {
	q.lastRef++
	ref := q.lastRef

	// First entry strictly later than at; equal times stay ahead of us.
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].Time > at
	})

	q.entries = append(q.entries, Entry[T]{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = Entry[T]{Ref: ref, Time: at, Payload: payload}
	return ref
}

// Next removes and returns the earliest entry if its time is strictly less
// than threshold.
func (q *Queue[T]) Next(threshold time.Duration) (Entry[T], bool) {
	if len(q.entries) == 0 || q.entries[0].Time >= threshold {
		return Entry[T]{}, false
	}
	e := q.entries[0]
	var zero Entry[T]
	q.entries[0] = zero
	q.entries = q.entries[1:]
	return e, true
}

// Peek returns the earliest entry without removing it.
func (q *Queue[T]) Peek() (Entry[T], bool) {
	if len(q.entries) == 0 {
		return Entry[T]{}, false
	}
	return q.entries[0], true
}

// Remove drops the entry with the given ref. Unknown refs, including refs that
// already fired, are ignored.
func (q *Queue[T]) Remove(ref Ref) bool {
	for i := range q.entries {
		if q.entries[i].Ref == ref {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every entry.
func (q *Queue[T]) Clear() {
	q.entries = nil
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	return len(q.entries)
}

// Each calls fn for every entry in due order until fn returns false.
// fn must not modify the queue.
func (q *Queue[T]) Each(fn func(Entry[T]) bool) {
	for _, e := range q.entries {
		if !fn(e) {
			return
		}
	}
}
