package sim

import "container/heap"

// eventEntry wraps an Event with a sequence ID for deterministic FIFO
// tie-breaking when timestamp and priority are equal.
type eventEntry struct {
	event Event
	seqID int64
}

// EventQueue is a min-heap ordered by (Timestamp, Priority, seqID).
// Implements heap.Interface; use Schedule and PopNext rather than heap calls directly.
type EventQueue struct {
	entries []eventEntry
	nextSeq int64
}

func (q *EventQueue) Len() int { return len(q.entries) }

func (q *EventQueue) Less(i, j int) bool {
	ei, ej := q.entries[i], q.entries[j]
	if ei.event.Timestamp() != ej.event.Timestamp() {
		return ei.event.Timestamp() < ej.event.Timestamp()
	}
	if ei.event.Priority() != ej.event.Priority() {
		return ei.event.Priority() < ej.event.Priority()
	}
	return ei.seqID < ej.seqID
}

func (q *EventQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }

func (q *EventQueue) Push(x any) {
	q.entries = append(q.entries, x.(eventEntry))
}

func (q *EventQueue) Pop() any {
	old := q.entries
	n := len(old)
	item := old[n-1]
	q.entries = old[:n-1]
	return item
}

// Schedule adds an event to the queue.
func (q *EventQueue) Schedule(e Event) {
	q.nextSeq++
	heap.Push(q, eventEntry{event: e, seqID: q.nextSeq})
}

// PopNext removes and returns the next event, or nil when empty.
func (q *EventQueue) PopNext() Event {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(eventEntry).event
}

// Peek returns the next event without removing it, or nil when empty.
func (q *EventQueue) Peek() Event {
	if q.Len() == 0 {
		return nil
	}
	return q.entries[0].event
}

// Clear drops every pending event.
func (q *EventQueue) Clear() {
	q.entries = q.entries[:0]
}
