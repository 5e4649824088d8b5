// Package queue holds the ordered list of URLs a run dispatches.
//
// A Queue is owned by exactly one consumer. Take removes URLs from the front,
// so every URL leaves the queue once and in order.
package queue

// Queue is an ordered URL sequence consumed destructively through a cursor.
// It is not safe for concurrent use.
type Queue struct {
	urls   []string
	cursor int
}

// New takes ownership of urls. Callers must not modify the slice afterwards.
func New(urls []string) *Queue {
	return &Queue{urls: urls}
}

// Len returns the number of URLs not yet taken.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.urls) - q.cursor
}

// Empty reports whether every URL has been taken.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Consumed returns how many URLs have been taken so far.
func (q *Queue) Consumed() int {
	if q == nil {
		return 0
	}
	return q.cursor
}

// Take removes up to n URLs from the front of the queue and returns them in
// order. The returned slice does not alias the queue.
func (q *Queue) Take(n int) []string {
	if n <= 0 || q.Empty() {
		return nil
	}
	if remaining := q.Len(); n > remaining {
		n = remaining
	}
	batch := make([]string, n)
	copy(batch, q.urls[q.cursor:q.cursor+n])
	// Drop references so consumed strings can be collected.
	clear(q.urls[q.cursor : q.cursor+n])
	q.cursor += n
	return batch
}
