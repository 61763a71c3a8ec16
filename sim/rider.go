// Implements the per-stop StopQueue, which holds all riders waiting to board.
// Riders are enqueued on arrival.

package sim

import (
	"fmt"
	"strings"
)

// Rider is a single trip request through the system. A rider belongs to
// exactly one of {stop queue, bus onboard list, abandoned, delivered} at any
// moment.
type Rider struct {
	ID          int64
	Origin      int // origin stop id
	Destination int // destination stop id
	ArrivalTick int64

	// BoardedTick is set when the rider boards a bus; -1 while queued.
	BoardedTick int64
}

// WaitTicks returns the rider's wait at the given tick: time queued until
// boarding, frozen at the boarding tick afterwards.
func (r *Rider) WaitTicks(now int64) int64 {
	if r.BoardedTick >= 0 {
		return r.BoardedTick - r.ArrivalTick
	}
	return now - r.ArrivalTick
}

// StopQueue is the FIFO queue of riders waiting at one stop.
type StopQueue struct {
	queue []*Rider
}

// Enqueue adds a rider to the back of the queue.
func (sq *StopQueue) Enqueue(r *Rider) {
	if r == nil {
		panic("StopQueue.Enqueue: rider must not be nil")
	}
	sq.queue = append(sq.queue, r)
}

// Len returns the number of riders in the queue.
func (sq *StopQueue) Len() int {
	return len(sq.queue)
}

// Peek returns the rider at the front of the queue without removing it.
// Returns nil if the queue is empty.
func (sq *StopQueue) Peek() *Rider {
	if len(sq.queue) == 0 {
		return nil
	}
	return sq.queue[0]
}

// Dequeue removes and returns the rider at the front of the queue.
// Returns nil if the queue is empty.
func (sq *StopQueue) Dequeue() *Rider {
	if len(sq.queue) == 0 {
		return nil
	}
	r := sq.queue[0]
	sq.queue = sq.queue[1:]
	return r
}

// Items returns the queue contents for iteration. The returned slice is the
// queue's internal storage -- callers within the sim package may iterate
// over it but MUST NOT append to or reslice it.
func (sq *StopQueue) Items() []*Rider {
	return sq.queue
}

// RemoveExpired drops every rider whose wait at `now` exceeds maxWait ticks
// and returns them. maxWait <= 0 disables abandonment.
func (sq *StopQueue) RemoveExpired(now, maxWait int64) []*Rider {
	if maxWait <= 0 || len(sq.queue) == 0 {
		return nil
	}
	var expired []*Rider
	keep := sq.queue[:0]
	for _, r := range sq.queue {
		if now-r.ArrivalTick > maxWait {
			expired = append(expired, r)
		} else {
			keep = append(keep, r)
		}
	}
	sq.queue = keep
	return expired
}

func (sq *StopQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, r := range sq.queue {
		sb.WriteString(fmt.Sprintf("r%d", r.ID))
		if i < len(sq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
