// Package queue provides the waiting area for rate limited requests.
//
// This file implements a three-lane priority queue. Each lane is FIFO; lanes
// are drained in strict priority order (high, then normal, then low). A blocked
// Get re-scans every lane from the top when it wakes, so strict priority also
// holds when several lanes receive items while a consumer is waiting.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Common errors returned by queue operations
var (
	// ErrQueueFull is returned when the queue has reached its maximum capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueEmpty is returned by TryGet when every lane is empty
	ErrQueueEmpty = errors.New("queue is empty")
)

// Priority selects a lane
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// lanes in drain order
var lanes = [...]Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority maps a priority name to a lane. Unknown names fall back to
// normal; the boolean reports whether the name was recognised.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return PriorityNormal, false
	}
}

func laneIndex(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Sizes reports per-lane depth
type Sizes struct {
	High   int `json:"high"`
	Normal int `json:"normal"`
	Low    int `json:"low"`
}

// Total returns the sum of all lanes
func (s Sizes) Total() int {
	return s.High + s.Normal + s.Low
}

// QueueConfig holds the configuration for the priority queue
type QueueConfig struct {
	// MaxSize caps the total number of waiting items; 0 means unbounded
	MaxSize int
}

// PriorityQueue is a three-lane FIFO queue safe for concurrent use
type PriorityQueue[T any] struct {
	lanes    [len(lanes)][]T
	size     int
	maxSize  int
	mu       sync.Mutex
	notEmpty *sync.Cond
}

// NewPriorityQueue creates an empty queue
func NewPriorityQueue[T any](config QueueConfig) *PriorityQueue[T] {
	q := &PriorityQueue[T]{maxSize: config.MaxSize}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put appends item to the lane for priority
func (q *PriorityQueue[T]) Put(item T, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && q.size >= q.maxSize {
		return ErrQueueFull
	}

	idx := laneIndex(priority)
	q.lanes[idx] = append(q.lanes[idx], item)
	q.size++

	// Broadcast rather than Signal: a woken waiter whose context is already
	// done leaves without taking the item.
	q.notEmpty.Broadcast()
	return nil
}

// Get removes and returns the head of the highest non-empty lane, blocking
// until an item arrives or ctx is done.
func (q *PriorityQueue[T]) Get(ctx context.Context) (T, Priority, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if item, p, ok := q.popLocked(); ok {
			return item, p, nil
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, "", err
		}
		q.notEmpty.Wait()
	}
}

// TryGet is the non-blocking form of Get
func (q *PriorityQueue[T]) TryGet() (T, Priority, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, p, ok := q.popLocked(); ok {
		return item, p, nil
	}
	var zero T
	return zero, "", ErrQueueEmpty
}

// popLocked must be called with the mutex held
func (q *PriorityQueue[T]) popLocked() (T, Priority, bool) {
	for i, p := range lanes {
		if len(q.lanes[i]) == 0 {
			continue
		}
		item := q.lanes[i][0]
		var zero T
		q.lanes[i][0] = zero
		q.lanes[i] = q.lanes[i][1:]
		q.size--
		return item, p, true
	}
	var zero T
	return zero, "", false
}

// Sizes returns the current depth of each lane
func (q *PriorityQueue[T]) Sizes() Sizes {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Sizes{
		High:   len(q.lanes[0]),
		Normal: len(q.lanes[1]),
		Low:    len(q.lanes[2]),
	}
}

// Len returns the total number of waiting items
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
