package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
)

func TestStrictPriorityOrder(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[string](queue.QueueConfig{})
	require.NoError(t, q.Put("low-1", queue.PriorityLow))
	require.NoError(t, q.Put("normal-1", queue.PriorityNormal))
	require.NoError(t, q.Put("high-1", queue.PriorityHigh))
	require.NoError(t, q.Put("normal-2", queue.PriorityNormal))
	require.NoError(t, q.Put("high-2", queue.PriorityHigh))

	want := []struct {
		item string
		prio queue.Priority
	}{
		{"high-1", queue.PriorityHigh},
		{"high-2", queue.PriorityHigh},
		{"normal-1", queue.PriorityNormal},
		{"normal-2", queue.PriorityNormal},
		{"low-1", queue.PriorityLow},
	}

	ctx := context.Background()
	for _, w := range want {
		item, prio, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, w.item, item)
		assert.Equal(t, w.prio, prio)
	}
	assert.Zero(t, q.Len())
}

func TestGetBlocksUntilPut(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[int](queue.QueueConfig{})
	got := make(chan int, 1)

	go func() {
		item, _, err := q.Get(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("Get returned before any Put")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Put(7, queue.PriorityLow))

	select {
	case item := <-got:
		assert.Equal(t, 7, item)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Put")
	}
}

func TestGetHonoursContext(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[int](queue.QueueConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := q.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWakeupPrefersHigherLane(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[string](queue.QueueConfig{})

	// Lock out the consumer until all three lanes are filled so the wakeup
	// sees every item at once.
	var ready sync.WaitGroup
	ready.Add(1)
	result := make(chan string, 1)
	go func() {
		ready.Wait()
		item, _, _ := q.Get(context.Background())
		result <- item
	}()

	require.NoError(t, q.Put("low", queue.PriorityLow))
	require.NoError(t, q.Put("normal", queue.PriorityNormal))
	require.NoError(t, q.Put("high", queue.PriorityHigh))
	ready.Done()

	assert.Equal(t, "high", <-result)
}

func TestMaxSize(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[int](queue.QueueConfig{MaxSize: 2})
	require.NoError(t, q.Put(1, queue.PriorityNormal))
	require.NoError(t, q.Put(2, queue.PriorityHigh))
	require.ErrorIs(t, q.Put(3, queue.PriorityLow), queue.ErrQueueFull)

	assert.Equal(t, queue.Sizes{High: 1, Normal: 1}, q.Sizes())
	assert.Equal(t, 2, q.Sizes().Total())
}

func TestTryGet(t *testing.T) {
	t.Parallel()

	q := queue.NewPriorityQueue[int](queue.QueueConfig{})
	_, _, err := q.TryGet()
	require.ErrorIs(t, err, queue.ErrQueueEmpty)

	require.NoError(t, q.Put(5, queue.PriorityNormal))
	item, prio, err := q.TryGet()
	require.NoError(t, err)
	assert.Equal(t, 5, item)
	assert.Equal(t, queue.PriorityNormal, prio)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  queue.Priority
		known bool
	}{
		{"high", queue.PriorityHigh, true},
		{"NORMAL", queue.PriorityNormal, true},
		{" low ", queue.PriorityLow, true},
		{"urgent", queue.PriorityNormal, false},
		{"", queue.PriorityNormal, false},
	}
	for _, tt := range tests {
		got, known := queue.ParsePriority(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.known, known, tt.in)
	}
}
