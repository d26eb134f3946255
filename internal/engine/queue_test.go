package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replyplace/internal/ir"
)

func queuedCommand(actor string) Event {
	return Event{Source: ir.SourceLive, Command: ir.Command{Actor: actor}}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, actor := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(queuedCommand(actor)))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.Command.Actor)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_SignalsAvailability(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(queuedCommand("A"))

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected signal after enqueue")
	}
}

func TestEventQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(queuedCommand("A"))
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(queuedCommand("B")))

	// Items enqueued before Close remain available.
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", got.Command.Actor)

	// Signal channel is closed: Wait never blocks again.
	for i := 0; i < 3; i++ {
		select {
		case <-q.Wait():
		case <-time.After(time.Second):
			t.Fatal("closed queue should always signal")
		}
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(queuedCommand("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

func TestEvent_BarrierCarriesResult(t *testing.T) {
	q := newEventQueue()
	done := make(chan error, 1)
	require.True(t, q.Enqueue(queuedCommand("A")))
	require.True(t, q.Enqueue(Event{Done: done}))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.False(t, first.isBarrier())

	barrier, ok := q.TryDequeue()
	require.True(t, ok)
	require.True(t, barrier.isBarrier())

	barrier.Done <- ErrStopped
	assert.ErrorIs(t, <-done, ErrStopped)
}
