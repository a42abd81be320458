package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/blitzrec/internal/domain/model"
)

func observation(id string) model.Observation {
	return model.Observation{EventID: id, Realm: "ru", AccountID: 1, TankID: 2, NBattles: 1, NWins: 1}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, observation("obs1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue()
	if got.EventID != "obs1" {
		t.Errorf("expected obs1, got %v", got.EventID)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, observation("obs1")) || !q.Enqueue(ctx, observation("obs2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, observation("obs3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, observation("obs1")) {
		t.Error("expected enqueue to fail with a cancelled context")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var consumed sync.WaitGroup
	counts := make(chan int, producers)
	for range producers {
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			n := 0
			for range q.Dequeue() {
				n++
			}
			counts <- n
		}()
	}

	var produced sync.WaitGroup
	for i := range producers {
		produced.Add(1)
		go func() {
			defer produced.Done()
			for j := range perProducer {
				for !q.Enqueue(ctx, observation(fmt.Sprintf("obs%d_%d", i, j))) {
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	produced.Wait()
	_ = q.Close()
	consumed.Wait()
	close(counts)

	total := 0
	for n := range counts {
		total += n
	}
	if total != producers*perProducer {
		t.Errorf("expected %d consumed, got %d", producers*perProducer, total)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, observation("obs1")) || !q.Enqueue(ctx, observation("obs2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, observation("obs3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// queued observations drain before the channel reports closed
	var drained []string
	for obs := range q.Dequeue() {
		drained = append(drained, obs.EventID)
	}
	if len(drained) != 2 {
		t.Errorf("expected 2 drained observations, got %v", drained)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
