package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func task(id string) Task {
	return Task{ID: id, Ctx: context.Background(), Run: func(context.Context) {}}
}

func TestInMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithName("test"))
	ctx := context.Background()

	if !q.Enqueue(ctx, task("a")) || !q.Enqueue(ctx, task("b")) {
		t.Fatal("expected enqueue to succeed below capacity")
	}
	if q.Enqueue(ctx, task("c")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "a" {
		t.Errorf("expected FIFO order, got %s", got.ID)
	}
	if q.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Capacity())
	}
}

func TestInMemoryQueue_EnqueueWaitBlocksUntilRoom(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()
	if err := q.EnqueueWait(ctx, task("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accepted := make(chan error, 1)
	go func() { accepted <- q.EnqueueWait(ctx, task("second")) }()

	select {
	case <-accepted:
		t.Fatal("expected EnqueueWait to block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	<-q.Dequeue(ctx)
	select {
	case err := <-accepted:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("EnqueueWait did not resume after room was made")
	}
}

func TestInMemoryQueue_EnqueueWaitHonoursContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	_ = q.EnqueueWait(context.Background(), task("fill"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.EnqueueWait(ctx, task("late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestInMemoryQueue_CloseReleasesBlockedProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	_ = q.EnqueueWait(context.Background(), task("fill"))

	blocked := make(chan error, 1)
	go func() { blocked <- q.EnqueueWait(context.Background(), task("stuck")) }()
	time.Sleep(10 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released")
	}

	if q.Enqueue(context.Background(), task("after")) {
		t.Error("expected enqueue to fail after closing")
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}

	// the buffered task drains, then the channel reports closed
	ch := q.Dequeue(context.Background())
	if _, ok := <-ch; !ok {
		t.Error("expected buffered task before close")
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(8))
	ctx := context.Background()
	const producers, perProducer = 4, 50

	var consumed sync.WaitGroup
	consumed.Add(producers * perProducer)
	go func() {
		for range q.Dequeue(ctx) {
			consumed.Done()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.EnqueueWait(ctx, task(fmt.Sprintf("%d-%d", id, j))); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	consumed.Wait()
	_ = q.Close()
}
