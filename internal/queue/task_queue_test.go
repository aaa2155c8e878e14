package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/queue"
)

func item(userID string, attempt int) queue.Item {
	return queue.Item{
		Task:    domain.DeliveryTask{UserID: userID, LatestHash: "0123456789abcdef0123"},
		Attempt: attempt,
	}
}

func TestTaskQueue_BasicEnqueueDequeue(t *testing.T) {
	q := queue.New(10)
	ctx := context.Background()

	if err := q.Enqueue(item("u1", 0)); err != nil {
		t.Fatal(err)
	}

	got, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("expected item, got nothing")
	}
	if got.Task.UserID != "u1" {
		t.Fatalf("expected u1, got %s", got.Task.UserID)
	}
}

func TestTaskQueue_FIFOWithinTier(t *testing.T) {
	q := queue.New(10)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_ = q.Enqueue(item(id, 0))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, _ := q.Dequeue(ctx)
		if got.Task.UserID != want {
			t.Fatalf("expected %s, got %s", want, got.Task.UserID)
		}
	}
}

// A fresh task enqueued after a retry is still served first.
func TestTaskQueue_FreshBeforeRetry(t *testing.T) {
	q := queue.New(10)
	ctx := context.Background()

	_ = q.Enqueue(item("retry", 1))
	_ = q.Enqueue(item("fresh", 0))

	first, _ := q.Dequeue(ctx)
	if first.Task.UserID != "fresh" {
		t.Fatalf("expected fresh to be dequeued first, got %q", first.Task.UserID)
	}
	second, _ := q.Dequeue(ctx)
	if second.Task.UserID != "retry" || !second.IsRetry() {
		t.Fatalf("expected the retry second, got %+v", second)
	}
}

func TestTaskQueue_ContextCancellation(t *testing.T) {
	q := queue.New(10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}

func TestTaskQueue_ErrQueueFull(t *testing.T) {
	q := queue.New(2)

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(item("u", 0)); err != nil {
			t.Fatalf("unexpected error on enqueue %d: %v", i, err)
		}
	}
	if err := q.Enqueue(item("u", 0)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// The retry tier has its own capacity.
	if err := q.Enqueue(item("u", 1)); err != nil {
		t.Fatalf("retry tier should accept: %v", err)
	}
	if err := q.Enqueue(item("u", 1)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull on retry tier, got %v", err)
	}
}

// TestTaskQueue_ConcurrentEnqueueDequeue verifies there are no races
// when multiple goroutines enqueue and dequeue simultaneously.
func TestTaskQueue_ConcurrentEnqueueDequeue(t *testing.T) {
	const producers = 5
	const itemsPerProducer = 100
	const total = producers * itemsPerProducer

	q := queue.New(total)
	received := make(chan struct{}, total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		for {
			_, ok := q.Dequeue(ctx)
			if !ok {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itemsPerProducer; j++ {
				_ = q.Enqueue(item("u", 0))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d items", i, total)
		}
	}
	cancel()
	consumerDone.Wait()
}

func TestTaskQueue_Depths(t *testing.T) {
	q := queue.New(10)

	_ = q.Enqueue(item("f1", 0))
	_ = q.Enqueue(item("f2", 0))
	_ = q.Enqueue(item("r", 2))

	fresh, retry := q.Depths()
	if fresh != 2 || retry != 1 {
		t.Fatalf("unexpected depths: fresh=%d retry=%d", fresh, retry)
	}
}
