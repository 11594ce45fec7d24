package util

import (
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	if q.Pushed() != 10 {
		t.Errorf("Expected 10 pushed items, got %d", q.Pushed())
	}
}

// TestPushNil verifies that nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestCloseDrains verifies that items pushed before Close are delivered and the channel is closed afterwards
func TestCloseDrains(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		q.Push(&i)
	}
	q.Close()

	if !q.IsClosed() {
		t.Error("Queue should report closed")
	}

	v := 42
	if q.Push(&v) {
		t.Error("Push after Close should return false")
	}

	received := 0
	for range q.Recv() {
		received++
	}
	if received != 5 {
		t.Errorf("Expected 5 items after close, got %d", received)
	}
	q.Wait()
}

// TestCloseEmpty verifies that closing an idle queue releases the consumer
func TestCloseEmpty(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	// give the consumer time to park
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer did not exit after Close")
	}
}

// TestConcurrentProducers verifies every item of many producers arrives exactly once
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const numProducers = 8
	const itemsPerProducer = 1000
	total := numProducers * itemsPerProducer

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := base + i
				q.Push(&v)
			}
		}(p * itemsPerProducer)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	seen := make([]bool, total)
	count := 0
	for val := range q.Recv() {
		if seen[*val] {
			t.Fatalf("Duplicate item received: %d", *val)
		}
		seen[*val] = true
		count++
	}

	if count != total {
		t.Errorf("Expected %d items, got %d", total, count)
	}
}

// TestConsumerFeedsProducer checks the pattern the scheduler relies on: the
// receiver of an item pushes follow-up items into the same queue.
func TestConsumerFeedsProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	depth := 0
	start := 0
	q.Push(&start)
	for val := range q.Recv() {
		depth++
		if *val < 100 {
			next := *val + 1
			q.Push(&next)
		} else {
			q.Close()
		}
	}

	if depth != 101 {
		t.Errorf("Expected 101 items, got %d", depth)
	}
}

// BenchmarkPush measures concurrent push throughput
func BenchmarkPush(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	done := make(chan struct{})
	go func() {
		for range q.Recv() {
		}
		close(done)
	}()

	b.RunParallel(func(pb *testing.PB) {
		v := 1
		for pb.Next() {
			q.Push(&v)
		}
	})

	q.Close()
	<-done
}
