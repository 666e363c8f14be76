package workers

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	p, err := NewPool(1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		err := p.Submit(func(arg any) {
			mu.Lock()
			got = append(got, arg.(int))
			mu.Unlock()
		}, i)
		if err != nil {
			t.Fatal(err)
		}
	}
	p.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order: got %d", i, v)
		}
	}
}

func TestHeapPriority(t *testing.T) {
	// Single worker, blocked on a gate while the rest of the queue
	// fills, so the remaining tasks must come out in priority order.
	p, err := NewPool(1, 0, func(a, b any) int { return a.(int) - b.(int) })
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	if err := p.Submit(func(any) { <-gate }, -1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Running() == 1 })

	var mu sync.Mutex
	var got []int
	record := func(arg any) {
		mu.Lock()
		got = append(got, arg.(int))
		mu.Unlock()
	}
	for _, v := range []int{3, 1, 4, 1, 5, 9, 2, 6} {
		if err := p.Submit(record, v); err != nil {
			t.Fatal(err)
		}
	}
	close(gate)
	p.Close()

	want := []int{9, 6, 5, 4, 3, 2, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("ran %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order %v, want %v", got, want)
		}
	}
}

func TestBoundedSubmitBlocks(t *testing.T) {
	p, err := NewPool(1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	gate := make(chan struct{})
	if err := p.Submit(func(any) { <-gate }, nil); err != nil {
		t.Fatal(err)
	}
	// Wait for the worker to take the gate task, then fill the queue.
	waitFor(t, func() bool { return p.Running() == 1 })
	if err := p.Submit(func(any) {}, nil); err != nil {
		t.Fatal(err)
	}

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(func(any) {}, nil)
	}()

	select {
	case err := <-submitted:
		t.Fatalf("submit to a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-submitted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit did not unblock after the queue drained")
	}
}

func TestTrySubmitQueueFull(t *testing.T) {
	p, err := NewPool(1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	if err := p.Submit(func(any) { <-gate }, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Running() == 1 })
	if err := p.TrySubmit(func(any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if err := p.TrySubmit(func(any) {}, nil); err != ErrQueueFull {
		t.Fatalf("TrySubmit on full queue = %v, want ErrQueueFull", err)
	}

	close(gate)
	p.Close()
}

func TestUnboundedGrowth(t *testing.T) {
	p, err := NewPool(2, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	var mu sync.Mutex
	ran := 0
	count := func(any) {
		<-gate
		mu.Lock()
		ran++
		mu.Unlock()
	}

	// Far more tasks than the initial queue capacity, all submitted
	// while both workers are blocked.
	const n = 5000
	for i := 0; i < n; i++ {
		if err := p.Submit(count, nil); err != nil {
			t.Fatal(err)
		}
	}
	close(gate)
	p.Close()

	if ran != n {
		t.Fatalf("ran %d tasks, want %d", ran, n)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p, err := NewPool(2, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	if err := p.Submit(func(any) {}, nil); err != ErrStopped {
		t.Fatalf("Submit after Close = %v, want ErrStopped", err)
	}
	if err := p.TrySubmit(func(any) {}, nil); err != ErrStopped {
		t.Fatalf("TrySubmit after Close = %v, want ErrStopped", err)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	p, err := NewPool(1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	var mu sync.Mutex
	ran := 0
	if err := p.Submit(func(any) { <-gate }, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := p.Submit(func(any) {
			mu.Lock()
			ran++
			mu.Unlock()
		}, nil); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	close(gate)
	<-done

	if ran != 10 {
		t.Fatalf("Close drained %d queued tasks, want 10", ran)
	}
	if p.Running() != 0 || p.Queued() != 0 {
		t.Fatalf("after Close: running=%d queued=%d, want 0/0", p.Running(), p.Queued())
	}
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(0, 0, nil); err == nil {
		t.Fatal("NewPool accepted zero threads")
	}
	if _, err := NewPool(1, -1, nil); err == nil {
		t.Fatal("NewPool accepted negative queue bound")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}
