package wp

import (
	"sync"
	"testing"
	"time"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	p := NewPool(3, 10)

	var (
		mu      sync.Mutex
		results []int
	)

	tasks := []struct {
		key  string
		exec func()
	}{
		{"task1", func() { mu.Lock(); results = append(results, 1); mu.Unlock() }},
		{"task2", func() { mu.Lock(); results = append(results, 2); mu.Unlock() }},
		{"task3", func() { mu.Lock(); results = append(results, 3); mu.Unlock() }},
	}

	for _, task := range tasks {
		if err := p.Submit(task.key, task.exec); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Stop()

	if len(results) != 3 {
		t.Errorf("Wrong number of results: %d", len(results))
	}
}

func TestWorkerPool_SameKeyKeepsOrder(t *testing.T) {
	p := NewPool(4, 2)

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		_ = p.Submit("orders", func() { got = append(got, i) })
	}
	p.Stop()

	if len(got) != 50 {
		t.Fatalf("expected 50 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestWorkerPool_GracefullyShutdown(t *testing.T) {
	p := NewPool(3, 5)
	var (
		counter int
		mu      sync.Mutex
	)

	tasks := 10
	for i := 0; i < tasks; i++ {
		_ = p.Submit("task", func() {
			mu.Lock()
			counter++
			mu.Unlock()
		})
	}

	p.Stop()

	if counter != tasks {
		t.Errorf("Wrong number of tasks: %d", counter)
	}
}

func TestWorkerPool_NoPanicOnNilTask(t *testing.T) {
	p := NewPool(2, 2)
	defer p.Stop()

	if err := p.Submit("nil-task", nil); err != nil {
		t.Errorf("expected nil task to be ignored, got %v", err)
	}
}

func TestWorkerPool_NoSubmitAfterStop(t *testing.T) {
	p := NewPool(2, 2)
	p.Stop()
	p.Stop()

	if err := p.Submit("stopped-task", func() {}); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestWorkerPool_PanicHandler(t *testing.T) {
	recovered := make(chan any, 1)
	p := NewPool(1, 1, WithPanicHandler(func(key string, r any) { recovered <- r }))

	_ = p.Submit("bad", func() { panic("boom") })
	ran := make(chan struct{})
	_ = p.Submit("bad", func() { close(ran) })

	select {
	case r := <-recovered:
		if r != "boom" {
			t.Errorf("expected boom, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("panic handler was not called")
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	p.Stop()
}
