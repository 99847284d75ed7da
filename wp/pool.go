// Package wp is a keyed worker pool: tasks sharing a key run on the same
// worker, one after the other, in submission order.
package wp

import (
	"errors"
	"sync"

	"github.com/segmentio/fasthash/fnv1a"
)

var ErrStopped = errors.New("worker pool stopped")

type Pool struct {
	mu      sync.RWMutex
	stopped bool
	queues  []chan func()
	wg      sync.WaitGroup
	onPanic func(key string, recovered any)
}

type Option func(*Pool)

// WithPanicHandler is called when a task panics, the worker keeps running
func WithPanicHandler(fn func(key string, recovered any)) Option {
	return func(p *Pool) {
		p.onPanic = fn
	}
}

func NewPool(maxWorkers int, queueBuffer int, opts ...Option) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueBuffer < 1 {
		queueBuffer = 1
	}

	p := &Pool{queues: make([]chan func(), maxWorkers)}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), queueBuffer)
		p.wg.Add(1)
		go p.work(p.queues[i])
	}
	return p
}

func (p *Pool) work(queue chan func()) {
	defer p.wg.Done()
	for task := range queue {
		task()
	}
}

// Submit queues task on the worker owning key. It blocks while that worker's
// queue is full and fails with ErrStopped once Stop was called.
func (p *Pool) Submit(key string, task func()) error {
	if task == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.queues[p.index(key)] <- p.guard(key, task)
	return nil
}

func (p *Pool) guard(key string, task func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil && p.onPanic != nil {
				p.onPanic(key, r)
			}
		}()
		task()
	}
}

func (p *Pool) index(key string) uint64 {
	return fnv1a.HashString64(key) % uint64(len(p.queues))
}

// Workers returns the number of workers
func (p *Pool) Workers() int {
	return len(p.queues)
}

// Stop rejects new tasks, runs the queued ones and waits for the workers to exit
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
