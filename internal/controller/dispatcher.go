package controller

import (
	"context"
	"sync"
)

// Task is one unit of work submitted to a Dispatcher.
type Task func(ctx context.Context)

// Dispatcher runs tasks with one FIFO lane per key. Tasks sharing a key run
// strictly in submission order, one at a time; tasks under different keys
// run concurrently, bounded by the dispatcher's limit. Nothing is coalesced:
// every submission runs.
type Dispatcher struct {
	ctx context.Context
	sem chan struct{}

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue []Task
}

// NewDispatcher creates a dispatcher whose tasks receive ctx. A limit below
// one means a single task at a time.
func NewDispatcher(ctx context.Context, limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		ctx:   ctx,
		sem:   make(chan struct{}, limit),
		lanes: make(map[string]*lane),
	}
}

// Submit queues task on the lane for key.
func (d *Dispatcher) Submit(key string, task Task) {
	d.wg.Add(1)

	d.mu.Lock()
	if l, ok := d.lanes[key]; ok {
		l.queue = append(l.queue, task)
		d.mu.Unlock()
		return
	}
	l := &lane{queue: []Task{task}}
	d.lanes[key] = l
	d.mu.Unlock()

	go d.drain(key, l)
}

// Wait blocks until every submitted task has run.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Pending returns the number of keys with queued or running tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

func (d *Dispatcher) drain(key string, l *lane) {
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue = l.queue[1:]
		d.mu.Unlock()

		d.sem <- struct{}{}
		task(d.ctx)
		<-d.sem
		d.wg.Done()
	}
}
