// Package parallel provides a fixed worker pool for fork-join batches
// of independent tasks.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs batches of uniform tasks on a fixed set of
// goroutines. A single shared queue feeds all workers; tasks in this
// repo are row bands of a grid kernel and take near-identical time, so
// no per-worker queues or stealing are needed.
//
// ExecuteAll may be called from any goroutine, but Close must not run
// concurrently with ExecuteAll.
type WorkerPool struct {
	workers int
	tasks   chan task
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

type task struct {
	fn    func()
	batch *sync.WaitGroup
}

func (t task) run() {
	t.fn()
	t.batch.Done()
}

// NewWorkerPool creates a pool with the given number of workers and
// starts them. workers <= 0 means GOMAXPROCS.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan task, workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			p.drain()
			return
		case t := <-p.tasks:
			t.run()
		}
	}
}

// drain executes queued tasks before a worker exits.
func (p *WorkerPool) drain() {
	for {
		select {
		case t := <-p.tasks:
			t.run()
		default:
			return
		}
	}
}

// ExecuteAll runs every task and returns when the last one finishes.
// On a closed pool the tasks run on the calling goroutine instead.
func (p *WorkerPool) ExecuteAll(tasks []func()) {
	if len(tasks) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range tasks {
			fn()
		}
		return
	}

	var batch sync.WaitGroup
	batch.Add(len(tasks))
	for _, fn := range tasks {
		select {
		case p.tasks <- task{fn, &batch}:
		case <-p.done:
			// Pool is closing, run inline.
			fn()
			batch.Done()
		}
	}
	batch.Wait()
}

// Close stops the workers and waits for them to exit. Queued tasks run
// to completion first. Safe to call more than once.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }
