package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/httpclient_benchmark/pkg/transport"
)

var (
	// ErrPoolStopped completes futures whose tasks were discarded by Stop
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrInterrupted is returned when the run context ends during a phase
	ErrInterrupted = errors.New("benchmark interrupted")
)

const defaultQueueFactor = 100

// Outcome is the result of one request task
type Outcome struct {
	Response *transport.Response
	Err      error
	Latency  time.Duration
}

// Task performs one request. ctx is cancelled when the pool stops.
type Task func(ctx context.Context) Outcome

// Future completes exactly once with the task's outcome
type Future struct {
	done    chan struct{}
	outcome Outcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(o Outcome) {
	f.outcome = o
	close(f.done)
}

// Wait blocks for the outcome or until ctx ends
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

type job struct {
	task   Task
	future *Future
}

// Pool runs tasks on a fixed number of goroutines
type Pool struct {
	size    int
	jobs    chan job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
	stopped atomic.Bool
}

// NewPool creates a pool of exactly size workers. The queue holds
// size*queueFactor pending tasks; Submit blocks while it is full.
func NewPool(size, queueFactor int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueFactor <= 0 {
		queueFactor = defaultQueueFactor
	}
	return &Pool{
		size: size,
		jobs: make(chan job, size*queueFactor),
	}
}

// Start launches the workers. A pool can only be started once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped.Load() {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.size {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			if p.ctx.Err() != nil {
				j.future.complete(Outcome{Err: ErrPoolStopped})
				continue
			}
			j.future.complete(p.run(j.task))
		}
	}
}

func (p *Pool) run(task Task) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = Outcome{Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return task(p.ctx)
}

// Submit queues task and returns its future. It blocks while the queue is
// full and fails once ctx ends or the pool is stopped.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped.Load() {
		return nil, ErrPoolStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	f := newFuture()
	select {
	case p.jobs <- job{task: task, future: f}:
		return f, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	case <-p.ctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return nil, ErrPoolStopped
	}
}

// Stop cancels running tasks, discards queued ones and waits for the
// workers to exit. Discarded futures complete with ErrPoolStopped.
func (p *Pool) Stop() {
	if p.stopped.Swap(true) {
		return
	}

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return
	}

	p.cancel()
	// wait for in-flight Submit calls to leave
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wg.Wait()

	for {
		select {
		case j := <-p.jobs:
			j.future.complete(Outcome{Err: ErrPoolStopped})
		default:
			return
		}
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of queued tasks
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// WaitAll blocks until every future completes and returns the outcomes in
// submission order. If ctx ends first it returns ErrInterrupted.
func WaitAll(ctx context.Context, futures []*Future) ([]Outcome, error) {
	outcomes := make([]Outcome, len(futures))
	for i, f := range futures {
		o, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}
		outcomes[i] = o
	}
	return outcomes, nil
}
