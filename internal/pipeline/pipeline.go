// Package pipeline turns synchronous-looking requests into tasks executed by
// a fixed pool of workers draining a bounded FIFO queue.
//
// Protocol
//
//   - Submit wraps a request in a task with a single-use, buffered result
//     slot and enqueues it. It blocks only while the queue is full.
//   - A worker dequeues the task, runs the Handler and fulfills the slot
//     exactly once, with the handler's result or its error.
//   - The caller waits on the returned Ticket with its own deadline, or
//     drops the Ticket (fire-and-forget); workers never block on delivery.
//   - A handler panic is recovered into an error wrapping ErrPanic. The
//     worker keeps serving the queue.
//   - Close stops intake, lets workers drain what is queued, and fails
//     whatever is left with ErrClosed. No slot is left pending.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IJSK10/fastkv/internal/util"
)

var (
	// ErrClosed is returned by Submit after Close, and delivered to tasks
	// that could not be executed before shutdown.
	ErrClosed = errors.New("pipeline: closed")
	// ErrPanic wraps a panic recovered from a Handler.
	ErrPanic = errors.New("pipeline: handler panicked")
)

// DefaultQueueSize is the per-worker queue allowance used when
// Options.QueueSize is not set.
const DefaultQueueSize = 256

// Handler executes one request.
type Handler[Req, Res any] func(Req) (Res, error)

// Options configures a Pipeline. Zero values are safe:
//   - Workers <= 0   => util.WorkerCount() (GOMAXPROCS, minimum 2)
//   - QueueSize <= 0 => DefaultQueueSize * Workers
//   - nil Logger     => no-op
type Options struct {
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

type outcome[Res any] struct {
	val Res
	err error
}

type task[Req, Res any] struct {
	req  Req
	slot chan outcome[Res] // capacity 1, written exactly once
}

func (t *task[Req, Res]) fulfill(v Res, err error) {
	t.slot <- outcome[Res]{val: v, err: err}
}

// Ticket is the caller's handle on one submitted task.
type Ticket[Res any] struct {
	slot  chan outcome[Res]
	ready chan struct{}
	once  sync.Once
	got   outcome[Res]
}

func newTicket[Res any](slot chan outcome[Res]) *Ticket[Res] {
	return &Ticket[Res]{slot: slot, ready: make(chan struct{})}
}

// Wait blocks until the task completes or ctx is done. On ctx expiry it
// returns ctx.Err(); the task may still run later. Wait may be called again
// after a timeout, and repeatedly or concurrently after completion.
func (t *Ticket[Res]) Wait(ctx context.Context) (Res, error) {
	select {
	case <-t.ready:
	case o := <-t.slot:
		t.once.Do(func() {
			t.got = o
			close(t.ready)
		})
	case <-ctx.Done():
		var zero Res
		return zero, ctx.Err()
	}
	return t.got.val, t.got.err
}

// Pipeline is a bounded task queue served by a fixed worker pool.
type Pipeline[Req, Res any] struct {
	handler Handler[Req, Res]
	queue   chan *task[Req, Res]
	quit    chan struct{}
	workers int

	// mu orders Submit against Close: senders hold it shared, Close takes
	// it exclusively to flip closed, so no send races the final drain.
	mu     sync.RWMutex
	closed bool

	g    errgroup.Group
	once sync.Once
	log  *zap.Logger

	_        util.CacheLinePad
	executed util.PaddedAtomicUint64
	failed   util.PaddedAtomicUint64
	inflight atomic.Int64
}

// New starts the worker pool.
func New[Req, Res any](h Handler[Req, Res], opt Options) *Pipeline[Req, Res] {
	if opt.Workers <= 0 {
		opt.Workers = util.WorkerCount()
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize * opt.Workers
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	p := &Pipeline[Req, Res]{
		handler: h,
		queue:   make(chan *task[Req, Res], opt.QueueSize),
		quit:    make(chan struct{}),
		workers: opt.Workers,
		log:     opt.Logger,
	}
	for i := 0; i < opt.Workers; i++ {
		p.g.Go(func() error {
			p.work()
			return nil
		})
	}
	return p
}

// Submit enqueues req. It blocks while the queue is full until ctx is done
// (returning ctx.Err()) and fails fast with ErrClosed after Close.
func (p *Pipeline[Req, Res]) Submit(ctx context.Context, req Req) (*Ticket[Res], error) {
	t := &task[Req, Res]{req: req, slot: make(chan outcome[Res], 1)}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	select {
	case p.queue <- t:
		return newTicket(t.slot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits req and waits for its result under the same ctx.
func (p *Pipeline[Req, Res]) Do(ctx context.Context, req Req) (Res, error) {
	tk, err := p.Submit(ctx, req)
	if err != nil {
		var zero Res
		return zero, err
	}
	return tk.Wait(ctx)
}

// Workers returns the pool size.
func (p *Pipeline[Req, Res]) Workers() int { return p.workers }

// Pending returns the number of queued, not yet started tasks.
func (p *Pipeline[Req, Res]) Pending() int { return len(p.queue) }

// Running returns the number of tasks currently inside a Handler.
func (p *Pipeline[Req, Res]) Running() int { return int(p.inflight.Load()) }

// Stats returns executed and failed task counts.
func (p *Pipeline[Req, Res]) Stats() (executed, failed uint64) {
	return p.executed.Load(), p.failed.Load()
}

// Close stops intake, waits for workers to drain the queue (or for ctx),
// then fails any task still queued with ErrClosed. Safe to call repeatedly.
func (p *Pipeline[Req, Res]) Close(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.quit)

		done := make(chan struct{})
		go func() {
			_ = p.g.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Wrap(ctx.Err(), "pipeline: drain interrupted")
		}

		// Nothing can be enqueued any more; fail what the workers left.
		dropped := 0
	drain:
		for {
			select {
			case t := <-p.queue:
				t.fulfill(*new(Res), ErrClosed)
				dropped++
			default:
				break drain
			}
		}
		if dropped > 0 {
			p.log.Warn("pipeline closed with queued tasks", zap.Int("failed", dropped))
		}
	})
	return err
}

// work serves the queue until quit, then drains it best-effort.
func (p *Pipeline[Req, Res]) work() {
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		case <-p.quit:
			for {
				select {
				case t := <-p.queue:
					p.run(t)
				default:
					return
				}
			}
		}
	}
}

// run executes one task and fulfills its slot exactly once.
func (p *Pipeline[Req, Res]) run(t *task[Req, Res]) {
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	v, err := p.invoke(t.req)
	p.executed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	t.fulfill(v, err)
}

func (p *Pipeline[Req, Res]) invoke(req Req) (v Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithMessage(ErrPanic, fmt.Sprint(r))
			p.log.Error("task handler panicked", zap.Any("panic", r))
		}
	}()
	return p.handler(req)
}
