// Package worker provides the bounded pool executing immediate-mode task
// submissions, decoupled from the periodic scheduler so one-off bursts and
// recurring jobs cannot starve each other.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperdash/paperdash/errors"
)

const (
	// DefaultSlots is the number of concurrent execution slots
	DefaultSlots = 3
	// DefaultQueueSize bounds the FIFO backlog beyond the slots
	DefaultQueueSize = 32
	// DefaultStopTimeout bounds how long Stop waits for in-flight bodies
	DefaultStopTimeout = 30 * time.Second
)

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Slots       int           `json:"slots"`        // Concurrent execution slots
	QueueSize   int           `json:"queue_size"`   // FIFO backlog bound
	StopTimeout time.Duration `json:"stop_timeout"` // Grace period on shutdown
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Slots:       DefaultSlots,
		QueueSize:   DefaultQueueSize,
		StopTimeout: DefaultStopTimeout,
	}
}

// Body is the unit of work a submission carries. Bodies must observe ctx
// at bounded intervals; cancellation is cooperative, there is no forced
// termination of in-flight work.
type Body func(ctx context.Context)

// Handle identifies one submission and carries its cancellation.
type Handle struct {
	TaskID string
	ctx    context.Context
	cancel context.CancelFunc
	run    Body
}

// Cancel requests cooperative cancellation of this submission.
func (h *Handle) Cancel() {
	h.cancel()
}

// Pool executes immediate submissions on a fixed number of slots with a
// bounded FIFO queue in front of them.
type Pool struct {
	cfg     PoolConfig
	queue   chan *Handle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
	mu      sync.Mutex
	stopped bool
	active  int // Slots currently executing bodies
}

// NewPool creates a worker pool derived from the parent context. Callers
// must call Start() before submitting.
func NewPool(ctx context.Context, cfg PoolConfig, logger *zap.SugaredLogger) *Pool {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		cfg:    cfg,
		queue:  make(chan *Handle, cfg.QueueSize),
		ctx:    poolCtx,
		cancel: cancel,
		logger: logger.Named("worker"),
	}
}

// Start spawns the slot goroutines
func (p *Pool) Start() {
	if warning := p.checkMemoryPressure(); warning != "" {
		p.logger.Warnw("Memory pressure warning", "warning", warning, "slots", p.cfg.Slots)
	}

	for i := 0; i < p.cfg.Slots; i++ {
		p.wg.Add(1)
		go p.slot(i)
	}
	p.logger.Infow("Worker pool started", "slots", p.cfg.Slots, "queue_size", p.cfg.QueueSize)
}

// Submit enqueues a body for execution without blocking the caller.
// Returns ErrPoolSaturated when the backlog bound is reached.
func (p *Pool) Submit(taskID string, body Body) (*Handle, error) {
	// Held across the enqueue so Stop cannot close the queue between the
	// stopped check and the send.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, errors.Wrap(errors.ErrPoolSaturated, "worker pool is shut down")
	}

	bodyCtx, cancel := context.WithCancel(p.ctx)
	h := &Handle{
		TaskID: taskID,
		ctx:    bodyCtx,
		cancel: cancel,
		run:    body,
	}

	select {
	case p.queue <- h:
		return h, nil
	default:
		cancel()
		err := errors.Wrapf(errors.ErrPoolSaturated, "queue full (%d pending)", p.cfg.QueueSize)
		return nil, errors.WithHint(err, "retry after an in-flight task completes")
	}
}

// Cancel requests cooperative cancellation of a submission. Queued bodies
// observe the cancelled context when they reach a slot; in-flight bodies
// are expected to poll it.
func (p *Pool) Cancel(h *Handle) {
	if h != nil {
		h.cancel()
	}
}

// Stop shuts the pool down. Graceful mode lets queued and in-flight
// bodies finish, bounded by the configured grace period. Non-graceful
// mode cancels everything: queued bodies still run, but with an already
// cancelled context, so they can record their terminal state and return
// immediately.
func (p *Pool) Stop(graceful bool) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if !graceful {
		p.cancel()
	}
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("Worker pool stopped", "graceful", graceful)
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warnw("Worker pool stop timeout - abandoning stragglers",
			"timeout", p.cfg.StopTimeout,
			"graceful", graceful)
		p.cancel()
	}
}

// slot processes submissions from the queue until it is closed
func (p *Pool) slot(id int) {
	defer p.wg.Done()

	for h := range p.queue {
		p.runBody(id, h)
	}
}

// runBody executes one submission. A panic inside a body is recovered and
// logged so a slot never dies; converting it into a terminal task state
// is the body's own responsibility.
func (p *Pool) runBody(id int, h *Handle) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()

		if r := recover(); r != nil {
			p.logger.Errorw("Panic in worker body",
				"slot", id,
				"task_id", h.TaskID,
				"panic", r)
		}
		h.cancel()
	}()

	h.run(h.ctx)
}

// Slots returns the configured number of concurrent slots
func (p *Pool) Slots() int {
	return p.cfg.Slots
}
