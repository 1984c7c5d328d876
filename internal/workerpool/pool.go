// Package workerpool runs event handlers on bounded goroutine pools with a
// core/max worker split, a bounded queue and caller-runs backpressure.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/knowledge/internal/metrics"
)

var (
	ErrClosed          = errors.New("workerpool: pool is shut down")
	ErrSaturated       = errors.New("workerpool: pool saturated")
	ErrShutdownTimeout = errors.New("workerpool: shutdown timed out, queued tasks discarded")
)

// Policy decides what happens to a task when the queue is full and every
// worker is busy.
type Policy int

const (
	// CallerRuns executes the task on the submitting goroutine, which slows
	// the producer down instead of losing work.
	CallerRuns Policy = iota
	// Reject returns ErrSaturated.
	Reject
)

// Profile sizes a pool.
type Profile struct {
	Name             string
	Core             int
	Max              int
	QueueCapacity    int
	KeepAlive        time.Duration
	AwaitTermination time.Duration
	Policy           Policy
}

func (p Profile) normalize() Profile {
	if p.Core <= 0 {
		p.Core = 1
	}
	if p.Max < p.Core {
		p.Max = p.Core
	}
	if p.QueueCapacity < 0 {
		p.QueueCapacity = 0
	}
	if p.KeepAlive <= 0 {
		p.KeepAlive = time.Minute
	}
	if p.AwaitTermination <= 0 {
		p.AwaitTermination = time.Minute
	}
	return p
}

// Task receives the pool context, which is cancelled when a shutdown is
// forced.
type Task func(ctx context.Context)

type Pool struct {
	profile Profile
	tasks   chan Task
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	workers int
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	forced atomic.Bool
}

// New starts a pool with profile.Core workers.
func New(profile Profile, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	profile = profile.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		profile: profile,
		tasks:   make(chan Task, profile.QueueCapacity),
		logger:  logger.With(zap.String("pool", profile.Name)),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.mu.Lock()
	for i := 0; i < profile.Core; i++ {
		p.spawn(nil, true)
	}
	p.mu.Unlock()
	return p
}

func (p *Pool) Name() string { return p.profile.Name }

// Profile returns the normalized sizing.
func (p *Pool) Profile() Profile { return p.profile }

// Submit queues task, grows the pool up to Max when the queue is full, and
// otherwise applies the saturation policy.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.PoolRejected(p.profile.Name)
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		p.metrics.PoolQueueDepth(p.profile.Name, len(p.tasks))
		p.mu.Unlock()
		return nil
	default:
	}
	if p.workers < p.profile.Max {
		p.spawn(task, false)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.profile.Policy == Reject {
		p.metrics.PoolRejected(p.profile.Name)
		return ErrSaturated
	}
	p.metrics.PoolCallerRuns(p.profile.Name)
	p.logger.Debug("pool saturated, running task on caller")
	p.run(task)
	return nil
}

// Workers reports the live worker count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// QueueDepth reports how many tasks are waiting.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// spawn must be called with p.mu held.
func (p *Pool) spawn(first Task, core bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(first, core)
}

func (p *Pool) worker(first Task, core bool) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	if first != nil {
		p.run(first)
	}

	var idle *time.Timer
	if !core {
		idle = time.NewTimer(p.profile.KeepAlive)
		defer idle.Stop()
	}

	for {
		if core {
			task, ok := <-p.tasks
			if !ok {
				return
			}
			p.run(task)
			continue
		}

		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.profile.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *Pool) run(task Task) {
	if p.forced.Load() {
		return
	}
	p.metrics.PoolQueueDepth(p.profile.Name, len(p.tasks))
	p.metrics.PoolActive(p.profile.Name, 1)
	defer p.metrics.PoolActive(p.profile.Name, -1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task(p.ctx)
}

// Shutdown stops accepting tasks and waits for queued and running tasks
// up to the profile's AwaitTermination (or ctx, whichever ends first). On
// timeout the pool context is cancelled, queued tasks are discarded and
// ErrShutdownTimeout is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.profile.AwaitTermination)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-waitCtx.Done():
		p.forced.Store(true)
		p.cancel()
		discarded := len(p.tasks)
		p.logger.Warn("worker pool shutdown forced", zap.Int("discarded", discarded))
		return fmt.Errorf("%s: %w", p.profile.Name, ErrShutdownTimeout)
	}
}
