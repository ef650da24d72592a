package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattd/internal/groutine"
)

// ErrLoopStopped is returned by Do once the loop has stopped.
var ErrLoopStopped = errors.New("dispatch loop stopped")

// Loop is the single dispatch context. Jobs run one at a time, in the order
// they were posted. The mailbox is unbounded so posting never blocks, which
// lets jobs running on the loop post further jobs.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake    chan struct{}
	done    chan struct{}
	started atomic.Bool
	gid     atomic.Uint64

	logger *logrus.Logger
}

// NewLoop creates a loop; it does nothing until Run is called.
func NewLoop(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn. It reports false if the loop has stopped.
// Jobs posted before Run are kept and run once the loop starts.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. Called from the loop
// itself it runs fn inline.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.OnLoop() {
		fn()
		return nil
	}

	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// Run executes jobs until ctx is done or Stop is called. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bus: dispatch loop already started")
	}
	l.gid.Store(groutine.GetGID())
	defer l.gid.Store(0)
	defer l.Stop()

	log := l.logger.WithField("goroutine", groutine.GetName(ctx))
	log.Debug("Dispatch loop started")
	defer log.Debug("Dispatch loop stopped")

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.run(fn)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Stop ends the loop. Pending jobs are dropped; it is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Dispatch job panicked")
		}
	}()
	fn()
}
