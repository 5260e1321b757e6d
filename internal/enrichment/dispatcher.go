package enrichment

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/store"
)

// ErrDispatcherClosed is returned by Submit after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Handler processes one event. *Processor satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev Event) store.Outcome
}

// Dispatcher runs events in the background with bounded concurrency. Events
// for the same activity are serialised so a duplicate delivery always sees
// the outcome of the first one.
type Dispatcher struct {
	handler Handler
	sem     *semaphore.Weighted
	locks   *keyedMutex

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(handler Handler, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(workers)),
		locks:   newKeyedMutex(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules ev and returns immediately.
func (d *Dispatcher) Submit(ev Event) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		unlock := d.locks.Lock(ev.ActivityID)
		defer unlock()

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			logging.Warn().Str("activity_id", ev.ActivityID).Err(err).Msg("event dropped during shutdown")
			return
		}
		defer d.sem.Release(1)

		d.handler.Handle(d.ctx, ev)
	}()
	return nil
}

// Shutdown stops accepting events and waits for in-flight ones. If ctx
// expires first, queued events that have not started are dropped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
