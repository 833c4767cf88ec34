package conversation

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type Handler interface {
	Handle(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Dispatcher runs events of one user strictly in arrival order and events of
// different users in parallel, with at most maxConcurrent handlers running.
type Dispatcher struct {
	h   Handler
	sem *semaphore.Weighted
	log logrus.FieldLogger

	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue []Event
}

func NewDispatcher(h Handler, maxConcurrent int, log logrus.FieldLogger) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		h:     h,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		log:   log,
		lanes: make(map[int64]*lane),
	}
}

// Submit never blocks. Once ctx is done, queued events are dropped; handlers
// already running finish with a context detached from ctx.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) {
	d.mu.Lock()
	if l, busy := d.lanes[ev.UserID]; busy {
		l.queue = append(l.queue, ev)
		d.mu.Unlock()
		return
	}
	l := &lane{}
	d.lanes[ev.UserID] = l
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, ev.UserID, l, ev)
}

func (d *Dispatcher) drain(ctx context.Context, userID int64, l *lane, ev Event) {
	defer d.wg.Done()
	for {
		d.run(ctx, ev)

		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, userID)
			d.mu.Unlock()
			return
		}
		ev = l.queue[0]
		l.queue = l.queue[1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(ctx context.Context, ev Event) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.log.WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Kind.String()}).Warn("event dropped: shutting down")
		return
	}
	defer d.sem.Release(1)
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithField("panic", rec).Errorf("dispatch panicked\n%s", debug.Stack())
		}
	}()
	d.h.Handle(context.WithoutCancel(ctx), ev)
}

// Wait blocks until every submitted event has been handled or dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
