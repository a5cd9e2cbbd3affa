// Package queue holds pending persistence intents and drains them one
// at a time: priority-ordered, retry-bounded, never more than one
// remote write in flight per queue.
//
// The queue does not know how to persist; it is handed a PersistFunc
// (the reconciliation engine's write path) and concerns itself only
// with ordering, mutual exclusion, retry budgets and status.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/reconcile"
)

// Item is a pending or retrying persistence intent. Attempts only
// grows; the item leaves the queue on success or after MaxAttempts
// failures.
type Item struct {
	Scope    model.Scope
	Kind     model.Kind
	Content  *content.Map
	RecordID string
	Priority model.Priority

	Attempts    int
	LastAttempt time.Time

	// OnAttempt runs just before each persistence attempt, including
	// retries.
	OnAttempt func()

	// OnSuccess and OnError report the item's terminal outcome:
	// persisted, or abandoned after the retry budget.
	OnSuccess func(model.Record)
	OnError   func(error)

	// OnAuthDeferred runs when an attempt was deferred for lack of
	// identity. The item stays queued; the queue parks.
	OnAuthDeferred func()

	seq int64
}

// PersistFunc attempts one remote persistence of the item and returns
// the stored record.
type PersistFunc func(ctx context.Context, item *Item) (model.Record, error)

// Config tunes a Queue. Zero values select the defaults.
type Config struct {
	// RetryDelay separates failed attempts. Default 2s.
	RetryDelay time.Duration

	// MaxAttempts is the total tries per item before abandonment.
	// Default 3.
	MaxAttempts int

	// PersistTimeout bounds a single persistence attempt. Default 10s.
	PersistTimeout time.Duration

	// OnAuthRequired runs when an attempt was deferred for lack of
	// identity. The queue parks (items kept, attempts not charged)
	// until Kick is called, typically from a sign-in resync.
	OnAuthRequired func(*Item)
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	return c
}

// Queue is the single-processor save queue.
type Queue struct {
	persist PersistFunc
	cfg     Config
	log     logger.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	items        []*Item
	inFlight     bool
	retryTimer   *time.Timer
	retryPending bool
	authParked   bool
	status       model.SaveStatus
	closed       bool
	seq          int64
}

// New returns an idle Queue draining through persist.
func New(persist PersistFunc, cfg Config, log logger.Logger) *Queue {
	q := &Queue{
		persist: persist,
		cfg:     cfg.withDefaults(),
		log:     logger.OrNop(log),
		status:  model.StatusSuccess,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends the item and starts processing unless a processor
// is already active or a retry is already scheduled.
func (q *Queue) Enqueue(item *Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	item.seq = q.seq
	q.seq++
	q.items = append(q.items, item)
	q.status = model.StatusPending
	// A fresh intent un-parks the queue: the user may have signed in
	// through a path that produced no event.
	q.authParked = false
	start := !q.inFlight && !q.retryPending
	if start {
		q.inFlight = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

// Kick restarts a parked or idle queue with pending items. Called on
// sign-in so a save deferred for lack of identity is re-attempted
// without user action.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.closed || q.inFlight || q.retryPending || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.authParked = false
	q.inFlight = true
	q.mu.Unlock()
	go q.drain()
}

// Len returns the number of queued items, the in-flight one included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status reports the queue's coarse state. It starts at success
// ("nothing to save") and thereafter trails the most recent outcome.
func (q *Queue) Status() model.SaveStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// AuthParked reports whether the queue is waiting for a sign-in.
func (q *Queue) AuthParked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.authParked
}

// Wait blocks until the queue is idle: no items queued, none in
// flight, no retry scheduled. A parked queue with items is not idle.
func (q *Queue) Wait(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.idleLocked() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.closed {
			return nil
		}
		q.cond.Wait()
	}
	return nil
}

// Close drops pending items and cancels any scheduled retry. Queued
// callbacks for dropped items are not invoked.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.retryPending = false
	q.cond.Broadcast()
}

func (q *Queue) idleLocked() bool {
	return len(q.items) == 0 && !q.inFlight && !q.retryPending
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.inFlight = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		// Stable order: priority first, then enqueue sequence.
		sort.SliceStable(q.items, func(i, j int) bool {
			if q.items[i].Priority != q.items[j].Priority {
				return q.items[i].Priority < q.items[j].Priority
			}
			return q.items[i].seq < q.items[j].seq
		})
		item := q.items[0]
		q.status = model.StatusSaving
		q.mu.Unlock()

		if item.OnAttempt != nil {
			item.OnAttempt()
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.PersistTimeout)
		rec, err := q.persist(ctx, item)
		cancel()

		switch {
		case err == nil:
			// Callback before removal, so Wait returning implies the
			// caller saw the persisted record.
			if item.OnSuccess != nil {
				item.OnSuccess(rec)
			}
			q.finish(item, model.StatusSuccess)

		case errors.Is(err, reconcile.ErrAuthRequired):
			// Not a transient failure: retrying without a sign-in
			// cannot succeed, so park without charging an attempt.
			q.mu.Lock()
			q.authParked = true
			q.inFlight = false
			q.status = model.StatusError
			q.mu.Unlock()
			q.log.Info("queue: parked awaiting sign-in", "scope", item.Scope.String())
			if item.OnAuthDeferred != nil {
				item.OnAuthDeferred()
			}
			if q.cfg.OnAuthRequired != nil {
				q.cfg.OnAuthRequired(item)
			}
			return

		default:
			q.mu.Lock()
			item.Attempts++
			item.LastAttempt = time.Now()
			abandoned := item.Attempts >= q.cfg.MaxAttempts
			q.mu.Unlock()

			if abandoned {
				q.log.Warn("queue: abandoning item after retries",
					"scope", item.Scope.String(), "attempts", item.Attempts, "error", err)
				if item.OnError != nil {
					item.OnError(err)
				}
				q.finish(item, model.StatusError)
				continue
			}

			// Leave the item at the head and stop this pass; a timer
			// resumes draining after the delay. No busy-looping.
			q.log.Debug("queue: attempt failed, retry scheduled",
				"scope", item.Scope.String(), "attempt", item.Attempts, "error", err)
			q.mu.Lock()
			if q.closed {
				q.inFlight = false
				q.cond.Broadcast()
				q.mu.Unlock()
				return
			}
			q.inFlight = false
			q.retryPending = true
			q.retryTimer = time.AfterFunc(q.cfg.RetryDelay, q.resumeAfterRetry)
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) finish(item *Item, status model.SaveStatus) {
	q.mu.Lock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.status = status
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) resumeAfterRetry() {
	q.mu.Lock()
	q.retryPending = false
	q.retryTimer = nil
	if q.closed || q.inFlight || len(q.items) == 0 {
		q.cond.Broadcast()
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	q.mu.Unlock()
	go q.drain()
}
