package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medihelp/medigate/store"
)

// popularityKey is the shared sorted set holding usage counts per medication
// name. The expiry applies to the whole structure and is refreshed on every
// increment, so the ranking only lapses after a month of total inactivity.
const popularityKey = "medications:popularity"

const popularityExpiry = 30 * 24 * time.Hour

// Ranker tracks medication usage frequency in a shared sorted set.
//
// Record is fire-and-forget by contract: a prescription write in one service
// must never block on, or fail because of, ranking bookkeeping owned by
// another. Increments are handed to a single worker through a bounded queue;
// when the queue is full the increment is dropped.
type Ranker struct {
	store   store.Store
	log     *logrus.Logger
	queue   chan string
	done    chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewRanker creates a Ranker and starts its worker goroutine.
// Call Close to stop it.
func NewRanker(st store.Store, log *logrus.Logger) *Ranker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Ranker{
		store:   st,
		log:     log,
		queue:   make(chan string, 256),
		done:    make(chan struct{}),
		timeout: 3 * time.Second,
	}
	go r.run()
	return r
}

// Record queues a usage increment for the named medication. Never blocks
// and never fails: with the queue full, or after Close, the increment is
// dropped, which the at-most-once contract allows.
func (r *Ranker) Record(name string) {
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- name:
	default:
		r.log.WithField("medication", name).Debug("popularity queue full, dropping increment")
	}
}

// TopN returns up to limit medications ordered by usage score descending.
// Tie order among equal scores is store-defined.
func (r *Ranker) TopN(ctx context.Context, limit int64) ([]store.ScoredMember, error) {
	return r.store.SortedTopN(ctx, popularityKey, limit)
}

// IsPopular reports whether the named medication is currently among the top
// n most-used. A store failure reports not-popular, which only shortens the
// adaptive TTL.
func (r *Ranker) IsPopular(ctx context.Context, name string, n int64) bool {
	top, err := r.store.SortedTopN(ctx, popularityKey, n)
	if err != nil {
		return false
	}
	for _, m := range top {
		if m.Member == name {
			return true
		}
	}
	return false
}

// Close stops the worker after draining queued increments. Safe to call
// more than once; increments recorded after Close are dropped.
func (r *Ranker) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Ranker) run() {
	defer close(r.done)
	for name := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if _, err := r.store.SortedIncr(ctx, popularityKey, name, 1, popularityExpiry); err != nil {
			r.log.WithError(err).WithField("medication", name).Debug("popularity increment failed")
		}
		cancel()
	}
}
