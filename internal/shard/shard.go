package shard

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/rs/zerolog"

	"BookEngine/internal/book"
)

// Shard is one independent execution context. All mutating work on a
// shard's instruments runs on its single goroutine in strict submission
// order; foreign contexts may only post closures here, never touch shard
// state directly.
type Shard struct {
	id    int
	tasks chan func()
	done  chan struct{}
	log   zerolog.Logger
}

func newShard(id, queueLen int, log zerolog.Logger) *Shard {
	return &Shard{
		id:    id,
		tasks: make(chan func(), queueLen),
		done:  make(chan struct{}),
		log:   log.With().Int("shard", id).Logger(),
	}
}

// ID returns the shard's stable index.
func (s *Shard) ID() int { return s.id }

// run drains the task queue until ctx is cancelled, then finishes any
// queued work so posted closures are never silently dropped.
func (s *Shard) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-s.tasks:
			fn()
		}
	}
}

// Post submits fn to the shard's queue. Blocks when the queue is full:
// feed backpressure propagates upstream rather than dropping mutations.
func (s *Shard) Post(fn func()) {
	s.tasks <- fn
}

// Call posts fn and waits for its completion, returning its result. The
// wait is a single bounded hop; ctx guards against a stopped shard.
func Call[T any](ctx context.Context, s *Shard, fn func() T) (T, error) {
	out := make(chan T, 1)
	s.Post(func() { out <- fn() })
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-s.done:
		var zero T
		return zero, fmt.Errorf("shard %d stopped", s.id)
	}
}

// Pool is the fixed set of shards instruments are distributed over.
// Assignment is stable per instrument key.
type Pool struct {
	shards []*Shard
	cancel context.CancelFunc
}

// NewPool creates and starts n shards. n must be positive.
func NewPool(n, queueLen int, log zerolog.Logger) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shard pool: invalid shard count %d", n)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{cancel: cancel}
	for i := 0; i < n; i++ {
		s := newShard(i, queueLen, log)
		p.shards = append(p.shards, s)
		go s.run(ctx)
	}
	return p, nil
}

// Size returns the shard count.
func (p *Pool) Size() int { return len(p.shards) }

// Shard returns shard i.
func (p *Pool) Shard(i int) *Shard { return p.shards[i] }

// ForInstrument returns the owning shard for an instrument ID. The hash
// ignores venue/segment so all of an instrument's books, including the
// consolidated one, share a shard by default.
func (p *Pool) ForInstrument(instrID string) *Shard {
	h := fnv.New32a()
	h.Write([]byte(instrID))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

// ForBook returns the owning shard for a book key.
func (p *Pool) ForBook(key book.Key) *Shard {
	return p.ForInstrument(key.ID)
}

// Stop cancels every shard and waits for their queues to drain.
func (p *Pool) Stop() {
	p.cancel()
	for _, s := range p.shards {
		<-s.done
	}
}
