// Package devalue streams an arbitrary in-memory value — which may
// transitively contain Futures and Sequences — to a sequence of textual
// chunks, and reconstructs an equivalent value from that chunk sequence on
// the receiving side, resolving the embedded Futures and Sequences as their
// sources do.
//
// The synchronous, non-async value codec is a deliberately minimal stand-in
// (internal/valuecodec) for what the upstream spec treats as an external
// collaborator; the subject of this package is the streaming framing
// protocol layered on top of it.
package devalue

import "context"

// Future is a deferred one-shot computation that yields exactly one value
// or one failure.
type Future interface {
	Await(ctx context.Context) (any, error)
}

// Sequence is an ordered lazy stream producing zero or more items,
// terminated by either a return value or a failure. Close is the
// early-termination hook: it must be invoked on every exit path, including
// when a consumer stops pulling before the sequence reaches its terminal
// item.
type Sequence interface {
	Next(ctx context.Context) (value any, done bool, err error)
	Close() error
}

const (
	futureTag   = "F"
	sequenceTag = "S"
)

// funcFuture adapts a plain function into a Future. The function starts
// running immediately in its own goroutine: Futures are eager, a one-shot
// asynchronous computation that will either yield a value or fail.
type funcFuture struct {
	done chan struct{}
	val  any
	err  error
}

// NewFuture starts fn in a new goroutine and returns a Future that resolves
// once fn returns.
func NewFuture(fn func(ctx context.Context) (any, error)) Future {
	f := &funcFuture{done: make(chan struct{})}
	go func() {
		f.val, f.err = fn(context.Background())
		close(f.done)
	}()
	return f
}

func (f *funcFuture) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// funcSequence adapts a pair of closures into a Sequence.
type funcSequence struct {
	next  func(ctx context.Context) (any, bool, error)
	close func() error
}

// NewSequence builds a Sequence from a next/close closure pair. closeFn may
// be nil when the source has no resources to release.
func NewSequence(next func(ctx context.Context) (any, bool, error), closeFn func() error) Sequence {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &funcSequence{next: next, close: closeFn}
}

func (s *funcSequence) Next(ctx context.Context) (any, bool, error) { return s.next(ctx) }
func (s *funcSequence) Close() error                                { return s.close() }

// chanSequence adapts a Go channel — the idiomatic host-native async
// sequence primitive — into a Sequence. The sequence completes normally
// once ch closes; if errp is non-nil and points at a non-nil error at that
// time, the sequence terminates with that failure instead.
type chanSequence[T any] struct {
	ch   <-chan T
	errp *error
}

// FromChannel adapts ch into a Sequence. Close is a no-op: channel
// producers are expected to observe the consumer's own context
// cancellation to stop sending, since a channel cannot be "closed" from
// the receiving side.
func FromChannel[T any](ch <-chan T, errp *error) Sequence {
	return &chanSequence[T]{ch: ch, errp: errp}
}

func (s *chanSequence[T]) Next(ctx context.Context) (any, bool, error) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			var err error
			if s.errp != nil {
				err = *s.errp
			}
			return nil, true, err
		}
		return v, false, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

func (s *chanSequence[T]) Close() error { return nil }
