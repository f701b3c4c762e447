package devalue

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/katt/devalue-go/internal/framing"
	"github.com/katt/devalue-go/internal/valuecodec"
)

// EncodeStream flattens value into a lazily-produced sequence of textual
// chunks. The first chunk is always the root value, with every embedded
// Future and Sequence replaced by a numeric producer id; every subsequent
// chunk is one producer frame in the delimited form "<id>:<status>:<payload>".
//
// Each registered producer runs on its own goroutine, pushing completed
// frames onto one shared, unbuffered channel: a single fair multiplexer
// built from the goroutine-per-subscriber fan-in pattern common to this
// codebase's event streams, paired with an atomic-id/mutex-map registry for
// tracking in-flight producers. The unbuffered channel gives the natural
// backpressure a streaming codec needs: a producer blocks on its send until
// the consumer of the returned iterator has taken the previous chunk.
//
// If the caller stops pulling the iterator before every producer has
// reached a terminal frame, EncodeStream abandons the remaining producers:
// it cancels each one's context and, for Sequences, invokes Close, then
// waits for all of them to unwind before returning.
func EncodeStream(ctx context.Context, value any, opts ...EncodeOption) iter.Seq2[string, error] {
	cfg := resolveEncodeOptions(opts)

	return func(yield func(string, error) bool) {
		var counter atomic.Uint64
		var outstanding atomic.Int64
		frames := make(chan string)
		registry := newActiveRegistry()

		reducers := make(map[string]valuecodec.Reducer, len(cfg.reducers)+2)
		for tag, r := range cfg.reducers {
			reducers[tag] = r
		}
		reducers[futureTag] = func(v any) (any, bool) {
			fut, ok := v.(Future)
			if !ok {
				return nil, false
			}
			id := counter.Add(1)
			outstanding.Add(1)
			runFutureProducer(ctx, id, fut, frames, &outstanding, registry, cfg, reducers)
			return float64(id), true
		}
		reducers[sequenceTag] = func(v any) (any, bool) {
			seq, ok := v.(Sequence)
			if !ok {
				return nil, false
			}
			id := counter.Add(1)
			outstanding.Add(1)
			runSequenceProducer(ctx, id, seq, frames, &outstanding, registry, cfg, reducers)
			return float64(id), true
		}

		rootText, err := valuecodec.Stringify(value, reducers)
		if err != nil {
			yield("", fmt.Errorf("devalue: encode root: %w", err))
			return
		}
		if cfg.onFrame != nil {
			cfg.onFrame(0, framing.FutureOK)
		}
		if !yield(rootText, nil) {
			registry.abandonAll()
			return
		}
		if outstanding.Load() == 0 {
			return
		}

		for {
			select {
			case chunk, ok := <-frames:
				if !ok {
					return
				}
				if !yield(chunk, nil) {
					registry.abandonAll()
					return
				}
			case <-ctx.Done():
				yield("", ctx.Err())
				registry.abandonAll()
				return
			}
		}
	}
}

// safeCause turns a producer failure into encodable payload text. It tries
// the normal reducer set first — letting a caller-registered ErrorReducer
// (or any custom error reducer) handle it — then cfg.coerceError, then
// finally falls back to the error's message string, which the plain codec
// can always encode. This guarantees a producer's failure never blocks or
// aborts the rest of the stream.
func safeCause(err error, cfg encodeOptions, reducers map[string]valuecodec.Reducer) string {
	if encoded, encErr := valuecodec.Stringify(err, reducers); encErr == nil {
		return encoded
	}
	if cfg.coerceError != nil {
		if encoded, encErr := valuecodec.Stringify(cfg.coerceError(err), reducers); encErr == nil {
			return encoded
		}
	}
	fallback, _ := valuecodec.Stringify(err.Error(), reducers)
	return fallback
}

func sendFrame(ctx context.Context, frames chan<- string, id uint64, status int, payload string, cfg encodeOptions) bool {
	chunk := framing.Encode(framing.Frame{ID: id, Status: status, Payload: payload})
	select {
	case frames <- chunk:
		if cfg.onFrame != nil {
			cfg.onFrame(id, status)
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func runFutureProducer(
	parentCtx context.Context,
	id uint64,
	fut Future,
	frames chan string,
	outstanding *atomic.Int64,
	registry *activeRegistry,
	cfg encodeOptions,
	reducers map[string]valuecodec.Reducer,
) {
	pctx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})
	registry.add(id, func() {
		cancel()
		<-done
	})

	go func() {
		defer cancel()
		defer close(done)

		val, err := fut.Await(pctx)

		var status int
		var payload string
		switch {
		case err != nil:
			status = framing.FutureErr
			payload = safeCause(err, cfg, reducers)
		default:
			encoded, encErr := valuecodec.Stringify(val, reducers)
			if encErr != nil {
				status = framing.FutureErr
				payload = safeCause(encErr, cfg, reducers)
			} else {
				status = framing.FutureOK
				payload = encoded
			}
		}

		sendFrame(pctx, frames, id, status, payload, cfg)
		registry.remove(id)
		if outstanding.Add(-1) == 0 {
			close(frames)
		}
	}()
}

func runSequenceProducer(
	parentCtx context.Context,
	id uint64,
	seq Sequence,
	frames chan string,
	outstanding *atomic.Int64,
	registry *activeRegistry,
	cfg encodeOptions,
	reducers map[string]valuecodec.Reducer,
) {
	pctx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})
	registry.add(id, func() {
		cancel()
		<-done
	})

	go func() {
		defer cancel()
		defer close(done)
		defer func() { _ = seq.Close() }()

		for {
			val, isDone, err := seq.Next(pctx)
			switch {
			case err != nil:
				sendFrame(pctx, frames, id, framing.SeqError, safeCause(err, cfg, reducers), cfg)
			case isDone:
				encoded, encErr := valuecodec.Stringify(val, reducers)
				if encErr != nil {
					sendFrame(pctx, frames, id, framing.SeqError, safeCause(encErr, cfg, reducers), cfg)
				} else {
					sendFrame(pctx, frames, id, framing.SeqReturn, encoded, cfg)
				}
			default:
				encoded, encErr := valuecodec.Stringify(val, reducers)
				if encErr != nil {
					sendFrame(pctx, frames, id, framing.SeqError, safeCause(encErr, cfg, reducers), cfg)
				} else if sendFrame(pctx, frames, id, framing.SeqYield, encoded, cfg) {
					continue
				}
			}
			break
		}

		registry.remove(id)
		if outstanding.Add(-1) == 0 {
			close(frames)
		}
	}()
}
