package devalue_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	devalue "github.com/katt/devalue-go"
	"github.com/katt/devalue-go/internal/framing"
)

func TestEncodeDecodeRoundTripPlainValue(t *testing.T) {
	ctx := context.Background()
	chunks := devalue.EncodeStream(ctx, map[string]any{"a": 1, "b": []any{"x", "y"}})
	got, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	want := map[string]any{"a": float64(1), "b": []any{"x", "y"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestFutureResolves(t *testing.T) {
	fut := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return "value", nil
	})
	ctx := context.Background()
	root, err := devalue.DecodeStream(ctx, devalue.EncodeStream(ctx, fut))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	got, err := root.(devalue.Future).Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != "value" {
		t.Fatalf("got %v, want %q", got, "value")
	}
}

func TestFutureRejects(t *testing.T) {
	fut := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return nil, errors.New("broken")
	})
	ctx := context.Background()
	chunks := devalue.EncodeStream(ctx, fut, devalue.WithReducers(devalue.ErrorReducer()))
	root, err := devalue.DecodeStream(ctx, chunks, devalue.WithRevivers(devalue.ErrorReviver()))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if _, err := root.(devalue.Future).Await(ctx); err == nil {
		t.Fatal("expected future to reject")
	}
}

func TestSequenceYieldsThenReturns(t *testing.T) {
	n := 0
	seq := devalue.NewSequence(func(ctx context.Context) (any, bool, error) {
		n++
		if n > 3 {
			return "done", true, nil
		}
		return n, false, nil
	}, nil)

	ctx := context.Background()
	root, err := devalue.DecodeStream(ctx, devalue.EncodeStream(ctx, seq))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	got := root.(devalue.Sequence)

	var yields []any
	for {
		v, done, err := got.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if done {
			if v != "done" {
				t.Fatalf("unexpected return value %v", v)
			}
			break
		}
		yields = append(yields, v)
	}
	want := []any{float64(1), float64(2), float64(3)}
	if !reflect.DeepEqual(yields, want) {
		t.Fatalf("got %v want %v", yields, want)
	}
}

func TestSequenceError(t *testing.T) {
	seq := devalue.NewSequence(func(ctx context.Context) (any, bool, error) {
		return nil, true, errors.New("stream broke")
	}, nil)

	ctx := context.Background()
	root, err := devalue.DecodeStream(ctx, devalue.EncodeStream(ctx, seq, devalue.WithReducers(devalue.ErrorReducer())))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	_, _, err = root.(devalue.Sequence).Next(ctx)
	if err == nil {
		t.Fatal("expected sequence to fail")
	}
}

func TestNestedProducerInsideFuture(t *testing.T) {
	n := 0
	inner := devalue.NewSequence(func(ctx context.Context) (any, bool, error) {
		n++
		if n > 2 {
			return "inner-done", true, nil
		}
		return n, false, nil
	}, nil)
	outer := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return map[string]any{"inner": inner}, nil
	})

	ctx := context.Background()
	root, err := devalue.DecodeStream(ctx, devalue.EncodeStream(ctx, outer))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	val, err := root.(devalue.Future).Await(ctx)
	if err != nil {
		t.Fatalf("Await outer: %v", err)
	}
	seq := val.(map[string]any)["inner"].(devalue.Sequence)

	var got []any
	for {
		v, done, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if done {
			if v != "inner-done" {
				t.Fatalf("unexpected return value %v", v)
			}
			break
		}
		got = append(got, v)
	}
	want := []any{float64(1), float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestProducerIndependence(t *testing.T) {
	failing := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	succeeding := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	ctx := context.Background()
	chunks := devalue.EncodeStream(ctx, map[string]any{"a": failing, "b": succeeding},
		devalue.WithReducers(devalue.ErrorReducer()))
	root, err := devalue.DecodeStream(ctx, chunks, devalue.WithRevivers(devalue.ErrorReviver()))
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	m := root.(map[string]any)

	if _, err := m["a"].(devalue.Future).Await(ctx); err == nil {
		t.Fatal("expected a to fail")
	}
	val, err := m["b"].(devalue.Future).Await(ctx)
	if err != nil {
		t.Fatalf("expected b to succeed, got %v", err)
	}
	if val != "ok" {
		t.Fatalf("got %v want ok", val)
	}
}

func TestFromChannelSequence(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	ctx := context.Background()
	chunks := devalue.EncodeStream(ctx, devalue.FromChannel(ch, nil))
	root, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	seq := root.(devalue.Sequence)

	var vals []any
	for {
		v, done, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if done {
			break
		}
		vals = append(vals, v)
	}
	want := []any{float64(1), float64(2), float64(3)}
	if !reflect.DeepEqual(vals, want) {
		t.Fatalf("got %v want %v", vals, want)
	}
}

func TestAbandonmentClosesSequence(t *testing.T) {
	closed := make(chan struct{})
	seq := devalue.NewSequence(
		func(ctx context.Context) (any, bool, error) {
			return 1, false, nil
		},
		func() error { close(closed); return nil },
	)

	ctx := context.Background()
	n := 0
	for chunk, err := range devalue.EncodeStream(ctx, map[string]any{"s": seq}) {
		if err != nil {
			t.Fatalf("unexpected encode error: %v", err)
		}
		_ = chunk
		n++
		if n == 2 {
			break
		}
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected Close to be invoked on abandonment")
	}
}

func TestTruncatedStreamInterruptsOutstandingSinks(t *testing.T) {
	chunks := func(yield func(string, error) bool) {
		yield(`["$F", 1]`, nil)
	}
	ctx := context.Background()
	val, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if _, err := val.(devalue.Future).Await(ctx); !errors.Is(err, framing.ErrStreamInterrupted) {
		t.Fatalf("expected ErrStreamInterrupted, got %v", err)
	}
}

func TestMalformedChunkInterruptsOutstandingSinks(t *testing.T) {
	chunks := func(yield func(string, error) bool) {
		if !yield(`["$F", 1]`, nil) {
			return
		}
		yield("garbage", nil)
	}
	ctx := context.Background()
	val, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if _, err := val.(devalue.Future).Await(ctx); !errors.Is(err, framing.ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestFutureSinkRejectsUnknownStatus(t *testing.T) {
	chunks := func(yield func(string, error) bool) {
		if !yield(`["$F", 1]`, nil) {
			return
		}
		// Status 2 (SEQ_RETURN) is only valid for a Sequence sink; a Future
		// sink must treat it as an unknown status rather than success.
		yield(`1:2:"surprise"`, nil)
	}
	ctx := context.Background()
	val, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if _, err := val.(devalue.Future).Await(ctx); err == nil {
		t.Fatal("expected an error for an unknown future status, got nil")
	}
}

func TestUnknownProducerIDInterruptsAsStreamInterrupted(t *testing.T) {
	chunks := func(yield func(string, error) bool) {
		if !yield(`["$F", 1]`, nil) {
			return
		}
		yield(`7:0:"orphan"`, nil)
	}
	ctx := context.Background()
	val, err := devalue.DecodeStream(ctx, chunks)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	_, awaitErr := val.(devalue.Future).Await(ctx)
	if !errors.Is(awaitErr, framing.ErrStreamInterrupted) {
		t.Fatalf("expected ErrStreamInterrupted, got %v", awaitErr)
	}
	if !errors.Is(awaitErr, framing.ErrUnknownProducer) {
		t.Fatalf("expected ErrUnknownProducer, got %v", awaitErr)
	}
}
