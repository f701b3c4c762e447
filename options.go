package devalue

import "github.com/katt/devalue-go/internal/valuecodec"

// Reducer and Reviver mirror the synchronous value codec's hooks so callers
// never need to import internal/valuecodec directly.
type Reducer = valuecodec.Reducer
type Reviver = valuecodec.Reviver

type encodeOptions struct {
	reducers    map[string]valuecodec.Reducer
	coerceError func(error) any
	onFrame     func(id uint64, status int)
}

// EncodeOption configures EncodeStream.
type EncodeOption func(*encodeOptions)

// WithReducers registers additional type-tagged reducers. Tags "F" and "S"
// are reserved for Future and Sequence placeholders and cannot be
// overridden.
func WithReducers(reducers map[string]Reducer) EncodeOption {
	return func(o *encodeOptions) {
		if o.reducers == nil {
			o.reducers = make(map[string]valuecodec.Reducer, len(reducers))
		}
		for tag, r := range reducers {
			if tag == futureTag || tag == sequenceTag {
				continue
			}
			o.reducers[tag] = r
		}
	}
}

// WithCoerceError supplies a fallback used when a producer's own failure
// value cannot be encoded: safeCause retries with coerceError(err) before
// falling back to err.Error().
func WithCoerceError(fn func(error) any) EncodeOption {
	return func(o *encodeOptions) { o.coerceError = fn }
}

// WithOnFrame installs a diagnostic hook. It is invoked once for the root
// chunk (with id 0 and status 0) just before that chunk is yielded, and once
// for every producer frame after the multiplexer has received it; the
// producer-frame calls run on that producer's goroutine. It must not block.
func WithOnFrame(fn func(id uint64, status int)) EncodeOption {
	return func(o *encodeOptions) { o.onFrame = fn }
}

func resolveEncodeOptions(opts []EncodeOption) encodeOptions {
	var cfg encodeOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type decodeOptions struct {
	revivers   map[string]valuecodec.Reviver
	sinkBuffer int
}

// DecodeOption configures DecodeStream.
type DecodeOption func(*decodeOptions)

// WithRevivers registers additional type-tagged revivers, the decode-side
// counterpart of WithReducers. Tags "F" and "S" are reserved.
func WithRevivers(revivers map[string]Reviver) DecodeOption {
	return func(o *decodeOptions) {
		if o.revivers == nil {
			o.revivers = make(map[string]valuecodec.Reviver, len(revivers))
		}
		for tag, r := range revivers {
			if tag == futureTag || tag == sequenceTag {
				continue
			}
			o.revivers[tag] = r
		}
	}
}

// WithSinkBuffer overrides the per-producer sink buffer depth (default 1).
// A larger buffer lets the demultiplexer run further ahead of a slow
// consumer for one producer without stalling dispatch to the others.
func WithSinkBuffer(n int) DecodeOption {
	return func(o *decodeOptions) {
		if n > 0 {
			o.sinkBuffer = n
		}
	}
}

func resolveDecodeOptions(opts []DecodeOption) decodeOptions {
	cfg := decodeOptions{sinkBuffer: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
