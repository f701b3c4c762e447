package devalue

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/katt/devalue-go/internal/framing"
	"github.com/katt/devalue-go/internal/valuecodec"
)

type producerKind int

const (
	kindFuture producerKind = iota
	kindSequence
)

type sinkMsg struct {
	status int
	value  any
	err    error
}

// sink is the decoder-side mailbox for one producer id, grounded on
// internal/events.Stream's per-subscriber buffered channel. stopCh lets a
// consumer that abandons early (Await/Next called with an already-canceled
// context, or Close on a Sequence) unblock a pump goroutine that is
// blocked trying to deliver into a full buffer, without either side having
// to hold a lock across a blocking channel send.
type sink struct {
	kind   producerKind
	ch     chan sinkMsg
	stopCh chan struct{}
	once   sync.Once
}

func newSink(kind producerKind, buffer int) *sink {
	return &sink{kind: kind, ch: make(chan sinkMsg, buffer), stopCh: make(chan struct{})}
}

func (s *sink) deliver(msg sinkMsg) {
	select {
	case s.ch <- msg:
	case <-s.stopCh:
	}
}

func (s *sink) close() {
	s.once.Do(func() { close(s.stopCh) })
}

func isTerminal(kind producerKind, status int) bool {
	if kind == kindFuture {
		return true
	}
	return status == framing.SeqReturn || status == framing.SeqError
}

// decoder holds the demultiplexer's live state: every id ever announced by
// a placeholder (registered, never removed) and every id whose sink is
// still awaiting a terminal frame (sinks, removed once delivered).
type decoder struct {
	mu         sync.Mutex
	sinks      map[uint64]*sink
	registered map[uint64]bool
	sinkBuffer int
}

// DecodeStream consumes chunks and returns the reconstructed root value.
// It registers a sink for every Future or Sequence placeholder found while
// parsing the root chunk, then returns — an in-flight pump goroutine keeps
// consuming chunks and dispatching them to sinks for as long as the
// returned Futures and Sequences are read. If the chunk sequence ends or
// errors while sinks remain outstanding, every remaining sink is delivered
// ErrStreamInterrupted.
func DecodeStream(ctx context.Context, chunks iter.Seq2[string, error], opts ...DecodeOption) (any, error) {
	cfg := resolveDecodeOptions(opts)

	next, stop := iter.Pull2(chunks)

	d := &decoder{
		sinks:      make(map[uint64]*sink),
		registered: make(map[uint64]bool),
		sinkBuffer: cfg.sinkBuffer,
	}

	revivers := make(map[string]valuecodec.Reviver, len(cfg.revivers)+2)
	for tag, r := range cfg.revivers {
		revivers[tag] = r
	}
	revivers[futureTag] = func(payload any) (any, error) {
		id, err := idFromPayload(payload)
		if err != nil {
			return nil, err
		}
		s := d.register(id, kindFuture)
		return &decodedFuture{id: id, s: s}, nil
	}
	revivers[sequenceTag] = func(payload any) (any, error) {
		id, err := idFromPayload(payload)
		if err != nil {
			return nil, err
		}
		s := d.register(id, kindSequence)
		return &decodedSequence{id: id, s: s}, nil
	}

	type rootResult struct {
		chunk string
		err   error
		ok    bool
	}
	rootCh := make(chan rootResult, 1)
	go func() {
		chunk, err, ok := next()
		rootCh <- rootResult{chunk, err, ok}
	}()

	var root rootResult
	select {
	case root = <-rootCh:
	case <-ctx.Done():
		stop()
		return nil, ctx.Err()
	}
	if !root.ok {
		stop()
		return nil, fmt.Errorf("devalue: empty chunk stream")
	}
	if root.err != nil {
		stop()
		return nil, root.err
	}

	value, err := valuecodec.Parse(root.chunk, revivers)
	if err != nil {
		stop()
		return nil, fmt.Errorf("devalue: decode root: %w", err)
	}

	go d.pump(ctx, next, stop, revivers)

	return value, nil
}

func (d *decoder) register(id uint64, kind producerKind) *sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newSink(kind, d.sinkBuffer)
	d.sinks[id] = s
	d.registered[id] = true
	return s
}

func (d *decoder) pump(ctx context.Context, next func() (string, error, bool), stop func(), revivers map[string]valuecodec.Reviver) {
	defer stop()
	for {
		select {
		case <-ctx.Done():
			d.interruptAll(ctx.Err())
			return
		default:
		}

		chunk, err, ok := next()
		if !ok {
			d.interruptAll(framing.ErrStreamInterrupted)
			return
		}
		if err != nil {
			d.interruptAll(fmt.Errorf("%w: %v", framing.ErrStreamInterrupted, err))
			return
		}

		frame, perr := framing.Parse(chunk)
		if perr != nil {
			d.interruptAll(fmt.Errorf("%w: %w", framing.ErrStreamInterrupted, perr))
			return
		}

		d.mu.Lock()
		known := d.registered[frame.ID]
		s := d.sinks[frame.ID]
		d.mu.Unlock()

		if !known {
			d.interruptAll(fmt.Errorf("%w: %w: id %d", framing.ErrStreamInterrupted, framing.ErrUnknownProducer, frame.ID))
			return
		}
		if s == nil {
			continue // stray frame for an id whose sink already reached terminal
		}

		decoded, derr := valuecodec.Parse(frame.Payload, revivers)
		if derr != nil {
			s.deliver(sinkMsg{err: fmt.Errorf("devalue: decode payload for id %d: %w", frame.ID, derr)})
			continue
		}

		s.deliver(sinkMsg{status: frame.Status, value: decoded})

		if isTerminal(s.kind, frame.Status) {
			d.mu.Lock()
			delete(d.sinks, frame.ID)
			d.mu.Unlock()
		}
	}
}

func (d *decoder) interruptAll(err error) {
	d.mu.Lock()
	sinks := d.sinks
	d.sinks = make(map[uint64]*sink)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(sinkMsg{err: err})
		}()
	}
	wg.Wait()
}

func idFromPayload(payload any) (uint64, error) {
	f, ok := payload.(float64)
	if !ok || f < 0 {
		return 0, fmt.Errorf("devalue: invalid producer id payload %#v", payload)
	}
	return uint64(f), nil
}

// decodedFuture is the Future implementation handed back from DecodeStream
// for every "$F" placeholder in the reconstructed tree.
type decodedFuture struct {
	id uint64
	s  *sink
}

func (f *decodedFuture) Await(ctx context.Context) (any, error) {
	defer f.s.close()
	select {
	case msg := <-f.s.ch:
		if msg.err != nil {
			return nil, msg.err
		}
		if msg.status == framing.FutureErr {
			return nil, fmt.Errorf("devalue: future rejected: %v", msg.value)
		}
		if msg.status != framing.FutureOK {
			return nil, fmt.Errorf("devalue: unknown status %d for id %d", msg.status, f.id)
		}
		return msg.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodedSequence is the Sequence implementation handed back from
// DecodeStream for every "$S" placeholder in the reconstructed tree.
type decodedSequence struct {
	id uint64
	s  *sink

	mu       sync.Mutex
	finished bool
	lastVal  any
	lastErr  error
}

func (s *decodedSequence) Next(ctx context.Context) (any, bool, error) {
	s.mu.Lock()
	if s.finished {
		val, err := s.lastVal, s.lastErr
		s.mu.Unlock()
		return val, true, err
	}
	s.mu.Unlock()

	select {
	case msg := <-s.s.ch:
		switch {
		case msg.err != nil:
			s.finish(nil, msg.err)
			return nil, true, msg.err
		case msg.status == framing.SeqYield:
			return msg.value, false, nil
		case msg.status == framing.SeqReturn:
			s.finish(msg.value, nil)
			return msg.value, true, nil
		case msg.status == framing.SeqError:
			err := fmt.Errorf("devalue: sequence failed: %v", msg.value)
			s.finish(nil, err)
			return nil, true, err
		default:
			err := fmt.Errorf("devalue: unknown status %d for id %d", msg.status, s.id)
			s.finish(nil, err)
			return nil, true, err
		}
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

func (s *decodedSequence) finish(val any, err error) {
	s.mu.Lock()
	s.finished = true
	s.lastVal = val
	s.lastErr = err
	s.mu.Unlock()
	s.s.close()
}

func (s *decodedSequence) Close() error {
	s.s.close()
	return nil
}
