// Package framing implements the wire syntax for devalue-go's streaming
// protocol: status codes and the textual chunk grammar shared by the Encoder
// and the Decoder. Producer ids are allocated by the Encoder itself.
package framing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status codes are stable wire values. FUTURE_* and SEQ_* share numeric
// space; the decoder disambiguates by which producer kind owns the id.
const (
	FutureOK  = 0
	FutureErr = 1

	SeqYield  = 0
	SeqReturn = 2
	SeqError  = 1
)

// ErrMalformedChunk indicates a chunk header could not be parsed: a
// non-decimal id or status, or a missing delimiter.
var ErrMalformedChunk = errors.New("framing: malformed chunk")

// ErrStreamInterrupted indicates the chunk transport ended, or failed,
// while sinks remained outstanding.
var ErrStreamInterrupted = errors.New("framing: stream interrupted")

// ErrUnknownProducer indicates a frame's id was never announced by a
// placeholder in a previously decoded payload.
var ErrUnknownProducer = errors.New("framing: unknown producer id")

// Frame is the tuple (id, status, payload) carried by one producer chunk.
type Frame struct {
	ID      uint64
	Status  int
	Payload string
}

// Encode renders a frame using the delimited form "<id>:<status>:<payload>".
// Payload must already be self-delimited JSON-compatible text without
// embedded unescaped newlines, as produced by the synchronous value codec.
func Encode(f Frame) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(f.ID, 10))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(f.Status))
	b.WriteByte(':')
	b.WriteString(f.Payload)
	return b.String()
}

// Parse reverses Encode. It returns ErrMalformedChunk if the id or status
// segment is not a valid nonnegative decimal integer, or either delimiter
// is missing.
func Parse(chunk string) (Frame, error) {
	first := strings.IndexByte(chunk, ':')
	if first < 0 {
		return Frame{}, fmt.Errorf("%w: missing id delimiter", ErrMalformedChunk)
	}
	rest := chunk[first+1:]
	second := strings.IndexByte(rest, ':')
	if second < 0 {
		return Frame{}, fmt.Errorf("%w: missing status delimiter", ErrMalformedChunk)
	}

	idPart := chunk[:first]
	statusPart := rest[:second]
	payload := rest[second+1:]

	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: invalid id %q", ErrMalformedChunk, idPart)
	}
	status, err := strconv.Atoi(statusPart)
	if err != nil || status < 0 {
		return Frame{}, fmt.Errorf("%w: invalid status %q", ErrMalformedChunk, statusPart)
	}

	return Frame{ID: id, Status: status, Payload: payload}, nil
}
