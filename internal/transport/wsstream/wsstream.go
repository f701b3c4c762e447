// Package wsstream adapts devalue's chunk-stream encoder and decoder onto a
// gorilla/websocket connection, carrying over the relay's write-deadline and
// ping/pong keepalive discipline from its client read/write pump pattern.
package wsstream

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	devalue "github.com/katt/devalue-go"
)

// writeWait bounds how long a single websocket write may block.
const writeWait = 10 * time.Second

// WriteStream drives value through devalue.EncodeStream and writes every
// chunk as a websocket text message, interleaving periodic pings on the
// same connection so the keepalive cadence survives long-running Futures
// and Sequences. It returns once the stream is exhausted, a write fails, or
// ctx is cancelled.
func WriteStream(ctx context.Context, conn *websocket.Conn, value any, pingInterval time.Duration, opts ...devalue.EncodeOption) error {
	var writeMu sync.Mutex
	writeText := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	done := make(chan struct{})
	defer close(done)

	if pingInterval > 0 {
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					writeMu.Lock()
					err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
					writeMu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for chunk, err := range devalue.EncodeStream(ctx, value, opts...) {
		if err != nil {
			return err
		}
		if werr := writeText([]byte(chunk)); werr != nil {
			return werr
		}
	}
	return ctx.Err()
}

// ReadStream adapts a websocket connection's inbound text messages into the
// iter.Seq2 shape devalue.DecodeStream consumes. Non-text frames are
// dropped. pongWait, when positive, refreshes the read deadline on every
// frame and on every pong, mirroring the relay's keepalive handling.
func ReadStream(conn *websocket.Conn, maxPayloadBytes int64, pongWait time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if maxPayloadBytes > 0 {
			conn.SetReadLimit(maxPayloadBytes)
		}
		if pongWait > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
				yield("", err)
				return
			}
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
		}
		for {
			messageType, msg, err := conn.ReadMessage()
			if err != nil {
				yield("", err)
				return
			}
			if pongWait > 0 {
				if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
					yield("", err)
					return
				}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if !yield(string(msg), nil) {
				return
			}
		}
	}
}
