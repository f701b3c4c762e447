// Command devaluecat encodes a small demo value to a chunk stream on stdout,
// or decodes a chunk stream read from stdin back into a value, printing its
// JSON-ish Go representation. It exists to exercise EncodeStream/DecodeStream
// end-to-end from the command line without standing up a websocket relay.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"iter"
	"os"
	"time"

	devalue "github.com/katt/devalue-go"
)

func demoValue() any {
	future := devalue.NewFuture(func(ctx context.Context) (any, error) {
		return "done", nil
	})

	count := 0
	seq := devalue.NewSequence(func(ctx context.Context) (any, bool, error) {
		if count >= 3 {
			return nil, true, nil
		}
		count++
		return count, false, nil
	}, nil)

	return map[string]any{
		"greeting": "hello from devaluecat",
		"future":   future,
		"counts":   seq,
	}
}

func runEncode(w *bufio.Writer) error {
	ctx := context.Background()
	for chunk, err := range devalue.EncodeStream(ctx, demoValue()) {
		if err != nil {
			return err
		}
		if _, werr := fmt.Fprintln(w, chunk); werr != nil {
			return werr
		}
	}
	return w.Flush()
}

func stdinChunks() iter.Seq2[string, error] {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return func(yield func(string, error) bool) {
		for scanner.Scan() {
			if !yield(scanner.Text(), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", err)
		}
	}
}

func runDecode(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	value, err := devalue.DecodeStream(ctx, stdinChunks())
	if err != nil {
		return err
	}
	fmt.Printf("%#v\n", value)
	return nil
}

func main() {
	decode := flag.Bool("decode", false, "decode a chunk stream from stdin instead of encoding the demo value")
	timeout := flag.Duration("timeout", 5*time.Second, "overall deadline for decoding a stream")
	flag.Parse()

	var err error
	if *decode {
		err = runDecode(context.Background(), *timeout)
	} else {
		err = runEncode(bufio.NewWriter(os.Stdout))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "devaluecat:", err)
		os.Exit(1)
	}
}
