// Command devaluereplay inspects or replays a chunk-stream session captured
// by internal/replay.Writer: either dump the bundle's manifest, connection
// events and raw chunks as JSON, or decode it end-to-end through
// devalue.DecodeStream and print the reconstructed value.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	replayplayer "github.com/katt/devalue-go/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay directory or manifest.json")
	decode := flag.Bool("decode", false, "replay the bundle through DecodeStream instead of dumping it raw")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	if *decode {
		value, err := replayplayer.Play(context.Background(), *path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}

	bundle, err := replayplayer.LoadBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Render the replay bundle as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
