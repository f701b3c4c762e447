// Command devaluereplaylist walks a directory of captured chunk-stream
// replay headers and prints a catalogue of the sessions found.
package main

import (
	"flag"
	"fmt"
	"os"

	replaycatalog "github.com/katt/devalue-go/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay headers")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (schema %d)\n", entry.ReplayPath, entry.Header.SchemaVersion)
		if entry.Header.SessionID != "" {
			fmt.Printf("  session: %s\n", entry.Header.SessionID)
		}
		fmt.Printf("  header: %s\n", entry.HeaderPath)
	}
}
