package replay

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// TimelineEntry represents a single captured chunk line ready for deterministic replay.
type TimelineEntry struct {
	Seq        uint64
	CapturedAt time.Time
	Raw        string
}

// Loader rehydrates a recorded chunk-stream session for inspection or replay tooling.
type Loader struct {
	sessionID string
	root      string
	entries   []TimelineEntry
}

// Load constructs a loader from the provided replay file path.
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		SessionID string `json:"session_id"`
		Root      string `json:"root"`
		Chunks    []struct {
			Seq        uint64 `json:"seq"`
			CapturedAt string `json:"captured_at"`
			Raw        string `json:"raw"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(envelope.Chunks))
	//1.- Rehydrate every captured chunk line in the order it was written.
	for _, chunk := range envelope.Chunks {
		captured, err := time.Parse(time.RFC3339Nano, chunk.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse chunk captured_at: %w", err)
		}
		entries = append(entries, TimelineEntry{Seq: chunk.Seq, CapturedAt: captured, Raw: chunk.Raw})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	return &Loader{sessionID: envelope.SessionID, root: envelope.Root, entries: entries}, nil
}

// SessionID returns the identifier the session was recorded under.
func (l *Loader) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Root returns the captured root value text.
func (l *Loader) Root() string {
	if l == nil {
		return ""
	}
	return l.root
}

// Replay iterates over the loaded chunk entries in deterministic order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		//1.- Invoke the callback for each timeline entry to drive the replaying decoder.
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a defensive copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
