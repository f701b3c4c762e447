// Package replayplayer rehydrates a devalue chunk-stream session captured by
// internal/replay.Writer and replays it back through the decoder, so a
// session recorded off a live relay connection can be inspected or
// re-decoded offline without a network round trip.
package replayplayer

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	devalue "github.com/katt/devalue-go"
	"github.com/katt/devalue-go/internal/replay"
)

// Event represents a single connection-lifecycle event decoded from the JSONL log.
type Event struct {
	Seq        uint64
	CapturedAt time.Time
	Type       string
	Payload    []byte
}

// Chunk represents a single encoded chunk line decoded from the binary blob stream.
type Chunk struct {
	Seq        uint64
	CapturedAt time.Time
	Raw        string
}

// Bundle holds everything recorded for one captured session.
type Bundle struct {
	Manifest replay.Manifest
	Events   []Event
	Chunks   []Chunk
}

// LoadBundle loads the manifest, events and chunks for inspection.
func LoadBundle(path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}

	//1.- Locate the manifest so downstream parsing reuses relative asset paths.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, "manifest.json")
	}
	manifestDir := filepath.Dir(manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return Bundle{}, err
	}
	var manifest replay.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return Bundle{}, err
	}
	if manifest.Version != 1 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	//2.- Decode events first so validation tools can reconstruct the timeline.
	events, err := loadEvents(filepath.Join(manifestDir, manifest.EventsPath))
	if err != nil {
		return Bundle{}, err
	}

	//3.- Decode chunks afterwards because they can be replayed incrementally.
	chunks, err := loadChunks(filepath.Join(manifestDir, manifest.ChunksPath))
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{Manifest: manifest, Events: events, Chunks: chunks}, nil
}

// Play rehydrates the bundle's root value and feeds its recorded chunks
// through devalue.DecodeStream exactly as a live relay connection would,
// returning the fully reconstructed value.
func Play(ctx context.Context, path string) (any, error) {
	bundle, err := LoadBundle(path)
	if err != nil {
		return nil, err
	}

	manifestDir := path
	if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
		manifestDir = filepath.Dir(path)
	}
	rootBytes, err := os.ReadFile(filepath.Join(manifestDir, bundle.Manifest.RootPath))
	if err != nil {
		return nil, fmt.Errorf("read root value: %w", err)
	}
	root := string(rootBytes)

	idx := 0
	chunks := func(yield func(string, error) bool) {
		if !yield(root, nil) {
			return
		}
		for idx < len(bundle.Chunks) {
			chunk := bundle.Chunks[idx]
			idx++
			if !yield(chunk.Raw, nil) {
				return
			}
		}
	}

	return devalue.DecodeStream(ctx, iter.Seq2[string, error](chunks))
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := snappy.NewReader(file)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		//1.- Decode the JSON payload and convert the base64 field into raw bytes.
		var raw struct {
			Seq        uint64 `json:"seq"`
			CapturedAt string `json:"captured_at"`
			Type       string `json:"type"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(raw.PayloadB64)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Seq:        raw.Seq,
			CapturedAt: captured,
			Type:       raw.Type,
			Payload:    payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadChunks(path string) ([]Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	offset := 0
	for offset+20 <= len(payload) {
		//1.- Read the fixed header then hydrate the payload bytes for replay consumption.
		seq := binary.LittleEndian.Uint64(payload[offset : offset+8])
		offset += 8
		captured := int64(binary.LittleEndian.Uint64(payload[offset : offset+8]))
		offset += 8
		size := int(binary.LittleEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if size < 0 || offset+size > len(payload) {
			return nil, fmt.Errorf("chunk payload truncated")
		}
		raw := string(payload[offset : offset+size])
		offset += size
		chunks = append(chunks, Chunk{
			Seq:        seq,
			CapturedAt: time.Unix(0, captured).UTC(),
			Raw:        raw,
		})
	}
	return chunks, nil
}
