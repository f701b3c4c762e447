package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var writerSessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const chunkFlushInterval = 200 * time.Millisecond

// chunkBlob stages a captured chunk line before it is persisted to disk.
type chunkBlob struct {
	Seq        uint64
	CapturedAt time.Time
	Raw        []byte
}

// Writer streams a live devalue chunk-stream session to disk as it happens,
// so a long-lived relay connection does not need to hold its whole history
// in memory the way Recorder does. Connection lifecycle events go to a
// snappy-compressed JSONL log; chunk payloads go to a batched, zstd-compressed
// binary log.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	chunkFile   *os.File
	chunkStream *zstd.Encoder
	pending     []chunkBlob
	lastFlush   time.Time
	sessionID   string
}

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	FlushMs    int    `json:"flush_interval_ms"`
	EventsPath string `json:"events_path"`
	ChunksPath string `json:"chunks_path"`
	RootPath   string `json:"root_path"`
}

// NewWriter prepares the replay directory and opens compressed sinks.
func NewWriter(root, sessionID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerSessionCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	chunksPath := filepath.Join(path, "chunks.bin.zst")
	manifestPath := filepath.Join(path, "manifest.json")

	eventFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	chunkFile, err := os.Create(chunksPath)
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	chunkStream, err := zstd.NewWriter(chunkFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		chunkFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		FlushMs:    int(chunkFlushInterval / time.Millisecond),
		EventsPath: "events.jsonl.sz",
		ChunksPath: "chunks.bin.zst",
		RootPath:   "root.txt",
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		chunkStream.Close()
		chunkFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		chunkStream.Close()
		chunkFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		chunkFile:   chunkFile,
		chunkStream: chunkStream,
	}

	return writer, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes a single JSON connection-lifecycle event to the compressed event log.
func (w *Writer) AppendEvent(seq uint64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Encode the event with metadata so downstream JSONL parsers can stream it safely.
	record := struct {
		Seq        uint64 `json:"seq"`
		CapturedAt string `json:"captured_at"`
		Type       string `json:"type"`
		PayloadB64 string `json:"payload_b64"`
	}{
		Seq:        seq,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := w.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendChunk buffers an encoded chunk line until the flush cadence is reached.
func (w *Writer) AppendChunk(seq uint64, raw string) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := []byte(raw)

	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Stage the chunk so cadence enforcement can persist batches together.
	w.pending = append(w.pending, chunkBlob{Seq: seq, CapturedAt: captured, Raw: clone})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= chunkFlushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// SetHeaderMetadata configures the header persisted alongside the replay bundle.
func (w *Writer) SetHeaderMetadata(sessionID string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	//1.- Cache the session id for later header emission when the writer closes.
	w.sessionID = sessionID
	w.mu.Unlock()
}

// WriteRoot persists the stream's root value text alongside the bundle. It
// must be called at most once, before the first AppendChunk.
func (w *Writer) WriteRoot(text string) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	dir := w.dir
	w.mu.Unlock()
	return os.WriteFile(filepath.Join(dir, "root.txt"), []byte(text), 0o644)
}

// Flush forces pending chunks to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Persist pending chunks then refresh the cadence anchor to avoid bursts.
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close synchronously flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Persist the metadata header before dismantling the streaming sinks.
	var firstErr error
	headerPath := filepath.Join(w.dir, "header.json")
	header := Header{SchemaVersion: HeaderSchemaVersion, SessionID: w.sessionID, FilePointer: "manifest.json"}
	if err := WriteHeader(headerPath, header); err != nil && firstErr == nil {
		firstErr = err
	}
	//2.- Attempt every flush/close and surface the first failure for callers to inspect.
	if err := w.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.chunkStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.chunkFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered chunks to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	//1.- Write length-prefixed chunks so replayers can step through them efficiently.
	for _, chunk := range w.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], chunk.Seq)
		binary.LittleEndian.PutUint64(header[8:16], uint64(chunk.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(chunk.Raw)))
		if _, err := w.chunkStream.Write(header); err != nil {
			return err
		}
		if _, err := w.chunkStream.Write(chunk.Raw); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
