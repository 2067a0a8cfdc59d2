package sink

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// FileWriter appends one canonical JSON object per record to a
// JSON-lines file, matching §6's "canonical JSON encoding with a
// stable field order" requirement (field order follows struct
// declaration order, per encoding/json's default behavior).
type FileWriter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFileWriter opens path in append mode, creating it if necessary.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWriter{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *FileWriter) Name() string { return "jsonl_file" }

func (w *FileWriter) Write(rec fxtypes.EventRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(rec)
}

// Close flushes and closes the underlying file. Call during engine
// shutdown after Sink.Stop returns.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
