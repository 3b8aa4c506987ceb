package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/logharbor/logharbor/internal/model"
)

// WAL journals active segment appends so a crash loses nothing that was
// acknowledged. One WAL belongs to exactly one active segment and is
// removed once that segment is sealed.
type WAL struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenWAL opens or creates a WAL file at the specified path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{
		file: f,
		path: path,
	}, nil
}

// Write appends one entry record and returns the bytes written.
// Format: [Len uint32][JSON Bytes]
func (w *WAL) Write(e *model.Entry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))

	if _, err := w.file.Write(lenBuf); err != nil {
		return 0, err
	}
	if _, err := w.file.Write(data); err != nil {
		return 0, err
	}

	return 4 + len(data), nil
}

// Sync flushes the WAL file buffers to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Size returns the current journal length in bytes.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Remove closes and deletes the journal. Called once its entries are
// durable in a sealed segment.
func (w *WAL) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.file.Close()
	return os.Remove(w.path)
}

// Replay reads every complete record in the journal. A torn trailing
// record left by a crashed writer is discarded and the file truncated to
// the last complete record, so later appends stay replayable.
func (w *WAL) Replay() ([]model.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []model.Entry
	var valid int64
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.file, lenBuf); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return entries, fmt.Errorf("journal replay (len): %w", err)
		}

		length := binary.LittleEndian.Uint32(lenBuf)
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return entries, fmt.Errorf("journal replay (data): %w", err)
		}

		var e model.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return entries, fmt.Errorf("journal record at offset %d: %w", valid, err)
		}
		entries = append(entries, e)
		valid += int64(4 + length)
	}

	if err := w.file.Truncate(valid); err != nil {
		return entries, err
	}
	return entries, nil
}
