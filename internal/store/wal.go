package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// WAL makes table appends durable before they reach a segment file.
// Frames are length-prefixed JSON rows.
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
	return &WAL{file: f, path: path}, nil
}

// WriteBatch appends all rows as one buffered write followed by a sync, so a
// batch is either fully durable or not written at all.
func (w *WAL) WriteBatch(rows []model.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := new(bytes.Buffer)
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
		buf.Write(lenBuf[:])
		buf.Write(data)
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return err
	}
	return w.file.Sync()
}

// Reset truncates the WAL after its contents reached a segment.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, 0)
	return err
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay reads back every row currently in the WAL.
func (w *WAL) Replay() ([]model.Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var rows []model.Row
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(w.file, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("wal replay (len): %w", err)
		}

		length := binary.LittleEndian.Uint32(lenBuf[:])
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			return rows, fmt.Errorf("wal replay (frame): %w", err)
		}

		var row model.Row
		if err := json.Unmarshal(data, &row); err != nil {
			return rows, fmt.Errorf("wal replay (decode): %w", err)
		}
		rows = append(rows, row)
	}

	// Leave the cursor at the end so subsequent appends go after the
	// replayed frames.
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return rows, err
	}
	return rows, nil
}

// replayReadOnly reads WAL frames from a path without taking the append
// handle, for read-only store opens.
func replayReadOnly(path string) ([]model.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rows []model.Row
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(f, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("wal read (len): %w", err)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			return rows, fmt.Errorf("wal read (frame): %w", err)
		}
		var row model.Row
		if err := json.Unmarshal(data, &row); err != nil {
			return rows, fmt.Errorf("wal read (decode): %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
