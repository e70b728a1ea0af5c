package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loomchat/loom/internal/logging"
)

// FileLog is a JSONL-backed Log: one record per line, replayed on open. The
// file is append-only; a torn trailing line from a crashed writer is
// tolerated on replay.
type FileLog struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	records []Record
	subs    map[uint64]func(Record)
	nextSub uint64
	closed  bool
}

// OpenFileLog opens (or creates) a JSONL log at path and replays it.
func OpenFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	l := &FileLog{
		path: path,
		file: file,
		subs: make(map[uint64]func(Record)),
	}
	if err := l.replay(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// replay loads committed records from disk. Offsets are re-derived from line
// order so a hand-edited file cannot introduce gaps.
func (l *FileLog) replay() error {
	if _, err := l.file.Seek(0, 0); err != nil {
		return fmt.Errorf("eventlog: seek: %w", err)
	}

	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			logging.Warn().
				Str("path", l.path).
				Int("line", line).
				Err(err).
				Msg("skipping unparseable log line")
			continue
		}
		rec.Offset = uint64(len(l.records))
		l.records = append(l.records, rec)
	}
	return scanner.Err()
}

// Append commits an event, flushes it to disk, and notifies subscribers.
func (l *FileLog) Append(ctx context.Context, ev Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	rec := Record{
		Offset: uint64(len(l.records)),
		Time:   time.Now().UnixMilli(),
		Event:  ev,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("eventlog: marshal record: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("eventlog: append: %w", err)
	}
	l.records = append(l.records, rec)
	subs := make([]func(Record), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
	return rec.Offset, nil
}

// Read returns all records with offset >= from.
func (l *FileLog) Read(ctx context.Context, from uint64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	if from >= uint64(len(l.records)) {
		return nil, nil
	}
	out := make([]Record, len(l.records[from:]))
	copy(out, l.records[from:])
	return out, nil
}

// Subscribe registers a live subscriber.
func (l *FileLog) Subscribe(fn func(Record)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// Len returns the number of committed records.
func (l *FileLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// Close releases the file handle. The data on disk is untouched.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.subs = make(map[uint64]func(Record))
	return l.file.Close()
}
