package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-memory Log. Offsets are slice indices; subscribers are
// notified synchronously in append order.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
	subs    map[uint64]func(Record)
	nextSub uint64
	closed  bool
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		subs: make(map[uint64]func(Record)),
	}
}

// Append commits an event and notifies subscribers.
func (l *MemoryLog) Append(ctx context.Context, ev Event) (uint64, error) {
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
func (l *MemoryLog) Read(ctx context.Context, from uint64) ([]Record, error) {
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
func (l *MemoryLog) Subscribe(fn func(Record)) func() {
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
func (l *MemoryLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// Close drops all subscribers. Committed records stay readable by a new log
// only for file-backed logs; the memory log's data lives and dies with the
// process.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = make(map[uint64]func(Record))
	return nil
}
