package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
)

// Store hands out one Log per session. With a base directory it opens
// file-backed logs under it; without one it serves in-memory logs (tests,
// ephemeral deployments).
type Store struct {
	mu      sync.Mutex
	baseDir string
	open    map[string]Log
}

// NewStore creates a store. baseDir may be empty for in-memory operation.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		open:    make(map[string]Log),
	}
}

// Open returns the log for a session, creating it on first use.
func (s *Store) Open(sessionID string) (Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.open[sessionID]; ok {
		return l, nil
	}

	var l Log
	if s.baseDir == "" {
		l = NewMemoryLog()
	} else {
		fl, err := OpenFileLog(filepath.Join(s.baseDir, sessionID+".jsonl"))
		if err != nil {
			return nil, err
		}
		l = fl
	}
	s.open[sessionID] = l
	return l, nil
}

// Release closes the session's log handle and forgets it. Log data on disk
// is never erased.
func (s *Store) Release(sessionID string) error {
	s.mu.Lock()
	l, ok := s.open[sessionID]
	delete(s.open, sessionID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return l.Close()
}

// Fork copies a prefix of src's log into a fresh log for dst. Agent
// registrations always carry over so the fork starts with the same roster.
// When upToMessageID is non-empty, chunk records are copied up to and
// including the last chunk of that message; otherwise chunk history is left
// behind and the fork starts with an empty conversation.
func (s *Store) Fork(ctx context.Context, srcID, dstID, upToMessageID string) (Log, error) {
	src, err := s.Open(srcID)
	if err != nil {
		return nil, err
	}
	records, err := src.Read(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("eventlog: fork read: %w", err)
	}

	dst, err := s.Open(dstID)
	if err != nil {
		return nil, err
	}
	if dst.Len() != 0 {
		return nil, fmt.Errorf("eventlog: fork target %s is not empty", dstID)
	}

	// Find the cut point first: the last record belonging to the named
	// message, so a multi-chunk message is never split.
	cut := -1
	if upToMessageID != "" {
		for i, rec := range records {
			if rec.Event.Type != TypeChunk {
				continue
			}
			if chunkMessageID(rec.Event.Payload) == upToMessageID {
				cut = i
			}
		}
	}

	for i, rec := range records {
		copyIt := false
		switch rec.Event.Type {
		case TypeAgentUpsert, TypeAgentRemove:
			copyIt = true
		case TypeChunk:
			copyIt = cut >= 0 && i <= cut
		}
		if !copyIt {
			continue
		}
		if _, err := dst.Append(ctx, rec.Event); err != nil {
			return nil, fmt.Errorf("eventlog: fork append: %w", err)
		}
	}
	return dst, nil
}

func chunkMessageID(payload []byte) string {
	var probe struct {
		MessageID string `json:"messageID"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.MessageID
}
