package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/pkg/types"
)

func mustChunkEvent(t *testing.T, messageID string, seq int, content string) Event {
	t.Helper()
	ev, err := ChunkEvent(types.ChunkEvent{
		MessageID: messageID,
		ActorID:   "alice",
		ActorType: types.ActorUser,
		Role:      types.RoleUser,
		Chunk:     types.TextChunk(content),
		Seq:       seq,
	})
	require.NoError(t, err)
	return ev
}

func TestMemoryLog_AppendRead(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	off0, err := l.Append(ctx, mustChunkEvent(t, "m1", 0, "a"))
	require.NoError(t, err)
	off1, err := l.Append(ctx, mustChunkEvent(t, "m1", 1, "b"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), off0)
	assert.Equal(t, uint64(1), off1)
	assert.Equal(t, uint64(2), l.Len())

	records, err := l.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(0), records[0].Offset)
	assert.Equal(t, TypeChunk, records[0].Event.Type)

	// Read from an offset returns the suffix only.
	records, err = l.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Offset)

	// Reading past the end is empty, not an error.
	records, err = l.Read(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryLog_Subscribe(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	// History is never re-delivered to a new subscriber.
	_, err := l.Append(ctx, mustChunkEvent(t, "m1", 0, "before"))
	require.NoError(t, err)

	var got []Record
	unsub := l.Subscribe(func(rec Record) {
		got = append(got, rec)
	})

	_, err = l.Append(ctx, mustChunkEvent(t, "m1", 1, "one"))
	require.NoError(t, err)
	_, err = l.Append(ctx, mustChunkEvent(t, "m1", 2, "two"))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Offset)
	assert.Equal(t, uint64(2), got[1].Offset)

	unsub()
	_, err = l.Append(ctx, mustChunkEvent(t, "m1", 3, "after"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryLog_Closed(t *testing.T) {
	l := NewMemoryLog()
	require.NoError(t, l.Close())

	_, err := l.Append(context.Background(), mustChunkEvent(t, "m1", 0, "x"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.Read(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryLog_ContextCanceled(t *testing.T) {
	l := NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, mustChunkEvent(t, "m1", 0, "x"))
	assert.ErrorIs(t, err, context.Canceled)
}
