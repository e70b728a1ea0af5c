package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLog_ReplayAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	ctx := context.Background()

	l, err := OpenFileLog(path)
	require.NoError(t, err)

	for i, content := range []string{"one", "two", "three"} {
		_, err := l.Append(ctx, mustChunkEvent(t, "m1", i, content))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	reopened, err := OpenFileLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(3), reopened.Len())
	records, err := reopened.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(0), records[0].Offset)
	assert.Equal(t, uint64(2), records[2].Offset)
}

func TestFileLog_TornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	ctx := context.Background()

	l, err := OpenFileLog(path)
	require.NoError(t, err)
	_, err = l.Append(ctx, mustChunkEvent(t, "m1", 0, "kept"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Simulate a crashed writer: a half-written trailing record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"offset":1,"time":123,"event":{"ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenFileLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.Len())

	// Appends after a torn line get the next clean offset.
	off, err := reopened.Append(ctx, mustChunkEvent(t, "m1", 1, "next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), off)
}

func TestFileLog_OffsetsRederivedFromLineOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")

	// Offsets on disk are advisory; replay re-derives them from line order.
	content := `{"offset":7,"time":1,"event":{"type":"chunk","payload":{"messageID":"m1","seq":0,"chunk":{"type":"text","content":"a"}}}}
{"offset":42,"time":2,"event":{"type":"chunk","payload":{"messageID":"m1","seq":1,"chunk":{"type":"text","content":"b"}}}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := OpenFileLog(path)
	require.NoError(t, err)
	defer l.Close()

	records, err := l.Read(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(0), records[0].Offset)
	assert.Equal(t, uint64(1), records[1].Offset)
}

func TestFileLog_Subscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	ctx := context.Background()

	l, err := OpenFileLog(path)
	require.NoError(t, err)
	defer l.Close()

	var got []Record
	unsub := l.Subscribe(func(rec Record) { got = append(got, rec) })
	defer unsub()

	_, err = l.Append(ctx, mustChunkEvent(t, "m1", 0, "x"))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].Offset)
}
