package session

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader delivers its input n bytes at a time to exercise payloads
// split across reads.
type chunkedReader struct {
	data []byte
	n    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collectPayloads(t *testing.T, s *StreamScanner) []string {
	t.Helper()
	var out []string
	for {
		payload, err := s.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(payload))
	}
}

func TestStreamScanner_Basic(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n"
	s := NewStreamScanner(strings.NewReader(body))

	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, payloads)
}

func TestStreamScanner_SplitAcrossReads(t *testing.T) {
	body := "data: {\"content\":\"hello world\"}\n\ndata: [DONE]\n\n"

	// Any chunking of the byte stream parses identically.
	for _, n := range []int{1, 2, 3, 5, 7, 1024} {
		s := NewStreamScanner(&chunkedReader{data: []byte(body), n: n})
		payloads := collectPayloads(t, s)
		assert.Equal(t, []string{`{"content":"hello world"}`}, payloads, "read size %d", n)
	}
}

func TestStreamScanner_SkipsCommentsAndBlankLines(t *testing.T) {
	body := ": heartbeat\n\nevent: message\ndata: {\"x\":1}\n\n: another comment\ndata: [DONE]\n\n"
	s := NewStreamScanner(strings.NewReader(body))

	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{`{"x":1}`}, payloads)
}

func TestStreamScanner_CRLF(t *testing.T) {
	body := "data: {\"x\":1}\r\n\r\ndata: [DONE]\r\n\r\n"
	s := NewStreamScanner(strings.NewReader(body))

	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{`{"x":1}`}, payloads)
}

func TestStreamScanner_EOFWithoutDone(t *testing.T) {
	s := NewStreamScanner(strings.NewReader("data: {\"x\":1}\n\n"))
	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{`{"x":1}`}, payloads)
}

func TestStreamScanner_PartialTrailingLineDropped(t *testing.T) {
	// A trailing line with no newline cannot be a complete frame.
	s := NewStreamScanner(strings.NewReader("data: {\"x\":1}\n\ndata: {\"trunc"))
	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{`{"x":1}`}, payloads)
}

func TestStreamScanner_MalformedPayloadPassedThrough(t *testing.T) {
	// Validity of the payload is the caller's concern.
	s := NewStreamScanner(strings.NewReader("data: not-json\n\ndata: [DONE]\n\n"))
	payloads := collectPayloads(t, s)
	assert.Equal(t, []string{"not-json"}, payloads)
}
