package session

import (
	"bytes"
	"io"
)

// doneMarker terminates an agent's event stream.
const doneMarker = "[DONE]"

// StreamScanner incrementally parses a text/event-stream body into its
// `data:` payloads. HTTP chunk boundaries never align with line boundaries,
// so a carry-over buffer holds the partial line between reads; a payload
// split across reads parses identically to one delivered whole.
//
// Blank lines and comment lines (leading ':') are skipped. `data: [DONE]`
// ends the stream. Payload validity is the caller's concern.
type StreamScanner struct {
	r       io.Reader
	carry   []byte
	readBuf []byte
	eof     bool
}

// NewStreamScanner wraps a streaming response body.
func NewStreamScanner(r io.Reader) *StreamScanner {
	return &StreamScanner{
		r:       r,
		readBuf: make([]byte, 4096),
	}
}

// Next returns the next data payload. It returns io.EOF on `data: [DONE]`
// or when the underlying stream ends; any other error comes from the
// reader.
func (s *StreamScanner) Next() ([]byte, error) {
	for {
		if line, ok := s.takeLine(); ok {
			payload, isData := parseDataLine(line)
			if !isData {
				continue
			}
			if bytes.Equal(payload, []byte(doneMarker)) {
				s.eof = true
				return nil, io.EOF
			}
			return payload, nil
		}

		if s.eof {
			// Trailing bytes without a newline cannot form a complete data
			// line; the stream is over.
			return nil, io.EOF
		}

		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.carry = append(s.carry, s.readBuf[:n]...)
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// takeLine removes one complete line from the carry buffer.
func (s *StreamScanner) takeLine() ([]byte, bool) {
	idx := bytes.IndexByte(s.carry, '\n')
	if idx < 0 {
		return nil, false
	}
	line := s.carry[:idx]
	s.carry = s.carry[idx+1:]
	return bytes.TrimSuffix(line, []byte("\r")), true
}

// parseDataLine extracts the payload of a `data:` line. Blank lines,
// comments, and other SSE fields yield isData == false.
func parseDataLine(line []byte) (payload []byte, isData bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimSpace(rest), true
}
