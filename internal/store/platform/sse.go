package platform

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// eventScanner parses a server-sent-events stream into (event, data)
// pairs. Comment lines and unknown fields are skipped; multiple data lines
// within one block are joined with newlines per the SSE format.
type eventScanner struct {
	scanner *bufio.Scanner
}

func newEventScanner(r io.Reader) *eventScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &eventScanner{scanner: scanner}
}

// next returns the next event block. io.EOF signals a cleanly ended stream.
func (s *eventScanner) next() (string, []byte, error) {
	event := "message"
	var data bytes.Buffer
	seen := false

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if seen {
				return event, data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event = value
			seen = true
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			seen = true
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	if seen {
		return event, data.Bytes(), nil
	}
	return "", nil, io.EOF
}
