package infodancer

import (
	"bufio"
	"bytes"
	"io"
)

// extractTop reads headers, the blank separator line, and up to
// nBodyLines body lines from r, returning them as a fresh CRLF-framed
// stream (spec §4.3 fetch_top).
func extractTop(r io.Reader, nBodyLines int) (io.ReadCloser, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var buf bytes.Buffer
	inBody := false
	bodyCount := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !inBody {
			buf.WriteString(line)
			buf.WriteString("\r\n")
			if line == "" {
				inBody = true
			}
			continue
		}
		if bodyCount >= nBodyLines {
			break
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
		bodyCount++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}
