package pop3

import (
	"bufio"
	"io"
	"strings"
)

// maxCommandLine is the maximum number of octets in a command line,
// including the trailing CRLF (spec §4.1).
const maxCommandLine = 255

// ReadCommandLine reads one CRLF-terminated command line from r, enforcing
// the 255-octet cap. The returned string has the line ending stripped. If
// the line (including its terminator) would exceed maxCommandLine,
// ErrLineTooLong is returned and the caller must close the connection.
func ReadCommandLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line == "" {
			return "", err
		}
		// Partial line followed by EOF: still subject to the length cap,
		// but report the underlying error once trimmed.
	}
	if len(line) > maxCommandLine {
		// Drain is unnecessary: caller closes the connection on this error.
		return "", ErrLineTooLong
	}
	return strings.TrimRight(line, "\r\n"), err
}

// StuffLine applies POP3 byte-stuffing to a single line of multi-line
// payload: a leading "." is doubled so the line is never confused with the
// terminator.
func StuffLine(line string) string {
	if strings.HasPrefix(line, ".") {
		return "." + line
	}
	return line
}

// UnstuffLine reverses StuffLine.
func UnstuffLine(line string) string {
	if strings.HasPrefix(line, "..") {
		return line[1:]
	}
	return line
}

// WriteMultiline writes a dot-stuffed multi-line payload terminated by the
// standalone "." line, per spec §4.1. lines must not contain embedded CRLF.
func WriteMultiline(w io.Writer, lines []string) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(StuffLine(line)); err != nil {
			return err
		}
		if _, err := bw.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString(".\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadMultiline reads a dot-stuffed multi-line payload from r up to and
// including its terminator line, returning the unstuffed lines.
func ReadMultiline(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return lines, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			return lines, nil
		}
		lines = append(lines, UnstuffLine(trimmed))
	}
}
