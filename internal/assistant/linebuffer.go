package assistant

import (
	"bytes"
	"strings"
)

// LineBuffer assembles complete lines from arbitrary byte chunks. A
// partial line is held until its terminating newline arrives in a later
// chunk.
type LineBuffer struct {
	buf bytes.Buffer
}

// Feed appends chunk and returns the lines it completed, without their
// trailing newline.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.buf.Write(chunk)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(b.buf.Next(i + 1))
		lines = append(lines, strings.TrimSuffix(line[:len(line)-1], "\r"))
	}
	return lines
}

// Flush returns the dangling partial line, leaving the buffer empty.
func (b *LineBuffer) Flush() string {
	line := strings.TrimSuffix(b.buf.String(), "\r")
	b.buf.Reset()
	return line
}
