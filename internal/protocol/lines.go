package protocol

import (
	"bytes"
	"iter"
	"strings"
)

// maxLineLength bounds an unterminated fragment. A longer fragment is handed
// out as a line of its own instead of growing the buffer without limit.
const maxLineLength = 4096

// LineAssembler buffers raw device bytes and yields complete newline
// terminated lines. The zero value is ready to use. It is not safe for
// concurrent use; the reader loop owns it.
type LineAssembler struct {
	buf []byte
}

// Feed appends chunk to the pending buffer and returns the lines it
// completes. The bytes are buffered before Feed returns, so a caller that
// stops ranging early loses nothing: the remaining lines are yielded by the
// next Feed. Lines are trimmed and decoded as UTF-8 with invalid bytes
// dropped; blank lines are skipped.
func (a *LineAssembler) Feed(chunk []byte) iter.Seq[string] {
	a.buf = append(a.buf, chunk...)
	return func(yield func(string) bool) {
		for {
			raw, ok := a.next()
			if !ok {
				return
			}
			line := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

func (a *LineAssembler) next() ([]byte, bool) {
	i := bytes.IndexByte(a.buf, '\n')
	switch {
	case i >= 0:
		line := bytes.Clone(a.buf[:i])
		a.buf = a.buf[i+1:]
		return line, true
	case len(a.buf) > maxLineLength:
		line := bytes.Clone(a.buf[:maxLineLength])
		a.buf = a.buf[maxLineLength:]
		return line, true
	default:
		return nil, false
	}
}
