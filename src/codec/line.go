// Package codec frames newline-delimited JSON messages over a byte stream.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/wearlink/src/types"
)

// MaxLineLength bounds a single buffered line. A peer that never sends a
// newline cannot grow the buffer past this.
const MaxLineLength = 64 * 1024

// ErrMalformed marks a line that is not a JSON object.
var ErrMalformed = errors.New("codec: malformed message")

// Encode serializes msg followed by exactly one newline. encoding/json
// escapes control characters, so the body never contains a raw newline.
func Encode(msg types.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", msg.Type, err)
	}
	return append(data, '\n'), nil
}

// Parse decodes one raw line into a Message.
func Parse(line []byte) (types.Message, error) {
	var msg types.Message
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return msg, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// LineBuffer splits a stream of chunks into lines, carrying a partial
// trailing line over to the next chunk. Not safe for concurrent use.
type LineBuffer struct {
	buf        []byte
	overflowed int
	// discarding skips the remainder of an oversized line up to its newline.
	discarding bool
}

// Feed appends chunk and returns every complete line it finished.
// Returned lines are trimmed of surrounding whitespace; blank lines are
// skipped. The returned slices do not alias the internal buffer.
func (b *LineBuffer) Feed(chunk []byte) [][]byte {
	if b.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil
		}
		chunk = chunk[i+1:]
		b.discarding = false
	}
	b.buf = append(b.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(b.buf[:i])
		b.buf = b.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		if len(line) > MaxLineLength {
			b.overflowed++
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}

	if len(b.buf) > MaxLineLength {
		b.overflowed++
		b.buf = nil
		b.discarding = true
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Pending returns the number of buffered bytes awaiting a newline.
func (b *LineBuffer) Pending() int { return len(b.buf) }

// Overflowed returns how many oversized lines were discarded.
func (b *LineBuffer) Overflowed() int { return b.overflowed }

// Reset drops any buffered partial line.
func (b *LineBuffer) Reset() {
	b.buf = nil
	b.overflowed = 0
	b.discarding = false
}
