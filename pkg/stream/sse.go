package stream

import (
	"bufio"
	"io"
	"strings"
)

// Block is one parsed unit of the push protocol: a group of lines
// terminated by a blank line. Only blocks carrying at least one
// data: line are dispatchable.
type Block struct {
	// Event is the optional event: field ("reset" signals a full
	// resync).
	Event string
	// ID is the optional transport-level cursor for this block.
	ID string
	// Data is the payload, multiple data: lines rejoined with \n.
	// Empty means the block yields nothing.
	Data string
}

// Dispatchable reports whether the block carried any data lines.
func (b *Block) Dispatchable() bool {
	return b.Data != ""
}

// Scanner incrementally parses the line-delimited push protocol from
// a continuous byte stream. Lines starting with ':' are comments and
// ignored; unknown fields are skipped.
type Scanner struct {
	sc *bufio.Scanner
}

// NewScanner wraps r. The line buffer is sized generously because
// event metadata can be large.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	sc.Buffer(buf, 512*1024)
	return &Scanner{sc: sc}
}

// Next returns the next complete block, or io.EOF when the stream
// ends. A trailing block not terminated by a blank line is still
// returned before EOF.
func (s *Scanner) Next() (*Block, error) {
	var (
		block    Block
		data     []string
		sawField bool
	)

	for s.sc.Scan() {
		line := s.sc.Text()

		if line == "" {
			if !sawField {
				// Consecutive blank lines between blocks.
				continue
			}
			block.Data = strings.Join(data, "\n")
			return &block, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			block.Event = value
			sawField = true
		case "id":
			block.ID = value
			sawField = true
		case "data":
			data = append(data, value)
			sawField = true
		default:
			// Unknown field, per the protocol: ignore.
		}
	}

	if err := s.sc.Err(); err != nil {
		return nil, err
	}
	if sawField {
		block.Data = strings.Join(data, "\n")
		return &block, nil
	}
	return nil, io.EOF
}

// splitField separates "field: value" lines. A single space after
// the colon is stripped; further whitespace is payload.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
