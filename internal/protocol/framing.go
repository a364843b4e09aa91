package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultMaxRecordSize bounds one inbound record when no limit is given.
const DefaultMaxRecordSize = 4096

// Reader splits a byte stream into escaped records. Bytes following an
// escape byte are taken literally, so an escaped terminator does not end
// the record.
type Reader struct {
	r       *bufio.Reader
	maxSize int
}

// NewReader wraps r. maxSize <= 0 selects DefaultMaxRecordSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	return &Reader{r: bufio.NewReaderSize(r, 4096), maxSize: maxSize}
}

// ReadRecord returns the next record with escapes preserved and the
// terminator removed.
//
// Postcondition: Returns a record, an I/O error from the underlying reader
// (including io.EOF), or an error wrapping ErrProtocol if the record
// exceeds the size bound.
func (r *Reader) ReadRecord() ([]byte, error) {
	var (
		record  []byte
		escaped bool
	)
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if !escaped && c == Terminator {
			return record, nil
		}
		escaped = !escaped && c == Escape
		record = append(record, c)
		if len(record) > r.maxSize {
			return nil, fmt.Errorf("%w: record exceeds %d bytes", ErrProtocol, r.maxSize)
		}
	}
}

// ReadMessage reads the next record and decodes it against c.
func (r *Reader) ReadMessage(c Catalog) (Message, error) {
	record, err := r.ReadRecord()
	if err != nil {
		return Message{}, err
	}
	return c.Decode(record)
}

// WriteMessage encodes m and writes the record to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}
