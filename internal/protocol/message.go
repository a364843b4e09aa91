package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Framing bytes.
const (
	Delimiter  byte = '|'
	Escape     byte = '\\'
	Terminator byte = '\n'
)

// ErrProtocol is returned for malformed records, unknown types, wrong
// parameter counts and types that are not acceptable in the current state.
var ErrProtocol = errors.New("protocol violation")

// Message is a type tag plus an ordered list of string parameters.
// A Message is treated as immutable once built.
type Message struct {
	Type   MessageType
	Params []string
}

// New builds a Message from a type and its parameters.
func New(t MessageType, params ...string) Message {
	if len(params) == 0 {
		return Message{Type: t}
	}
	p := make([]string, len(params))
	copy(p, params)
	return Message{Type: t, Params: p}
}

// Param returns the i-th parameter, or "" when out of range.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// String returns the unterminated wire form, for logging.
func (m Message) String() string {
	b := Encode(m)
	return string(b[:len(b)-1])
}

// Encode serializes m into one terminated record. Escape, delimiter and
// terminator bytes inside parameters are prefixed with the escape byte.
//
// Postcondition: The result ends with exactly one unescaped Terminator.
func Encode(m Message) []byte {
	var buf bytes.Buffer
	buf.WriteString(m.Type.String())
	for _, p := range m.Params {
		buf.WriteByte(Delimiter)
		for i := 0; i < len(p); i++ {
			c := p[i]
			if c == Escape || c == Delimiter || c == Terminator {
				buf.WriteByte(Escape)
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(Terminator)
	return buf.Bytes()
}

// split unescapes a record and splits it on unescaped delimiters. A single
// trailing unescaped terminator is tolerated.
func split(record []byte) ([]string, error) {
	var (
		segments []string
		seg      strings.Builder
		escaped  bool
	)
	for i := 0; i < len(record); i++ {
		c := record[i]
		if escaped {
			seg.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case Escape:
			escaped = true
		case Delimiter:
			segments = append(segments, seg.String())
			seg.Reset()
		case Terminator:
			if i != len(record)-1 {
				return nil, fmt.Errorf("%w: unescaped terminator inside record", ErrProtocol)
			}
		default:
			seg.WriteByte(c)
		}
	}
	if escaped {
		return nil, fmt.Errorf("%w: dangling escape at end of record", ErrProtocol)
	}
	return append(segments, seg.String()), nil
}

// Decode parses one inbound record against the catalog.
//
// Postcondition: Returns a Message whose type is in c and whose parameter
// count equals the declared arity, or an error wrapping ErrProtocol.
func (c Catalog) Decode(record []byte) (Message, error) {
	segments, err := split(record)
	if err != nil {
		return Message{}, err
	}
	t, ok := ParseType(segments[0])
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, segments[0])
	}
	arity, ok := c.Arity(t)
	if !ok {
		return Message{}, fmt.Errorf("%w: message type %s is not accepted from clients", ErrProtocol, t)
	}
	params := segments[1:]
	if len(params) != arity {
		return Message{}, fmt.Errorf("%w: %s expects %d parameters, got %d", ErrProtocol, t, arity, len(params))
	}
	if len(params) == 0 {
		params = nil
	}
	return Message{Type: t, Params: params}, nil
}

// Decode parses one inbound record against the default catalog.
func Decode(record []byte) (Message, error) {
	return DefaultCatalog().Decode(record)
}

// DecodeAny parses a record of any known type without checking arity.
// Clients use it to read server output.
func DecodeAny(record []byte) (Message, error) {
	segments, err := split(record)
	if err != nil {
		return Message{}, err
	}
	t, ok := ParseType(segments[0])
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, segments[0])
	}
	params := segments[1:]
	if len(params) == 0 {
		params = nil
	}
	return Message{Type: t, Params: params}, nil
}
