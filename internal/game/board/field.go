package board

import (
	"errors"
	"fmt"
)

// Size is the edge length of the square board.
const Size = 10

// ErrInvalidField is returned when a field string cannot be decoded.
var ErrInvalidField = errors.New("invalid field")

// Field addresses one cell of the board.
type Field struct {
	Row int
	Col int
}

// InBounds reports whether f lies on the board.
func (f Field) InBounds() bool {
	return f.Row >= 0 && f.Row < Size && f.Col >= 0 && f.Col < Size
}

// String encodes f as a row digit followed by a column digit.
//
// Precondition: f.InBounds().
func (f Field) String() string {
	return string([]byte{byte('0' + f.Row), byte('0' + f.Col)})
}

func (f Field) index() int {
	return f.Row*Size + f.Col
}

// ParseField decodes a two-digit field string.
//
// Postcondition: Returns an in-bounds Field, or an error wrapping ErrInvalidField.
func ParseField(s string) (Field, error) {
	if len(s) != 2 {
		return Field{}, fmt.Errorf("%w: %q must be two digits", ErrInvalidField, s)
	}
	f := Field{Row: int(s[0]) - '0', Col: int(s[1]) - '0'}
	if !f.InBounds() {
		return Field{}, fmt.Errorf("%w: %q is off the board", ErrInvalidField, s)
	}
	return f, nil
}
