package gpt

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
)

const maxNameCodeUnits = 36

// guidToBytes converts the canonical string form into the on-disk mixed-endian
// layout: the first three fields little-endian, the remaining eight bytes as is.
func guidToBytes(s string) ([]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return []byte{
		u[3], u[2], u[1], u[0],
		u[5], u[4],
		u[7], u[6],
		u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15],
	}, nil
}

// bytesToGUID is the inverse of guidToBytes, returning the uppercase
// canonical string.
func bytesToGUID(b []byte) string {
	var u uuid.UUID
	copy(u[:], []byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
	})
	copy(u[8:], b[8:16])
	return strings.ToUpper(u.String())
}

// newGUID returns a fresh random GUID in canonical uppercase form
func newGUID() string {
	return strings.ToUpper(uuid.NewString())
}

// encodeName returns the 72-byte UTF-16LE name field
func encodeName(name string) ([]byte, error) {
	units := utf16.Encode([]rune(name))
	if len(units) > maxNameCodeUnits {
		return nil, fmt.Errorf("cannot use %s as partition name, has %d Unicode code units, maximum size is %d", name, len(units), maxNameCodeUnits)
	}
	b := make([]byte, maxNameCodeUnits*2)
	for i, u := range units {
		b[2*i] = byte(u)
		b[2*i+1] = byte(u >> 8)
	}
	return b, nil
}

// decodeName reads a UTF-16LE name field up to the first NUL
func decodeName(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
