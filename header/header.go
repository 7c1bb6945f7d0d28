// Package header implements the OBEX header codec: encoding and decoding of
// the four typed header chunk shapes, dispatched by the top two bits of the
// header identifier byte.
//
//	ID top 2 bits   payload                                  length field
//	00              UTF-16BE text, NUL-terminated            16-bit, follows ID
//	01              opaque byte string                       16-bit, follows ID
//	10              single byte                               none (2-byte chunk)
//	11              4-byte big-endian integer                 none (5-byte chunk)
//
// Headers whose ID is outside the known set still round-trip exactly: they
// decode to the same Header type, carrying the raw ID and payload, and
// re-encode byte-for-byte.
package header

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/boddie-obex/obex/obexerr"
)

// ID identifies both the meaning and wire encoding of a header (via its top
// two bits).
type ID byte

// Known header identifiers. Any other ID still decodes correctly via its
// top-two-bit kind, just without one of these names attached.
const (
	Name           ID = 0x01
	Description    ID = 0x05
	Type           ID = 0x42
	Time           ID = 0x44
	Target         ID = 0x46
	HTTP           ID = 0x47
	Body           ID = 0x48
	EndOfBody      ID = 0x49
	Who            ID = 0x4A
	AppParameters  ID = 0x4C
	AuthChallenge  ID = 0x4D
	AuthResponse   ID = 0x4E
	ObjectClass    ID = 0x51
	Count          ID = 0xC0
	Length         ID = 0xC3
	ConnectionID   ID = 0xCB
)

// Kind is the wire encoding an ID's top two bits select.
type Kind int

const (
	KindText Kind = iota
	KindBytes
	KindByte
	KindUint32
)

// KindOf returns the wire encoding kind for an identifier, derived from its
// top two bits.
func KindOf(id ID) Kind {
	switch id & 0xc0 {
	case 0x00:
		return KindText
	case 0x40:
		return KindBytes
	case 0x80:
		return KindByte
	default: // 0xc0
		return KindUint32
	}
}

// Header is a decoded typed header chunk. Raw holds exactly the payload
// bytes (excluding the ID byte and, where present, the 16-bit length
// field): for KindText, the UTF-16BE bytes including their trailing
// two-byte NUL; for KindBytes, the opaque payload as supplied; for
// KindByte, the single payload byte; for KindUint32, the four big-endian
// payload bytes.
//
// Unknown IDs are represented with exactly the same struct, so they
// round-trip through Decode/Encode without any special casing.
type Header struct {
	ID  ID
	Raw []byte
}

// Text decodes a KindText header's payload as a Go string, stripping the
// trailing UTF-16BE NUL terminator.
func (h Header) Text() (string, error) {
	if KindOf(h.ID) != KindText {
		return "", &obexerr.MalformedHeader{ID: byte(h.ID), Reason: "not a text header"}
	}
	if len(h.Raw)%2 != 0 {
		return "", &obexerr.MalformedHeader{ID: byte(h.ID), Reason: "odd-length UTF-16BE payload"}
	}
	units := make([]uint16, 0, len(h.Raw)/2)
	for i := 0; i+1 < len(h.Raw); i += 2 {
		units = append(units, binary.BigEndian.Uint16(h.Raw[i:i+2]))
	}
	// Drop a single trailing NUL code unit (the two-byte NUL terminator),
	// if present, so callers get the logical string without it.
	if len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units)), nil
}

// Bytes returns a KindBytes header's raw payload.
func (h Header) Bytes() ([]byte, error) {
	if KindOf(h.ID) != KindBytes {
		return nil, &obexerr.MalformedHeader{ID: byte(h.ID), Reason: "not a byte-string header"}
	}
	return h.Raw, nil
}

// Byte returns a KindByte header's single payload byte.
func (h Header) Byte() (byte, error) {
	if KindOf(h.ID) != KindByte || len(h.Raw) != 1 {
		return 0, &obexerr.MalformedHeader{ID: byte(h.ID), Reason: "not a 1-byte header"}
	}
	return h.Raw[0], nil
}

// Uint32 returns a KindUint32 header's 4-byte big-endian payload.
func (h Header) Uint32() (uint32, error) {
	if KindOf(h.ID) != KindUint32 || len(h.Raw) != 4 {
		return 0, &obexerr.MalformedHeader{ID: byte(h.ID), Reason: "not a 4-byte header"}
	}
	return binary.BigEndian.Uint32(h.Raw), nil
}

// Len returns the number of bytes this header occupies on the wire: the ID
// byte, any length field, and the payload.
func (h Header) Len() int {
	switch KindOf(h.ID) {
	case KindText, KindBytes:
		return 3 + len(h.Raw)
	case KindByte:
		return 2
	default: // KindUint32
		return 5
	}
}

// NewName builds a Name header from a logical string, encoding it as
// NUL-terminated UTF-16BE.
func NewName(s string) Header {
	return newText(Name, s)
}

// NewDescription builds a Description header from a logical string.
func NewDescription(s string) Header {
	return newText(Description, s)
}

func newText(id ID, s string) Header {
	units := utf16.Encode([]rune(s))
	raw := make([]byte, len(units)*2+2)
	for i, u := range units {
		binary.BigEndian.PutUint16(raw[i*2:i*2+2], u)
	}
	// Trailing two-byte NUL, already zeroed by make.
	return Header{ID: id, Raw: raw}
}

// NewType builds a Type header. The value must end in a NUL byte; one is
// appended here if the caller didn't supply it. This padding happens only
// on encode — decode returns whatever bytes the peer actually sent, NUL or
// not, so a peer that omits the terminator still round-trips.
func NewType(data []byte) Header {
	if len(data) == 0 || data[len(data)-1] != 0x00 {
		data = append(append([]byte{}, data...), 0x00)
	}
	return Header{ID: Type, Raw: data}
}

// NewBytes builds any KindBytes header (Time, Target, HTTP, Body,
// End-Of-Body, Who, App-Parameters, Auth-Challenge, Auth-Response,
// Object-Class, or a caller-defined opaque ID) from raw payload bytes.
func NewBytes(id ID, data []byte) Header {
	return Header{ID: id, Raw: data}
}

// NewByte builds a KindByte header.
func NewByte(id ID, value byte) Header {
	return Header{ID: id, Raw: []byte{value}}
}

// NewUint32 builds any KindUint32 header (Count, Length, Connection-ID, or
// a caller-defined 4-byte ID) from a uint32 value.
func NewUint32(id ID, value uint32) Header {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, value)
	return Header{ID: id, Raw: raw}
}

// Encode produces a header chunk's complete on-wire bytes: ID, any length
// field, and payload.
func Encode(h Header) []byte {
	switch KindOf(h.ID) {
	case KindText, KindBytes:
		buf := make([]byte, 3+len(h.Raw))
		buf[0] = byte(h.ID)
		binary.BigEndian.PutUint16(buf[1:3], uint16(3+len(h.Raw)))
		copy(buf[3:], h.Raw)
		return buf
	case KindByte:
		return []byte{byte(h.ID), h.Raw[0]}
	default: // KindUint32
		buf := make([]byte, 5)
		buf[0] = byte(h.ID)
		copy(buf[1:], h.Raw)
		return buf
	}
}

// Decode reads one header chunk from the front of data, dispatching on the
// ID byte's top two bits. It returns the decoded header and the number of
// bytes consumed.
func Decode(data []byte) (Header, int, error) {
	if len(data) < 1 {
		return Header{}, 0, &obexerr.MalformedHeader{Reason: "empty header data"}
	}
	id := ID(data[0])
	switch KindOf(id) {
	case KindText, KindBytes:
		if len(data) < 3 {
			return Header{}, 0, &obexerr.MalformedHeader{ID: byte(id), Reason: "truncated length field"}
		}
		length := int(binary.BigEndian.Uint16(data[1:3]))
		if length < 3 {
			return Header{}, 0, &obexerr.MalformedHeader{ID: byte(id), Reason: "length field shorter than minimum chunk size"}
		}
		if length-3 > len(data)-3 {
			return Header{}, 0, &obexerr.MalformedHeader{ID: byte(id), Reason: "length extends past packet body"}
		}
		raw := make([]byte, length-3)
		copy(raw, data[3:length])
		return Header{ID: id, Raw: raw}, length, nil
	case KindByte:
		if len(data) < 2 {
			return Header{}, 0, &obexerr.MalformedHeader{ID: byte(id), Reason: "truncated 1-byte payload"}
		}
		return Header{ID: id, Raw: []byte{data[1]}}, 2, nil
	default: // KindUint32
		if len(data) < 5 {
			return Header{}, 0, &obexerr.MalformedHeader{ID: byte(id), Reason: "truncated 4-byte payload"}
		}
		raw := make([]byte, 4)
		copy(raw, data[1:5])
		return Header{ID: id, Raw: raw}, 5, nil
	}
}

// DecodeAll decodes every header chunk in data, in order, failing on the
// first malformed chunk.
func DecodeAll(data []byte) ([]Header, error) {
	var out []Header
	i := 0
	for i < len(data) {
		h, n, err := Decode(data[i:])
		if err != nil {
			return nil, err
		}
		out = append(out, h)
		i += n
	}
	return out, nil
}
