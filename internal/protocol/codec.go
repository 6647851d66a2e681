// Package protocol implements the parts of the Minecraft Java Edition wire
// protocol a lobby-less game server needs before play: framing, the
// handshake, the status/ping exchange and login start/disconnect.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// MaxVarIntLen is the longest encoding of a 32-bit VarInt.
	MaxVarIntLen = 5

	// MaxStringLen is the longest protocol string, in characters.
	MaxStringLen = 32767
)

// ErrVarIntTooBig is returned when a VarInt runs past five bytes.
var ErrVarIntTooBig = errors.New("VarInt too big")

// ReadVarInt reads a little-endian base-128 signed 32-bit integer.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var value uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		// The fifth byte carries only the top four bits.
		if i == MaxVarIntLen-1 && b&0x70 != 0 {
			return 0, ErrVarIntTooBig
		}
		value |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(value), nil
		}
	}
	return 0, ErrVarIntTooBig
}

// AppendVarInt appends the VarInt encoding of v to buf.
func AppendVarInt(buf []byte, v int32) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(buf, byte(u))
		}
		buf = append(buf, byte(u&0x7F|0x80))
		u >>= 7
	}
}

// VarIntLen returns the encoded size of v.
func VarIntLen(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadString reads a VarInt-prefixed UTF-8 string of at most maxLen characters.
func ReadString(r Reader, maxLen int) (string, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative string length %d", n)
	}
	// A character takes at most 3 bytes in the protocol's UTF-8.
	if int(n) > maxLen*3 {
		return "", fmt.Errorf("string length %d exceeds maximum %d", n, maxLen*3)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("string is not valid UTF-8")
	}
	if count := utf8.RuneCount(buf); count > maxLen {
		return "", fmt.Errorf("string has %d characters, maximum is %d", count, maxLen)
	}
	return string(buf), nil
}

// AppendString appends a VarInt-prefixed string.
func AppendString(buf []byte, s string) []byte {
	buf = AppendVarInt(buf, int32(len(s)))
	return append(buf, s...)
}

// ReadUint16 reads a big-endian unsigned short.
func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadInt64 reads a big-endian long.
func ReadInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// AppendUint16 appends a big-endian unsigned short.
func AppendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

// AppendInt64 appends a big-endian long.
func AppendInt64(buf []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(v))
}

// Reader is what the decoders need from a payload.
type Reader interface {
	io.Reader
	io.ByteReader
}
