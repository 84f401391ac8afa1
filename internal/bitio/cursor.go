// Package bitio implements a bounds-checked, big-endian bit cursor over a
// borrowed byte slice. It is the lowest-level building block of the ASTERIX
// decoder: every field extraction, FSPEC walk, and length prefix ultimately
// goes through a Cursor.
//
// A Cursor never panics and never reads past the end of its underlying
// slice; out-of-range reads return a [TruncatedError] instead. Bit 7 of byte
// 0 is the most significant bit of the buffer (MSB-first / "network" bit
// order), matching the ASTERIX wire format.
package bitio

import "fmt"

// TruncatedError is returned when a read would consume more bits than remain
// in the underlying buffer.
type TruncatedError struct {
	// Want is the number of bits the caller requested.
	Want int
	// Have is the number of bits actually remaining from the cursor's
	// current position to the end of the buffer.
	Have int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("bitio: truncated read: want %d bits, have %d", e.Want, e.Have)
}

// Cursor is a cheap-to-copy read position into a borrowed byte slice.
//
// The zero value is not usable; construct with [New]. Cursor holds no
// mutable state beyond its read position, so a copy is cheap and reads
// independently of the original; code that must advance one shared read
// position (such as catalog.Strategy.Parse) passes a *Cursor.
type Cursor struct {
	buf []byte
	// bitPos is the absolute bit offset from the start of buf, counting
	// from the MSB of buf[0]. bitPos/8 is the byte offset; bitPos%8 is the
	// bit offset within that byte (0 == MSB).
	bitPos int
}

// New returns a Cursor positioned at the start of buf. The returned Cursor
// borrows buf; it must not be mutated while the Cursor (or any value read
// from it via [Cursor.Bytes]) is in use.
func New(buf []byte) Cursor {
	return Cursor{buf: buf}
}

// NewAt returns a Cursor positioned at the given byte offset within buf.
func NewAt(buf []byte, byteOffset int) Cursor {
	return Cursor{buf: buf, bitPos: byteOffset * 8}
}

// BitPos returns the cursor's current absolute bit position.
func (c Cursor) BitPos() int { return c.bitPos }

// ByteOffset returns the cursor's current byte offset, rounded down. A
// non-zero BitOffset means the cursor sits mid-byte.
func (c Cursor) ByteOffset() int { return c.bitPos / 8 }

// BitOffset returns the cursor's bit offset within its current byte, 0..7,
// where 0 is the MSB.
func (c Cursor) BitOffset() int { return c.bitPos % 8 }

// Len returns the total bit length of the underlying buffer.
func (c Cursor) Len() int { return len(c.buf) * 8 }

// Remaining returns the number of bits left to read.
func (c Cursor) Remaining() int { return c.Len() - c.bitPos }

// AtEnd reports whether the cursor has consumed every bit of the buffer.
func (c Cursor) AtEnd() bool { return c.bitPos >= c.Len() }

// Advance moves the cursor forward by n bits without reading them. It fails
// with a [TruncatedError] (and leaves the cursor unmoved) if n exceeds the
// remaining bits.
func (c *Cursor) Advance(n int) error {
	if n < 0 {
		return fmt.Errorf("bitio: negative advance %d", n)
	}
	if n > c.Remaining() {
		return &TruncatedError{Want: n, Have: c.Remaining()}
	}
	c.bitPos += n
	return nil
}

// ReadUint reads the next width bits (1..64) MSB-first as an unsigned
// integer and advances the cursor. On failure the cursor is left unmoved.
func (c *Cursor) ReadUint(width int) (uint64, error) {
	if width < 1 || width > 64 {
		return 0, fmt.Errorf("bitio: invalid width %d", width)
	}
	if width > c.Remaining() {
		return 0, &TruncatedError{Want: width, Have: c.Remaining()}
	}

	var result uint64
	remaining := width
	pos := c.bitPos

	for remaining > 0 {
		byteIdx := pos / 8
		bitInByte := pos % 8          // 0 == MSB
		avail := 8 - bitInByte        // bits left in this byte
		take := avail
		if take > remaining {
			take = remaining
		}

		b := c.buf[byteIdx]
		// Shift so the bits we want sit in the low `take` bits, then mask.
		shift := avail - take
		chunk := (b >> uint(shift)) & ((1 << uint(take)) - 1)

		result = (result << uint(take)) | uint64(chunk)
		remaining -= take
		pos += take
	}

	c.bitPos += width
	return result, nil
}

// ReadInt reads the next width bits (1..64) MSB-first as a two's-complement
// signed integer, sign-extending from bit width-1, and advances the cursor.
func (c *Cursor) ReadInt(width int) (int64, error) {
	u, err := c.ReadUint(width)
	if err != nil {
		return 0, err
	}
	if width == 64 {
		return int64(u), nil
	}
	signBit := uint64(1) << uint(width-1)
	if u&signBit != 0 {
		u -= signBit << 1
	}
	return int64(u), nil
}

// PeekBit reports the value of the single bit at the given absolute bit
// offset without moving the cursor. It fails if offset is out of range.
func (c Cursor) PeekBit(offset int) (bool, error) {
	if offset < 0 || offset >= c.Len() {
		return false, &TruncatedError{Want: 1, Have: c.Len() - offset}
	}
	byteIdx := offset / 8
	bitInByte := offset % 8
	return c.buf[byteIdx]&(1<<uint(7-bitInByte)) != 0, nil
}

// ReadByte reads one byte-aligned byte and advances the cursor by 8 bits.
// It fails with [ErrUnaligned] if the cursor is not currently byte-aligned.
func (c *Cursor) ReadByte() (byte, error) {
	if c.bitPos%8 != 0 {
		return 0, ErrUnaligned
	}
	v, err := c.ReadUint(8)
	return byte(v), err
}

// ErrUnaligned is returned by byte-aligned helpers when the cursor's
// current position is not a multiple of 8 bits.
var ErrUnaligned = fmt.Errorf("bitio: cursor is not byte-aligned")

// ReadBytes reads n byte-aligned bytes and returns a borrowed sub-slice of
// the underlying buffer. The slice is only valid as long as the buffer
// passed to [New] remains unmodified.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if c.bitPos%8 != 0 {
		return nil, ErrUnaligned
	}
	if n < 0 {
		return nil, fmt.Errorf("bitio: negative length %d", n)
	}
	need := n * 8
	if need > c.Remaining() {
		return nil, &TruncatedError{Want: need, Have: c.Remaining()}
	}
	start := c.bitPos / 8
	c.bitPos += need
	return c.buf[start : start+n], nil
}

// Bytes returns the bytes from the cursor's current byte offset to the end
// of the underlying buffer, without advancing. The cursor must be
// byte-aligned.
func (c Cursor) Bytes() []byte {
	return c.buf[c.bitPos/8:]
}
