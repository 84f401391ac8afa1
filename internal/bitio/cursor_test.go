package bitio

import (
	"errors"
	"testing"
)

func TestReadUintAcrossByteBoundary(t *testing.T) {
	// 0xAB 0xCD == 1010 1011 1100 1101
	buf := []byte{0xAB, 0xCD}
	c := New(buf)

	v, err := c.ReadUint(4)
	if err != nil || v != 0xA {
		t.Fatalf("first nibble: got %x, %v", v, err)
	}
	v, err = c.ReadUint(8)
	if err != nil || v != 0xBC {
		t.Fatalf("middle byte: got %x, %v", v, err)
	}
	v, err = c.ReadUint(4)
	if err != nil || v != 0xD {
		t.Fatalf("last nibble: got %x, %v", v, err)
	}
	if !c.AtEnd() {
		t.Fatalf("expected cursor at end")
	}
}

func TestReadUintFullWidth(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	c := New(buf)
	v, err := c.ReadUint(64)
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(0x0102030405060708)
	if v != want {
		t.Fatalf("got %x want %x", v, want)
	}
}

func TestReadIntSignExtension(t *testing.T) {
	// 5-bit field, value 0b10001 == -15 in two's complement.
	buf := []byte{0b10001_000}
	c := New(buf)
	v, err := c.ReadInt(5)
	if err != nil {
		t.Fatal(err)
	}
	if v != -15 {
		t.Fatalf("got %d want -15", v)
	}
}

func TestReadIntPositive(t *testing.T) {
	buf := []byte{0b01111_000}
	c := New(buf)
	v, err := c.ReadInt(5)
	if err != nil {
		t.Fatal(err)
	}
	if v != 15 {
		t.Fatalf("got %d want 15", v)
	}
}

func TestTruncated(t *testing.T) {
	buf := []byte{0xFF}
	c := New(buf)
	_, err := c.ReadUint(9)
	var te *TruncatedError
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if te.Want != 9 || te.Have != 8 {
		t.Fatalf("unexpected truncated fields: %+v", te)
	}
	// cursor must not have moved
	if c.BitPos() != 0 {
		t.Fatalf("cursor moved on failed read")
	}
}

func TestPeekBit(t *testing.T) {
	buf := []byte{0b10000001}
	c := New(buf)
	b, err := c.PeekBit(0)
	if err != nil || !b {
		t.Fatalf("bit 0 should be set: %v %v", b, err)
	}
	b, err = c.PeekBit(7)
	if err != nil || !b {
		t.Fatalf("bit 7 should be set: %v %v", b, err)
	}
	b, err = c.PeekBit(3)
	if err != nil || b {
		t.Fatalf("bit 3 should be clear: %v %v", b, err)
	}
	if c.BitPos() != 0 {
		t.Fatalf("PeekBit must not move cursor")
	}
}

func TestReadBytesAndByteAlignment(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	c := New(buf)
	if _, err := c.ReadUint(4); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadByte(); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
	if _, err := c.ReadBytes(1); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}

	c2 := New(buf)
	b, err := c2.ReadByte()
	if err != nil || b != 1 {
		t.Fatalf("got %d, %v", b, err)
	}
	rest, err := c2.ReadBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0] != 2 || rest[1] != 3 {
		t.Fatalf("unexpected bytes: %v", rest)
	}
	if c2.ByteOffset() != 3 {
		t.Fatalf("expected byte offset 3, got %d", c2.ByteOffset())
	}
}

func TestAdvanceBounds(t *testing.T) {
	c := New([]byte{0x00})
	if err := c.Advance(8); err != nil {
		t.Fatal(err)
	}
	if err := c.Advance(1); err == nil {
		t.Fatalf("expected truncated error advancing past end")
	}
}
