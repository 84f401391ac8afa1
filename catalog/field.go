// Package catalog holds the immutable, metadata-only description of an
// ASTERIX category set — field layouts, UAPs, and the sparse catalogue that
// maps category id to Category — together with the FormatStrategy variants
// (Fixed, Variable, Repetitive, Compound, Explicit, BDS,
// ReservedExpansion) that know how to parse them. The two live in one
// package because a Strategy is built directly out of FieldDescriptor and
// BDS dispatch needs to look back into the enclosing Catalogue's
// pseudo-category-256; splitting them would force an import cycle.
//
// Everything in this package is built once (typically by
// [github.com/flightwatch/asterix/internal/catalogxml]) and read many times
// concurrently; nothing here is mutated after construction.
package catalog

import "fmt"

// Encoding identifies how a FieldDescriptor's raw bits are interpreted.
type Encoding int

const (
	Unsigned Encoding = iota
	SignedTwosComplement
	ASCII
	OctalDigits
	HexBytes
	SpecialTime
)

// Scale is a rational multiplier applied to a field's raw integer value to
// produce its engineering-unit value, e.g. 1/128 NM encoded as {Num: 1,
// Den: 128}. A zero-value Scale (Den == 0) means "no scaling" — the raw
// value is the value.
type Scale struct {
	Num float64
	Den float64
}

// Apply multiplies raw by the scale factor, or returns raw unchanged when
// the scale is the zero value.
func (s Scale) Apply(raw float64) float64 {
	if s.Den == 0 {
		return raw
	}
	return raw * s.Num / s.Den
}

// FieldDescriptor is the immutable metadata for one named field within a
// Fixed or FixedPart layout.
type FieldDescriptor struct {
	ShortName string
	LongName  string

	// BitFrom and BitTo are inclusive bit offsets within the enclosing
	// item, MSB-first notation (BitFrom >= BitTo). Width is
	// BitFrom-BitTo+1.
	BitFrom int
	BitTo   int

	Encoding Encoding
	Scale    Scale
	Unit     string

	// Enum maps a raw unsigned value to a display label. Nil if the field
	// has no enumerated values.
	Enum map[uint64]string

	// FilterTag is the string used to match this field against a Filter,
	// e.g. "I048/040.RHO".
	FilterTag string
}

// Width returns the field's bit width.
func (f FieldDescriptor) Width() int { return f.BitFrom - f.BitTo + 1 }

// Validate checks the invariants from spec.md §3: width bounds for the
// encoding, and that BitFrom >= BitTo.
func (f FieldDescriptor) Validate() error {
	if f.BitFrom < f.BitTo {
		return fmt.Errorf("catalog: field %q: bit_from %d < bit_to %d", f.ShortName, f.BitFrom, f.BitTo)
	}
	w := f.Width()
	switch f.Encoding {
	case Unsigned, SignedTwosComplement:
		if w < 1 || w > 64 {
			return fmt.Errorf("catalog: field %q: width %d out of range for integer encoding", f.ShortName, w)
		}
	case ASCII, HexBytes:
		if w%8 != 0 {
			return fmt.Errorf("catalog: field %q: width %d not a multiple of 8", f.ShortName, w)
		}
	}
	return nil
}
