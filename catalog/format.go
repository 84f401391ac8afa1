package catalog

import (
	"fmt"

	"github.com/flightwatch/asterix/internal/bitio"
	"github.com/flightwatch/asterix/tree"
)

// ParseError is returned by a Strategy's Parse method when the item cannot
// be decoded. Errors never unwind past the record decoder: the record
// decoder converts every ParseError into a [tree.Message] and aborts the
// current record (see spec.md §7).
type ParseError struct {
	Code string // machine-stable identifier, e.g. "Truncated"
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func errTruncated(want, have int) error {
	return &ParseError{Code: "Truncated", Msg: fmt.Sprintf("want %d bits, have %d", want, have)}
}

// Strategy is the capability every item format implements: parse one item's
// worth of bytes from cur and return the subtree plus the number of bytes
// consumed. Strategy implementations never share an interface with
// [UAPEntry] (spec.md §9) — they are purely "parse(cursor) -> subtree".
type Strategy interface {
	// Parse decodes one occurrence of the item starting at cur's current
	// (byte-aligned) position. byteOffset is the absolute byte offset of
	// cur's position within the original decode buffer, used only to stamp
	// tree nodes.
	Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error)
}

// extractField reads one FieldDescriptor's bits out of item (the raw bytes
// of the enclosing Fixed/FixedPart) and returns the Leaf. itemByteOffset is
// the absolute byte offset of item[0] within the decode buffer.
func extractField(item []byte, f FieldDescriptor, itemByteOffset int) (*tree.Leaf, error) {
	width := f.Width()
	// BitFrom/BitTo are MSB-first within the item, bit (len(item)*8 - 1) is
	// the very first bit of item[0]. Convert to an absolute bit offset from
	// the start of item.
	totalBits := len(item) * 8
	startBit := totalBits - 1 - f.BitFrom
	if startBit < 0 || f.BitTo < 0 || f.BitFrom >= totalBits {
		return nil, &ParseError{Code: "InvalidField", Msg: fmt.Sprintf("field %q bit range [%d,%d] outside item of %d bits", f.ShortName, f.BitFrom, f.BitTo, totalBits)}
	}

	cur := bitio.NewAt(item, 0)
	if err := cur.Advance(startBit); err != nil {
		return nil, err
	}

	leaf := &tree.Leaf{
		Label:      f.LongName,
		PID:        f.FilterTag,
		ByteOffset: itemByteOffset + startBit/8,
		Severity:   tree.SeverityOK,
	}
	// ByteLength is approximate for sub-byte fields; it covers the bytes
	// the field's bits touch.
	endBit := startBit + width - 1
	leaf.ByteLength = endBit/8 - startBit/8 + 1

	switch f.Encoding {
	case SignedTwosComplement:
		v, err := cur.ReadInt(width)
		if err != nil {
			return nil, err
		}
		leaf.Value = tree.Int(v)
	case ASCII:
		raw, err := cur.ReadBytes(width / 8)
		if err != nil {
			return nil, err
		}
		leaf.Value = tree.Str(string(raw))
	case HexBytes:
		raw, err := cur.ReadBytes(width / 8)
		if err != nil {
			return nil, err
		}
		leaf.Value = tree.Raw(raw)
	default: // Unsigned, OctalDigits, SpecialTime: raw unsigned value
		v, err := cur.ReadUint(width)
		if err != nil {
			return nil, err
		}
		leaf.Value = tree.Uint(v)
		if f.Enum != nil {
			if label, ok := f.Enum[v]; ok {
				leaf.ValueLabel = label
			}
		}
	}
	return leaf, nil
}

// Fixed is a fixed-length item: exactly Len bytes, decoded field by field in
// descriptor order.
type Fixed struct {
	Len    int
	Fields []FieldDescriptor
}

func (fx Fixed) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	raw, err := cur.ReadBytes(fx.Len)
	if err != nil {
		return nil, 0, errTruncated(fx.Len*8, cur.Remaining())
	}
	g := tree.NewGroup("", byteOffset)
	for _, f := range fx.Fields {
		leaf, err := extractField(raw, f, byteOffset)
		if err != nil {
			var pe *ParseError
			if ok := asParseError(err, &pe); ok {
				g.Add(&tree.Message{Severity: tree.SeverityErr, ByteOffset: byteOffset, ByteLength: fx.Len, Text: pe.Error(), Code: pe.Code})
				continue
			}
			return nil, 0, err
		}
		g.Add(leaf)
	}
	g.SetLength(fx.Len)
	return g, fx.Len, nil
}

func asParseError(err error, target **ParseError) bool {
	if pe, ok := err.(*ParseError); ok {
		*target = pe
		return true
	}
	return false
}

// FixedPart is one link in a Variable format's extension chain: a fixed
// number of bytes whose least-significant bit is the FX/extension bit.
type FixedPart struct {
	Fixed
	// FXBitFrom is the FX bit's position within this part, in the same
	// MSB-first numbering as FieldDescriptor.BitFrom. Conventionally bit 0
	// (the LSB of the part's last byte).
	FXBitFrom int
}

// Variable is a chain of FixedParts; another part is parsed iff the
// previous part's FX bit is set.
type Variable struct {
	Parts []FixedPart
}

func (v Variable) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	g := tree.NewGroup("", byteOffset)
	consumed := 0
	for i := 0; ; i++ {
		if i >= len(v.Parts) {
			return nil, 0, &ParseError{Code: "MissingExtensionFormat", Msg: "extension bit set but no further part declared"}
		}
		part := v.Parts[i]
		raw, err := cur.ReadBytes(part.Len)
		if err != nil {
			return nil, 0, errTruncated(part.Len*8, cur.Remaining())
		}
		off := byteOffset + consumed
		for _, f := range part.Fields {
			leaf, err := extractField(raw, f, off)
			if err != nil {
				var pe *ParseError
				if asParseError(err, &pe) {
					g.Add(&tree.Message{Severity: tree.SeverityErr, ByteOffset: off, ByteLength: part.Len, Text: pe.Error(), Code: pe.Code})
					continue
				}
				return nil, 0, err
			}
			g.Add(leaf)
		}
		consumed += part.Len
		totalBits := part.Len * 8
		fxStart := totalBits - 1 - part.FXBitFrom
		fxCur := bitio.NewAt(raw, 0)
		if err := fxCur.Advance(fxStart); err != nil {
			return nil, 0, &ParseError{Code: "InvalidField", Msg: "FX bit outside part"}
		}
		fxVal, err := fxCur.ReadUint(1)
		if err != nil {
			return nil, 0, err
		}
		if fxVal == 0 {
			break
		}
	}
	g.SetLength(consumed)
	return g, consumed, nil
}

// Repetitive reads a rep_len-byte unsigned element count N, then N copies
// of Element.
type Repetitive struct {
	RepLen  int // 1 or 2
	Element Fixed
}

func (r Repetitive) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	countRaw, err := cur.ReadBytes(r.RepLen)
	if err != nil {
		return nil, 0, errTruncated(r.RepLen*8, cur.Remaining())
	}
	n := 0
	for _, b := range countRaw {
		n = n<<8 | int(b)
	}

	g := tree.NewGroup(fmt.Sprintf("x%d", n), byteOffset)
	consumed := r.RepLen
	for i := 0; i < n; i++ {
		off := byteOffset + consumed
		node, used, err := r.Element.Parse(cur, off)
		if err != nil {
			return nil, 0, err
		}
		eg := node.(*tree.Group)
		eg.Label = fmt.Sprintf("#%d", i+1)
		g.Add(eg)
		consumed += used
	}
	g.SetLength(consumed)
	return g, consumed, nil
}

// CompoundSubitem holds the Strategy that parses one subitem when its
// presence bit is set. The presence-bit position is the subitem's index in
// Compound.Subitems (MSB-first within the presence FixedPart chain, FX bits
// excluded from this numbering).
type CompoundSubitem struct {
	Strategy Strategy
}

// Compound parses a Variable-style chained presence field, then the
// subitems in declared order for each set presence bit.
type Compound struct {
	Presence Variable
	Subitems []CompoundSubitem
}

func (c Compound) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	presNode, presLen, err := c.Presence.Parse(cur, byteOffset)
	if err != nil {
		return nil, 0, err
	}
	presGroup := presNode.(*tree.Group)

	bits := presenceBits(presGroup, len(c.Subitems))

	g := tree.NewGroup("", byteOffset)
	consumed := presLen
	for i, set := range bits {
		if !set {
			continue
		}
		if i >= len(c.Subitems) {
			continue
		}
		off := byteOffset + consumed
		node, used, err := c.Subitems[i].Strategy.Parse(cur, off)
		if err != nil {
			return nil, 0, err
		}
		g.Add(node)
		consumed += used
	}
	g.SetLength(consumed)
	return g, consumed, nil
}

// presenceBits reconstructs, from the already-decoded presence Leaf values,
// which of the first n subitem positions were flagged present. Each
// FixedPart of the presence chain contributes up to 7 usable bits (its
// 8th/LSB position is the FX bit consumed by Variable.Parse and therefore
// does not appear as a Leaf here); Leaves appear in the group in MSB-first
// declaration order, which is exactly subitem order.
func presenceBits(presGroup *tree.Group, n int) []bool {
	bits := make([]bool, 0, n)
	for _, child := range presGroup.Children {
		leaf, ok := child.(*tree.Leaf)
		if !ok {
			continue
		}
		bits = append(bits, leaf.Value.Kind == tree.KindUint && leaf.Value.U != 0)
	}
	for len(bits) < n {
		bits = append(bits, false)
	}
	return bits
}

// Explicit reads one length byte L (total length including itself), then
// dispatches the remaining L-1 bytes to Body.
type Explicit struct {
	Body Strategy
}

func (e Explicit) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	lenByte, err := cur.ReadByte()
	if err != nil {
		return nil, 0, errTruncated(8, cur.Remaining())
	}
	l := int(lenByte)
	if l == 0 || l-1 > cur.Remaining()/8 {
		return nil, 0, &ParseError{Code: "InvalidExplicitLength", Msg: fmt.Sprintf("L=%d", l)}
	}
	g := tree.NewGroup("", byteOffset)
	if l == 1 {
		g.SetLength(1)
		return g, 1, nil
	}
	node, used, err := e.Body.Parse(cur, byteOffset+1)
	if err != nil {
		return nil, 0, err
	}
	if used != l-1 {
		// Body may legitimately consume less than declared (e.g. a nested
		// Fixed shorter than L-1); skip any remainder so framing stays
		// correct.
		skip := (l - 1) - used
		if skip > 0 {
			if _, err := cur.ReadBytes(skip); err != nil {
				return nil, 0, err
			}
		}
	}
	g.Add(node)
	g.SetLength(l)
	return g, l, nil
}

// ReservedExpansion has identical wire framing to Explicit (one length byte,
// then L-1 body bytes) but its body is dispatched through a BDS-register-
// style tag table rather than a single nested strategy.
type ReservedExpansion struct {
	// Dispatch maps a tag byte (the body's first byte) to the strategy
	// that parses the remainder of the body.
	Dispatch map[byte]Strategy
}

func (re ReservedExpansion) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	lenByte, err := cur.ReadByte()
	if err != nil {
		return nil, 0, errTruncated(8, cur.Remaining())
	}
	l := int(lenByte)
	if l == 0 || l-1 > cur.Remaining()/8 {
		return nil, 0, &ParseError{Code: "InvalidExplicitLength", Msg: fmt.Sprintf("L=%d", l)}
	}
	g := tree.NewGroup("", byteOffset)
	if l == 1 {
		g.SetLength(1)
		return g, 1, nil
	}
	tagByte, err := cur.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	strat, ok := re.Dispatch[tagByte]
	bodyRemaining := l - 2
	if !ok {
		raw, err := cur.ReadBytes(bodyRemaining)
		if err != nil {
			return nil, 0, err
		}
		g.Add(&tree.Message{Severity: tree.SeverityWarn, ByteOffset: byteOffset + 2, ByteLength: bodyRemaining, Text: fmt.Sprintf("unknown reserved-expansion tag 0x%02x", tagByte), Code: "UnknownReservedExpansionTag"})
		_ = raw
		g.SetLength(l)
		return g, l, nil
	}
	node, used, err := strat.Parse(cur, byteOffset+2)
	if err != nil {
		return nil, 0, err
	}
	if used < bodyRemaining {
		if _, err := cur.ReadBytes(bodyRemaining - used); err != nil {
			return nil, 0, err
		}
	}
	g.Add(node)
	g.SetLength(l)
	return g, l, nil
}

// BDS is always an 8-byte Mode-S Comm-B payload; the first byte selects a
// pseudo-category-256 item (by BDS register number) whose strategy is
// itself Fixed. Unknown BDS numbers are emitted as a raw warn-severity leaf
// rather than failing the record.
type BDS struct {
	// Registers maps BDS register number to the Fixed layout describing
	// its 7 remaining payload bytes.
	Registers map[byte]Fixed
}

func (b BDS) Parse(cur *bitio.Cursor, byteOffset int) (tree.Node, int, error) {
	raw, err := cur.ReadBytes(8)
	if err != nil {
		return nil, 0, errTruncated(64, cur.Remaining())
	}
	reg := raw[0]
	fx, ok := b.Registers[reg]
	if !ok {
		leaf := &tree.Leaf{
			Label:      fmt.Sprintf("BDS %#02x (unknown)", reg),
			ByteOffset: byteOffset,
			ByteLength: 8,
			Value:      tree.Raw(raw),
			Severity:   tree.SeverityWarn,
		}
		return leaf, 8, nil
	}
	body := raw[1:]
	g := tree.NewGroup(fmt.Sprintf("BDS %#02x", reg), byteOffset)
	for _, f := range fx.Fields {
		leaf, err := extractField(body, f, byteOffset+1)
		if err != nil {
			var pe *ParseError
			if asParseError(err, &pe) {
				g.Add(&tree.Message{Severity: tree.SeverityErr, ByteOffset: byteOffset + 1, ByteLength: 7, Text: pe.Error(), Code: pe.Code})
				continue
			}
			return nil, 0, err
		}
		g.Add(leaf)
	}
	g.SetLength(8)
	return g, 8, nil
}
