package decode

import (
	"fmt"

	"github.com/flightwatch/asterix/catalog"
	"github.com/flightwatch/asterix/internal/bitio"
	"github.com/flightwatch/asterix/tree"
)

// recordResult is what decodeRecord hands back to its caller: the record's
// subtree, how many bytes it consumed, and whether the record reached
// Failed (§4.H's state machine). A Failed record still returns its
// partially built tree — the block decoder attaches it and stops the
// block, it does not discard the work already done.
type recordResult struct {
	node     *tree.Group
	consumed int
	failed   bool

	// noProgress is set on a Failed result where nothing was actually
	// decoded — the FSPEC couldn't be read, no UAP matched, or the very
	// first live FRN failed before any item was parsed. The block decoder
	// uses it to tell "this doesn't look like a record at all" (likely
	// trailing padding) apart from a failure partway through a record that
	// had already produced real output (genuine corruption).
	noProgress bool
}

// decodeRecord runs one record's state machine (WaitFSPEC -> InFSPEC ->
// SelectingUAP -> WalkFRN -> Done|Failed) against payload starting at
// recordOffset bytes into the overall decode buffer. payload is the
// remaining, not-yet-consumed bytes of the enclosing block.
func decodeRecord(cat catalog.Category, payload []byte, recordOffset int, sink Sink) recordResult {
	g := tree.NewGroup("", recordOffset)
	cur := bitio.New(payload)

	bits, fspecLen, err := parseFSPEC(&cur)
	if err != nil {
		msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: recordOffset, ByteLength: fspecLen, Text: err.Error(), Code: "TruncatedFSPEC"}
		g.Add(msg)
		sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
		g.SetLength(fspecLen)
		return recordResult{node: g, consumed: fspecLen, failed: true, noProgress: true}
	}

	uap, ok := cat.Resolve(payload)
	if !ok {
		msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: recordOffset, ByteLength: fspecLen, Text: "no UAP predicate matched this record", Code: "NoApplicableUAP"}
		g.Add(msg)
		sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
		g.SetLength(fspecLen)
		return recordResult{node: g, consumed: fspecLen, failed: true, noProgress: true}
	}

	consumed := fspecLen
	for k := 1; k <= len(bits); k++ {
		if !bits[k-1] {
			continue
		}
		entry, found := uap.EntryForFRN(k)
		if !found {
			off := recordOffset + consumed
			msg := &tree.Message{Severity: tree.SeverityWarn, ByteOffset: off, ByteLength: 0, Text: fmt.Sprintf("FRN %d set in FSPEC but not declared in UAP %q", k, uap.Name), Code: "UnknownFRN"}
			g.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			continue
		}
		if entry.Item == nil {
			off := recordOffset + consumed
			msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: off, ByteLength: len(payload) - consumed, Text: fmt.Sprintf("FRN %d set in FSPEC but UAP %q binds no item at that position", k, uap.Name), Code: "UnknownItem"}
			g.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			g.SetLength(consumed)
			return recordResult{node: g, consumed: consumed, failed: true, noProgress: consumed == fspecLen}
		}

		node, used, err := entry.Item.Strategy.Parse(&cur, recordOffset+consumed)
		if err != nil {
			var pe *catalog.ParseError
			code := "Truncated"
			if asParseError(err, &pe) {
				code = pe.Code
			}
			off := recordOffset + consumed
			msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: off, ByteLength: len(payload) - consumed, Text: err.Error(), Code: code}
			g.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			g.SetLength(consumed)
			return recordResult{node: g, consumed: consumed, failed: true, noProgress: consumed == fspecLen}
		}
		g.Add(node)
		consumed += used
	}

	// consumed is the record's true length (fspecLen + every parsed item's
	// byte count), not padded out to len(payload): payload here is whatever
	// remains of the enclosing block, which usually holds further records.
	// decodeRecordsInBlock resumes at exactly this offset to decode them;
	// any residue genuinely left over once no further record can be started
	// is reported once, at the block level, as TrailingBytes.
	g.SetLength(consumed)
	return recordResult{node: g, consumed: consumed, failed: false}
}

func asParseError(err error, target **catalog.ParseError) bool {
	pe, ok := err.(*catalog.ParseError)
	if ok {
		*target = pe
	}
	return ok
}

// parseFSPEC reads the FSPEC's chained bytes from cur (which must be
// positioned at the start of the record), returning one presence bit per
// non-FX bit position in declaration order (index 0 == FRN 1), and the
// number of bytes the FSPEC itself occupied.
func parseFSPEC(cur *bitio.Cursor) ([]bool, int, error) {
	var bits []bool
	for i := 0; i < catalog.FSPECMaxBytes; i++ {
		b, err := cur.ReadByte()
		if err != nil {
			return bits, i, fmt.Errorf("FSPEC byte %d: %w", i, err)
		}
		for bitPos := 7; bitPos >= 1; bitPos-- {
			bits = append(bits, b&(1<<uint(bitPos)) != 0)
		}
		fx := b&0x01 != 0
		if !fx {
			return bits, i + 1, nil
		}
		if i == catalog.FSPECMaxBytes-1 {
			return bits, i + 1, fmt.Errorf("FSPEC extension bit set in byte %d, exceeding the %d-byte cap", i, catalog.FSPECMaxBytes)
		}
	}
	return bits, catalog.FSPECMaxBytes, nil
}
