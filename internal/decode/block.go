package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/flightwatch/asterix/catalog"
	"github.com/flightwatch/asterix/tree"
)

// DecodeBlocks walks buf as a sequence of ASTERIX blocks (spec.md §4.I),
// appending one Group per block to root. It returns after the first
// malformed block, since framing is then unrecoverable; every
// well-framed block before that point is fully represented in root
// regardless of what happened inside it.
func DecodeBlocks(cat *catalog.Catalogue, buf []byte, root *tree.Group, sink Sink) {
	offset := 0
	for offset < len(buf) {
		remaining := buf[offset:]
		if len(remaining) < 3 {
			msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: offset, ByteLength: len(remaining), Text: "block header truncated before length field", Code: "MalformedBlock"}
			root.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			return
		}

		catID := int(remaining[0])
		l := int(binary.BigEndian.Uint16(remaining[1:3]))
		if l < 4 || l > len(remaining) {
			msg := &tree.Message{Severity: tree.SeverityErr, ByteOffset: offset, ByteLength: len(remaining), Text: fmt.Sprintf("block length %d invalid (have %d bytes remaining)", l, len(remaining)), Code: "MalformedBlock"}
			root.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			return
		}

		blockGroup := tree.NewGroup(fmt.Sprintf("CAT%03d", catID), offset)
		payload := remaining[3:l]

		category, known := cat.Lookup(catID)
		if !known {
			msg := &tree.Message{Severity: tree.SeverityWarn, ByteOffset: offset + 3, ByteLength: len(payload), Text: fmt.Sprintf("category %d not present in catalogue", catID), Code: "UnknownCategory"}
			blockGroup.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			blockGroup.SetLength(l)
			root.Add(blockGroup)
			offset += l
			continue
		}

		decodeRecordsInBlock(category, payload, offset+3, blockGroup, sink)
		blockGroup.SetLength(l)
		root.Add(blockGroup)
		offset += l
	}
}

// decodeRecordsInBlock calls decodeRecord repeatedly over payload until it
// is exhausted or a record fails, per spec.md §4.I's rule that block
// iteration stops (but the stream does not) on the first Failed record. Each
// call only ever consumes its own record's true length, so a tightly packed
// block is walked one record at a time rather than swallowed by the first.
func decodeRecordsInBlock(cat catalog.Category, payload []byte, baseOffset int, blockGroup *tree.Group, sink Sink) {
	pos := 0
	for pos < len(payload) {
		res := decodeRecord(cat, payload[pos:], baseOffset+pos, sink)

		// A record that fails without decoding anything, once at least one
		// real record has already been decoded in this block, is treated as
		// trailing residue rather than a corrupt record: the bytes simply
		// don't start another record (typically padding out to the block's
		// declared length). A failure on the very first record, or one that
		// got partway through parsing items first, is genuine corruption and
		// keeps its own error diagnostic.
		if res.failed && res.noProgress && pos > 0 {
			n := len(payload) - pos
			msg := &tree.Message{Severity: tree.SeverityWarn, ByteOffset: baseOffset + pos, ByteLength: n, Text: fmt.Sprintf("block left %d trailing byte(s) unconsumed after the last record", n), Code: "TrailingBytes"}
			blockGroup.Add(msg)
			sink.Report(msg.Severity, msg.Code, msg.Text, msg.ByteOffset, msg.ByteLength)
			return
		}

		blockGroup.Add(res.node)
		if res.consumed <= 0 {
			// decodeRecord must always make progress; a zero-byte
			// consumption would spin forever. This can only happen if the
			// FSPEC parse itself failed before consuming a byte, which
			// decodeRecord already marks as failed.
			return
		}
		pos += res.consumed
		if res.failed {
			return
		}
	}
}
