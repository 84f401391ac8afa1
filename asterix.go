// Package asterix decodes EUROCONTROL ASTERIX surveillance data blocks
// into a neutral output tree. Decode is a pure function of its inputs: it
// holds no state between calls and two calls with the same catalogue and
// bytes always produce structurally equal trees.
package asterix

import (
	"time"

	"github.com/flightwatch/asterix/catalog"
	"github.com/flightwatch/asterix/internal/decode"
	"github.com/flightwatch/asterix/tree"
)

// Option configures a Decode call.
type Option func(*options)

type options struct {
	timestamp *time.Time
	sink      decode.Sink
}

// WithTimestamp attaches ts as a numeric leaf (seconds since epoch) at the
// head of every block Group, matching spec.md §6.
// Omit this option to leave blocks without a timestamp leaf.
func WithTimestamp(ts time.Time) Option {
	return func(o *options) { o.timestamp = &ts }
}

// WithSink routes every Message the decoder attaches to the tree through
// sink as well, for callers that want live diagnostics without walking the
// returned tree (see internal/decode.Sink). The default is a no-op sink.
func WithSink(sink decode.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// Decode parses buf as a sequence of ASTERIX blocks against cat and returns
// the root of the output tree: one child Group per block, each containing
// one child Group per record. Decode never panics; every malformed or
// truncated condition is reported as a [tree.Message] attached at the point
// in the tree where it was detected.
func Decode(cat *catalog.Catalogue, buf []byte, opts ...Option) *tree.Group {
	o := options{sink: decode.NopSink}
	for _, opt := range opts {
		opt(&o)
	}

	root := tree.NewGroup("", 0)
	decode.DecodeBlocks(cat, buf, root, o.sink)
	root.SetLength(len(buf))

	if o.timestamp != nil {
		stamp := tree.Float(float64(o.timestamp.UnixNano()) / 1e9)
		for _, child := range root.Children {
			if block, ok := child.(*tree.Group); ok {
				block.Children = append([]tree.Node{&tree.Leaf{
					Label:      "timestamp",
					ByteOffset: block.ByteOffset,
					ByteLength: 0,
					Value:      stamp,
				}}, block.Children...)
			}
		}
	}

	return root
}
