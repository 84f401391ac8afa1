// Package tree defines the neutral output tree produced by the ASTERIX
// decoder: a structure of tagged nodes (group / typed leaf / diagnostic
// message) that renderers walk to produce text, JSON, or an analyser
// dissector view. The decoder constructs trees bottom-up; once returned, a
// tree is owned by the caller and never mutated by the decoder again.
package tree

// Severity classifies a Leaf or Message by how serious its condition is.
type Severity int

const (
	// SeverityOK marks a normally decoded value.
	SeverityOK Severity = iota
	// SeverityWarn marks a recoverable anomaly (e.g. an unknown BDS
	// register, trailing bytes).
	SeverityWarn
	// SeverityErr marks an unrecoverable condition that aborted the
	// enclosing record or block.
	SeverityErr
)

// String renders the severity as the lowercase word used in JSON/text
// output ("ok", "warn", "err").
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarn:
		return "warn"
	case SeverityErr:
		return "err"
	default:
		return "unknown"
	}
}

// Kind distinguishes a Value's underlying representation.
type Kind int

const (
	// KindNone marks a Value with no payload (e.g. an empty repetitive
	// group's count leaf when N==0 is still reported, or a field whose
	// bits were all reserved/spare).
	KindNone Kind = iota
	KindUint
	KindInt
	KindFloat
	KindString
	KindBytes
)

// Value is the tagged union held by a Leaf. Exactly one of the typed
// accessors is meaningful for a given Kind; the others return the zero
// value.
type Value struct {
	Kind Kind
	U    uint64
	I    int64
	F    float64
	S    string
	B    []byte
}

// Uint constructs an unsigned-integer Value.
func Uint(v uint64) Value { return Value{Kind: KindUint, U: v} }

// Int constructs a signed-integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I: v} }

// Float constructs a floating-point Value, used for scaled engineering
// values (e.g. range in NM) and for the block-level decode timestamp.
func Float(v float64) Value { return Value{Kind: KindFloat, F: v} }

// Str constructs a string Value (used for ASCII and specially-formatted
// fields).
func Str(v string) Value { return Value{Kind: KindString, S: v} }

// Raw constructs a raw-bytes Value (used for opaque/hex-dump fields).
func Raw(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{Kind: KindBytes, B: cp}
}

// None is the empty Value.
var None = Value{Kind: KindNone}

// Node is implemented by every element that can appear as a child of a
// Group: *Group, *Leaf, and *Message.
type Node interface {
	// Offset returns the node's starting byte offset within the buffer
	// that was decoded.
	Offset() int
	// Length returns the node's byte length within that buffer.
	Length() int
	node()
}

// Group is a labelled container of child nodes: the root, a block, a
// record, a repetitive element, a compound subitem, or a fixed/variable
// item's enclosing group.
type Group struct {
	Label      string
	ByteOffset int
	ByteLength int
	Children   []Node
}

func (g *Group) Offset() int { return g.ByteOffset }
func (g *Group) Length() int { return g.ByteLength }
func (*Group) node()         {}

// Add appends a child node, ignoring nil (so callers can build children
// conditionally without an extra branch at every call site).
func (g *Group) Add(n Node) {
	if n == nil {
		return
	}
	g.Children = append(g.Children, n)
}

// Leaf is a single named, typed field value.
type Leaf struct {
	Label      string
	PID        string // filter_tag / parameter id, e.g. "I048/010.SAC"
	ByteOffset int
	ByteLength int
	Value      Value
	ValueLabel string // optional enum label; empty if none
	Severity   Severity
}

func (l *Leaf) Offset() int { return l.ByteOffset }
func (l *Leaf) Length() int { return l.ByteLength }
func (*Leaf) node()         {}

// Message is an out-of-band diagnostic attached at the point in the tree
// where the condition was detected (root, block, record, or item level).
type Message struct {
	Severity   Severity
	ByteOffset int
	ByteLength int
	Text       string
	// Code is a short machine-stable identifier, e.g. "TruncatedFSPEC",
	// matching the taxonomy in spec.md §7. Empty for ad-hoc messages.
	Code string
}

func (m *Message) Offset() int { return m.ByteOffset }
func (m *Message) Length() int { return m.ByteLength }
func (*Message) node()         {}

// NewGroup constructs a Group with no children yet; ByteLength is set once
// the caller knows the full extent (see SetLength).
func NewGroup(label string, byteOffset int) *Group {
	return &Group{Label: label, ByteOffset: byteOffset}
}

// SetLength records the final byte length of g, computed by the caller once
// all children have been attached.
func (g *Group) SetLength(n int) { g.ByteLength = n }
