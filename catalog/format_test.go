package catalog

import (
	"testing"

	"github.com/flightwatch/asterix/internal/bitio"
	"github.com/flightwatch/asterix/tree"
)

func TestFixedParse(t *testing.T) {
	fx := Fixed{
		Len: 2,
		Fields: []FieldDescriptor{
			{ShortName: "SAC", BitFrom: 15, BitTo: 8, Encoding: Unsigned},
			{ShortName: "SIC", BitFrom: 7, BitTo: 0, Encoding: Unsigned},
		},
	}
	cur := bitio.New([]byte{0x01, 0x02})
	node, n, err := fx.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("consumed = %d want 2", n)
	}
	g := node.(*tree.Group)
	if len(g.Children) != 2 {
		t.Fatalf("want 2 children, got %d", len(g.Children))
	}
	sac := g.Children[0].(*tree.Leaf)
	if sac.Value.U != 1 {
		t.Fatalf("SAC = %d want 1", sac.Value.U)
	}
	sic := g.Children[1].(*tree.Leaf)
	if sic.Value.U != 2 {
		t.Fatalf("SIC = %d want 2", sic.Value.U)
	}
}

func TestFixedParseTruncated(t *testing.T) {
	fx := Fixed{Len: 2, Fields: []FieldDescriptor{{BitFrom: 15, BitTo: 0, Encoding: Unsigned}}}
	cur := bitio.New([]byte{0x01})
	if _, _, err := fx.Parse(&cur, 0); err == nil {
		t.Fatal("expected truncation error")
	}
}

func part7bit() FixedPart {
	return FixedPart{
		Fixed:     Fixed{Len: 1, Fields: []FieldDescriptor{{ShortName: "V", BitFrom: 7, BitTo: 1, Encoding: Unsigned}}},
		FXBitFrom: 0,
	}
}

func TestVariableParseTwoParts(t *testing.T) {
	v := Variable{Parts: []FixedPart{part7bit(), part7bit()}}
	// byte0: top 7 bits = 1111111 (127), FX=1; byte1: top 7 bits = 0000001 (1), FX=0
	cur := bitio.New([]byte{0xFF, 0x02})
	node, n, err := v.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("consumed = %d want 2", n)
	}
	g := node.(*tree.Group)
	if len(g.Children) != 2 {
		t.Fatalf("want 2 fields decoded, got %d", len(g.Children))
	}
	if g.Children[0].(*tree.Leaf).Value.U != 127 {
		t.Fatalf("part0 value wrong: %+v", g.Children[0])
	}
	if g.Children[1].(*tree.Leaf).Value.U != 1 {
		t.Fatalf("part1 value wrong: %+v", g.Children[1])
	}
}

func TestVariableParseSinglePartNoExtension(t *testing.T) {
	v := Variable{Parts: []FixedPart{part7bit(), part7bit()}}
	cur := bitio.New([]byte{0x02}) // top7=0000001, FX=0
	_, n, err := v.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("consumed = %d want 1", n)
	}
}

func TestVariableParseMissingFormat(t *testing.T) {
	v := Variable{Parts: []FixedPart{part7bit()}}
	cur := bitio.New([]byte{0xFF}) // FX=1 but no second part declared
	if _, _, err := v.Parse(&cur, 0); err == nil {
		t.Fatal("expected MissingExtensionFormat error")
	}
}

func TestRepetitiveParse(t *testing.T) {
	r := Repetitive{
		RepLen:  1,
		Element: Fixed{Len: 1, Fields: []FieldDescriptor{{BitFrom: 7, BitTo: 0, Encoding: Unsigned}}},
	}
	cur := bitio.New([]byte{0x02, 0x0A, 0x0B})
	node, n, err := r.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("consumed = %d want 3", n)
	}
	g := node.(*tree.Group)
	if len(g.Children) != 2 {
		t.Fatalf("want 2 elements, got %d", len(g.Children))
	}
	e0 := g.Children[0].(*tree.Group).Children[0].(*tree.Leaf)
	if e0.Value.U != 0x0A {
		t.Fatalf("element 0 = %x want 0xA", e0.Value.U)
	}
}

func TestRepetitiveParseZeroCount(t *testing.T) {
	r := Repetitive{RepLen: 1, Element: Fixed{Len: 1}}
	cur := bitio.New([]byte{0x00})
	node, n, err := r.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("consumed = %d want 1", n)
	}
	if len(node.(*tree.Group).Children) != 0 {
		t.Fatalf("expected no elements")
	}
}

func presenceVariable() Variable {
	return Variable{Parts: []FixedPart{{
		Fixed: Fixed{Len: 1, Fields: []FieldDescriptor{
			{ShortName: "p1", BitFrom: 7, BitTo: 7, Encoding: Unsigned},
			{ShortName: "p2", BitFrom: 6, BitTo: 6, Encoding: Unsigned},
		}},
		FXBitFrom: 0,
	}}}
}

func TestCompoundParse(t *testing.T) {
	c := Compound{
		Presence: presenceVariable(),
		Subitems: []CompoundSubitem{
			{Strategy: Fixed{Len: 1, Fields: []FieldDescriptor{{BitFrom: 7, BitTo: 0, Encoding: Unsigned}}}},
			{Strategy: Fixed{Len: 1, Fields: []FieldDescriptor{{BitFrom: 7, BitTo: 0, Encoding: Unsigned}}}},
		},
	}
	// presence byte: bit7=1 (subitem0 present), bit6=0 (subitem1 absent), bit0=0 (no FX chain)
	cur := bitio.New([]byte{0x80, 0x2A})
	node, n, err := c.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("consumed = %d want 2", n)
	}
	g := node.(*tree.Group)
	if len(g.Children) != 1 {
		t.Fatalf("want exactly 1 subitem present, got %d", len(g.Children))
	}
	leaf := g.Children[0].(*tree.Group).Children[0].(*tree.Leaf)
	if leaf.Value.U != 0x2A {
		t.Fatalf("subitem0 value = %x want 0x2A", leaf.Value.U)
	}
}

func TestExplicitParse(t *testing.T) {
	e := Explicit{Body: Fixed{Len: 2, Fields: []FieldDescriptor{{BitFrom: 15, BitTo: 0, Encoding: Unsigned}}}}
	cur := bitio.New([]byte{0x03, 0x00, 0x2A})
	node, n, err := e.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("consumed = %d want 3", n)
	}
	g := node.(*tree.Group)
	leaf := g.Children[0].(*tree.Group).Children[0].(*tree.Leaf)
	if leaf.Value.U != 0x2A {
		t.Fatalf("body value = %x want 0x2A", leaf.Value.U)
	}
}

func TestExplicitParseEmptyBody(t *testing.T) {
	e := Explicit{Body: Fixed{Len: 2}}
	cur := bitio.New([]byte{0x01})
	_, n, err := e.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("consumed = %d want 1", n)
	}
}

func TestReservedExpansionParse(t *testing.T) {
	re := ReservedExpansion{Dispatch: map[byte]Strategy{
		0x05: Fixed{Len: 2, Fields: []FieldDescriptor{{BitFrom: 15, BitTo: 0, Encoding: Unsigned}}},
	}}
	cur := bitio.New([]byte{0x04, 0x05, 0x00, 0x2A})
	node, n, err := re.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("consumed = %d want 4", n)
	}
	g := node.(*tree.Group)
	leaf := g.Children[0].(*tree.Group).Children[0].(*tree.Leaf)
	if leaf.Value.U != 0x2A {
		t.Fatalf("body value = %x want 0x2A", leaf.Value.U)
	}
}

func TestReservedExpansionUnknownTag(t *testing.T) {
	re := ReservedExpansion{Dispatch: map[byte]Strategy{}}
	cur := bitio.New([]byte{0x04, 0xFF, 0x00, 0x00})
	node, n, err := re.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("consumed = %d want 4", n)
	}
	g := node.(*tree.Group)
	msg := g.Children[0].(*tree.Message)
	if msg.Severity != tree.SeverityWarn || msg.Code != "UnknownReservedExpansionTag" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestBDSParseKnownRegister(t *testing.T) {
	b := BDS{Registers: map[byte]Fixed{
		0x20: {Fields: []FieldDescriptor{{BitFrom: 55, BitTo: 0, Encoding: Unsigned}}},
	}}
	cur := bitio.New([]byte{0x20, 0, 0, 0, 0, 0, 0, 0x2A})
	node, n, err := b.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("consumed = %d want 8", n)
	}
	g := node.(*tree.Group)
	leaf := g.Children[0].(*tree.Leaf)
	if leaf.Value.U != 0x2A {
		t.Fatalf("got %x want 0x2A", leaf.Value.U)
	}
}

func TestBDSParseUnknownRegister(t *testing.T) {
	b := BDS{Registers: map[byte]Fixed{}}
	cur := bitio.New([]byte{0x99, 1, 2, 3, 4, 5, 6, 7})
	node, n, err := b.Parse(&cur, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("consumed = %d want 8", n)
	}
	leaf := node.(*tree.Leaf)
	if leaf.Severity != tree.SeverityWarn {
		t.Fatalf("expected warn severity for unknown register")
	}
}
