// Package render adapts the decoder's neutral output tree (package tree)
// into textual and JSON presentations. Renderers only walk the tree in
// depth-first pre-order and never mutate it, per the tree package's
// contract.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/flightwatch/asterix/tree"
)

// Text writes a human-readable, indented rendering of root to w, one line
// per node. This is the format `cmd/asterixcat` prints by default.
func Text(w io.Writer, root *tree.Group) error {
	return textGroup(w, root, 0)
}

func textGroup(w io.Writer, g *tree.Group, depth int) error {
	label := g.Label
	if label == "" {
		label = "(root)"
	}
	if _, err := fmt.Fprintf(w, "%s%s @%d+%d\n", indent(depth), label, g.ByteOffset, g.ByteLength); err != nil {
		return err
	}
	for _, child := range g.Children {
		if err := textNode(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func textNode(w io.Writer, n tree.Node, depth int) error {
	switch v := n.(type) {
	case *tree.Group:
		return textGroup(w, v, depth)
	case *tree.Leaf:
		return textLeaf(w, v, depth)
	case *tree.Message:
		_, err := fmt.Fprintf(w, "%s[%s] %s: %s (@%d+%d)\n", indent(depth), v.Severity, v.Code, v.Text, v.ByteOffset, v.ByteLength)
		return err
	default:
		return nil
	}
}

func textLeaf(w io.Writer, l *tree.Leaf, depth int) error {
	val := formatValue(l.Value)
	if l.ValueLabel != "" {
		val = fmt.Sprintf("%s (%s)", val, l.ValueLabel)
	}
	_, err := fmt.Fprintf(w, "%s%s = %s @%d+%d\n", indent(depth), l.Label, val, l.ByteOffset, l.ByteLength)
	return err
}

func formatValue(v tree.Value) string {
	switch v.Kind {
	case tree.KindUint:
		return fmt.Sprintf("%d", v.U)
	case tree.KindInt:
		return fmt.Sprintf("%d", v.I)
	case tree.KindFloat:
		return fmt.Sprintf("%g", v.F)
	case tree.KindString:
		return v.S
	case tree.KindBytes:
		return fmt.Sprintf("% x", v.B)
	default:
		return ""
	}
}

func indent(depth int) string { return strings.Repeat("  ", depth) }
