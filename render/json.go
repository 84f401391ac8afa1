package render

import (
	"encoding/json"
	"io"

	"github.com/flightwatch/asterix/tree"
)

// jsonNode mirrors tree.Node for marshalling. Exactly one of Children,
// Value, or Message is populated depending on what kind of node this is;
// the others are omitted so the JSON stays close to the shape a renderer
// consumer actually needs.
type jsonNode struct {
	Label      string      `json:"label,omitempty"`
	ByteOffset int         `json:"byte_offset"`
	ByteLength int         `json:"byte_length"`
	Children   []*jsonNode `json:"children,omitempty"`

	PID        string `json:"pid,omitempty"`
	Value      any    `json:"value,omitempty"`
	ValueLabel string `json:"value_label,omitempty"`
	Severity   string `json:"severity,omitempty"`

	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

func toJSONNode(n tree.Node) *jsonNode {
	switch v := n.(type) {
	case *tree.Group:
		jn := &jsonNode{Label: v.Label, ByteOffset: v.ByteOffset, ByteLength: v.ByteLength}
		for _, c := range v.Children {
			jn.Children = append(jn.Children, toJSONNode(c))
		}
		return jn
	case *tree.Leaf:
		return &jsonNode{
			Label:      v.Label,
			PID:        v.PID,
			ByteOffset: v.ByteOffset,
			ByteLength: v.ByteLength,
			Value:      jsonValue(v.Value),
			ValueLabel: v.ValueLabel,
			Severity:   v.Severity.String(),
		}
	case *tree.Message:
		return &jsonNode{
			ByteOffset: v.ByteOffset,
			ByteLength: v.ByteLength,
			Severity:   v.Severity.String(),
			Text:       v.Text,
			Code:       v.Code,
		}
	default:
		return nil
	}
}

func jsonValue(v tree.Value) any {
	switch v.Kind {
	case tree.KindUint:
		return v.U
	case tree.KindInt:
		return v.I
	case tree.KindFloat:
		return v.F
	case tree.KindString:
		return v.S
	case tree.KindBytes:
		return v.B
	default:
		return nil
	}
}

// JSON marshals root as an indented JSON document to w.
func JSON(w io.Writer, root *tree.Group) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSONNode(root))
}
