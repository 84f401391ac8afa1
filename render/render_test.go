package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/flightwatch/asterix/tree"
)

func sampleTree() *tree.Group {
	root := tree.NewGroup("", 0)
	block := tree.NewGroup("CAT048", 0)
	item := tree.NewGroup("I048/010", 3)
	item.Add(&tree.Leaf{Label: "SAC", PID: "I048/010.SAC", ByteOffset: 3, ByteLength: 1, Value: tree.Uint(1)})
	item.SetLength(2)
	block.Add(item)
	block.Add(&tree.Message{Severity: tree.SeverityWarn, ByteOffset: 5, ByteLength: 1, Text: "trailing", Code: "TrailingBytes"})
	block.SetLength(6)
	root.Add(block)
	root.SetLength(6)
	return root
}

func TestTextRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, sampleTree()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"CAT048", "SAC = 1", "TrailingBytes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestJSONRender(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, sampleTree()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	children, ok := decoded["children"].([]any)
	if !ok || len(children) != 1 {
		t.Fatalf("expected 1 block child, got %+v", decoded["children"])
	}
}
