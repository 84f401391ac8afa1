package filter

import (
	"testing"

	"github.com/flightwatch/asterix/tree"
)

func TestKeepCategoryDefault(t *testing.T) {
	f := New()
	if !f.KeepCategory(48) {
		t.Fatal("expected default keep")
	}
}

func TestKeepCategoryExplicitDrop(t *testing.T) {
	f := New()
	f.SetCategory(48, Drop)
	if f.KeepCategory(48) {
		t.Fatal("expected drop")
	}
	if !f.KeepCategory(1) {
		t.Fatal("category 1 should be unaffected")
	}
}

func TestKeepItemFallsBackToCategory(t *testing.T) {
	f := New()
	f.SetCategory(48, Drop)
	if f.KeepItem(48, "I048/010") {
		t.Fatal("expected item to inherit category drop")
	}
	f.SetItem("I048/010", Keep)
	if !f.KeepItem(48, "I048/010") {
		t.Fatal("explicit item keep should override category drop")
	}
}

func TestKeepFieldFallsBackThroughItemAndCategory(t *testing.T) {
	f := New()
	f.SetItem("I048/010", Drop)
	if f.KeepField(48, "I048/010", "I048/010.SAC") {
		t.Fatal("expected field to inherit item drop")
	}
	f.SetField("I048/010.SAC", Keep)
	if !f.KeepField(48, "I048/010", "I048/010.SAC") {
		t.Fatal("explicit field keep should override item drop")
	}
}

func TestSetDefaultClearsRule(t *testing.T) {
	f := New()
	f.SetCategory(48, Drop)
	f.SetCategory(48, Default)
	if !f.KeepCategory(48) {
		t.Fatal("expected rule to be cleared back to keep")
	}
}

func identity(g *tree.Group) (string, bool) { return "", false }

func TestPruneKeepsEverythingByDefault(t *testing.T) {
	root := tree.NewGroup("root", 0)
	leaf := &tree.Leaf{Label: "x", PID: "I048/010.SAC", Value: tree.Uint(1)}
	root.Add(leaf)
	root.SetLength(1)

	pruned := Prune(New(), root, 48, identity)
	if len(pruned.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(pruned.Children))
	}
}

func TestPruneDropsFieldAndCollapsesGroup(t *testing.T) {
	item := tree.NewGroup("I048/010", 0)
	item.Add(&tree.Leaf{Label: "SAC", PID: "I048/010.SAC", Value: tree.Uint(1)})
	item.SetLength(2)
	root := tree.NewGroup("root", 0)
	root.Add(item)
	root.SetLength(2)

	itemOf := func(g *tree.Group) (string, bool) {
		if g.Label == "I048/010" {
			return "I048/010", true
		}
		return "", false
	}

	f := New()
	f.SetField("I048/010.SAC", Drop)
	pruned := Prune(f, root, 48, itemOf)
	if len(pruned.Children) != 0 {
		t.Fatalf("expected item group to collapse, got %d children", len(pruned.Children))
	}
}

func TestPruneNeverDropsMessages(t *testing.T) {
	root := tree.NewGroup("root", 0)
	root.Add(&tree.Message{Severity: tree.SeverityErr, Text: "boom", Code: "Whatever"})
	root.SetLength(0)

	f := New()
	f.SetCategory(48, Drop)
	pruned := Prune(f, root, 48, identity)
	if len(pruned.Children) != 1 {
		t.Fatalf("expected diagnostic message to survive filtering, got %d children", len(pruned.Children))
	}
}

func TestPruneKeepsGenuinelyEmptyGroup(t *testing.T) {
	root := tree.NewGroup("root", 0)
	empty := tree.NewGroup("x0", 0)
	root.Add(empty)

	pruned := Prune(New(), root, 48, identity)
	if len(pruned.Children) != 1 {
		t.Fatalf("expected empty repetitive group to survive, got %d children", len(pruned.Children))
	}
}
