// Package filter implements the tri-state keep/drop/default predicate
// consulted by renderers, never by the decoder: decoding is filter-neutral,
// filtering only affects what a renderer chooses to walk.
package filter

import "github.com/flightwatch/asterix/tree"

// Decision is the outcome of evaluating a filter rule.
type Decision int

const (
	// Default means no rule matched; the caller falls back to the next,
	// coarser-grained rule (field -> item -> category), and finally to
	// "keep" if nothing ever matched.
	Default Decision = iota
	Keep
	Drop
)

// Filter holds explicit per-category, per-item, and per-field decisions.
// An absent key at any level evaluates to Default at that level. Filter is
// built once and read many times; it is never mutated by a render pass.
type Filter struct {
	categories map[int]Decision
	items      map[string]Decision // keyed by ItemDescription.Name, e.g. "I048/010"
	fields     map[string]Decision // keyed by FieldDescriptor.FilterTag, e.g. "I048/010.SAC"
}

// New returns an empty Filter that keeps everything.
func New() *Filter {
	return &Filter{
		categories: make(map[int]Decision),
		items:      make(map[string]Decision),
		fields:     make(map[string]Decision),
	}
}

// SetCategory records an explicit keep/drop decision for an entire
// category. Passing Default removes any existing rule.
func (f *Filter) SetCategory(catID int, d Decision) {
	setOrDelete(f.categories, catID, d)
}

// SetItem records an explicit keep/drop decision for one item, identified
// by its ItemDescription.Name.
func (f *Filter) SetItem(itemName string, d Decision) {
	setOrDelete(f.items, itemName, d)
}

// SetField records an explicit keep/drop decision for one field, identified
// by its FieldDescriptor.FilterTag.
func (f *Filter) SetField(tag string, d Decision) {
	setOrDelete(f.fields, tag, d)
}

func setOrDelete[K comparable](m map[K]Decision, k K, d Decision) {
	if d == Default {
		delete(m, k)
		return
	}
	m[k] = d
}

// KeepCategory reports whether catID passes the category-level rule.
func (f *Filter) KeepCategory(catID int) bool {
	if d, ok := f.categories[catID]; ok {
		return d == Keep
	}
	return true
}

// KeepItem reports whether itemName passes the item-level rule, falling
// back to the category-level rule when no item-specific rule exists.
func (f *Filter) KeepItem(catID int, itemName string) bool {
	if d, ok := f.items[itemName]; ok {
		return d == Keep
	}
	return f.KeepCategory(catID)
}

// KeepField reports whether a leaf identified by tag passes, falling back
// through item and category rules in that order.
func (f *Filter) KeepField(catID int, itemName, tag string) bool {
	if d, ok := f.fields[tag]; ok {
		return d == Keep
	}
	return f.KeepItem(catID, itemName)
}

// KeepLeaf reports whether leaf passes f, given the category id of the
// record it belongs to. A Leaf with an empty PID (no filter tag, e.g. an
// FSPEC bit or BDS register label) is never dropped by a field-level rule;
// it still inherits category/item rules through catID.
func (f *Filter) KeepLeaf(catID int, itemName string, leaf *tree.Leaf) bool {
	if leaf.PID == "" {
		return f.KeepItem(catID, itemName)
	}
	return f.KeepField(catID, itemName, leaf.PID)
}

// Prune returns a copy of root containing only the nodes that pass f, with
// every Group that ends up childless after pruning dropped in turn (a
// Group collapses if all its children were dropped). itemOf maps a
// tree Group's label back to the item name the renderer should filter
// against; it is supplied by the caller because the tree itself does not
// carry item identity beyond the labels it was built with. root itself is
// always returned, empty if every child was dropped; block and record
// groups below it collapse like any other group.
func Prune(f *Filter, root *tree.Group, catID int, itemOf func(*tree.Group) (itemName string, ok bool)) *tree.Group {
	if out := pruneGroup(f, root, catID, itemOf); out != nil {
		return out
	}
	return &tree.Group{Label: root.Label, ByteOffset: root.ByteOffset, ByteLength: root.ByteLength}
}

func pruneGroup(f *Filter, g *tree.Group, catID int, itemOf func(*tree.Group) (string, bool)) *tree.Group {
	itemName, hasItem := itemOf(g)
	if hasItem && !f.KeepItem(catID, itemName) {
		return nil
	}

	out := &tree.Group{Label: g.Label, ByteOffset: g.ByteOffset, ByteLength: g.ByteLength}
	for _, child := range g.Children {
		switch n := child.(type) {
		case *tree.Group:
			if pruned := pruneGroup(f, n, catID, itemOf); pruned != nil {
				out.Children = append(out.Children, pruned)
			}
		case *tree.Leaf:
			name := itemName
			if !hasItem {
				name = ""
			}
			if f.KeepLeaf(catID, name, n) {
				out.Children = append(out.Children, n)
			}
		case *tree.Message:
			// Diagnostics are never filtered: an operator must always see
			// why a record or block failed.
			out.Children = append(out.Children, n)
		}
	}

	// A group collapses once filtering has dropped every child it had, but
	// a group that started genuinely childless (e.g. a zero-element
	// repetitive group) is left standing rather than treated as collapsed.
	if len(g.Children) > 0 && len(out.Children) == 0 {
		return nil
	}
	return out
}
