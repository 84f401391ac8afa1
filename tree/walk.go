package tree

// Walk visits n and every descendant in depth-first pre-order, calling fn on
// each node, so callers need not type-switch on Group by hand; fn must
// not mutate the tree (see package doc).
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	if g, ok := n.(*Group); ok {
		for _, c := range g.Children {
			Walk(c, fn)
		}
	}
}
