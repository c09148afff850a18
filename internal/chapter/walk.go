package chapter

import "errors"

// SkipChildren may be returned by a WalkFunc to skip a node's subtree.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for every node in depth-first order.
type WalkFunc func(n Node, depth int) error

// Walk visits nodes depth-first, parents before children.
func Walk(nodes []Node, fn WalkFunc) error {
	return walk(nodes, 0, fn)
}

func walk(nodes []Node, depth int, fn WalkFunc) error {
	for _, n := range nodes {
		err := fn(n, depth)
		if errors.Is(err, SkipChildren) {
			continue
		}
		if err != nil {
			return err
		}
		if err := walk(n.children(), depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Collect returns the nodes whose leaf_type equals leafType, as leaves.
// A matching node is collected whole even when it has children of its own;
// otherwise the walk descends into its children.
func Collect(nodes []Node, leafType int) []Leaf {
	var out []Leaf
	_ = Walk(nodes, func(n Node, _ int) error {
		info := n.NodeInfo()
		if info.HasLeafType && info.LeafType == leafType {
			out = append(out, Leaf{Info: info})
			return SkipChildren
		}
		return nil
	})
	return out
}

// Videos returns all video leaves in traversal order.
func Videos(nodes []Node) []Leaf {
	return Collect(nodes, LeafTypeVideo)
}

// Stats summarizes a tree.
type Stats struct {
	Chapters int
	Sections int
	Leaves   int
	Videos   int
}

// Count tallies node kinds across the whole tree.
func Count(nodes []Node) Stats {
	var s Stats
	_ = Walk(nodes, func(n Node, _ int) error {
		switch n.(type) {
		case *Chapter:
			s.Chapters++
		case *Section:
			s.Sections++
		case *Leaf:
			s.Leaves++
		}
		return nil
	})
	s.Videos = len(Videos(nodes))
	return s
}
