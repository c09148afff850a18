// Package chapter decodes a course chapter tree and walks it.
//
// The platform nests content three levels deep: chapters carry a
// "section_leaf_list", sections carry a "leaf_list", and leaves carry a
// "leaf_type". Decode turns that JSON into a tagged variant so callers can
// use one depth-first walk instead of probing keys at every level.
package chapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// LeafTypeVideo is the leaf_type of video content.
const LeafTypeVideo = 0

// Info holds the fields every node kind shares.
type Info struct {
	ID   int64
	Name string
	// LeafType is only meaningful when HasLeafType is set.
	LeafType    int
	HasLeafType bool
}

// Node is one of *Chapter, *Section or *Leaf.
type Node interface {
	NodeInfo() Info
	children() []Node
}

// Chapter is a top-level node holding sections or leaves.
type Chapter struct {
	Info
	Children []Node
}

// Section groups leaves inside a chapter.
type Section struct {
	Info
	Leaves []Node
}

// Leaf is an addressable content unit.
type Leaf struct {
	Info
}

func (c *Chapter) NodeInfo() Info   { return c.Info }
func (c *Chapter) children() []Node { return c.Children }
func (s *Section) NodeInfo() Info   { return s.Info }
func (s *Section) children() []Node { return s.Leaves }
func (l *Leaf) NodeInfo() Info      { return l.Info }
func (l *Leaf) children() []Node    { return nil }

type rawNode struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	LeafType        *int            `json:"leaf_type"`
	SectionLeafList json.RawMessage `json:"section_leaf_list"`
	LeafList        json.RawMessage `json:"leaf_list"`
}

// maxDepth bounds recursion on malformed input.
const maxDepth = 16

// Decode parses the course_chapter array of the chapter API.
func Decode(data []byte) ([]Node, error) {
	return decodeList(data, 0)
}

func decodeList(data []byte, depth int) ([]Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("chapter tree deeper than %d levels", maxDepth)
	}
	var raws []rawNode
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode chapter list: %w", err)
	}

	nodes := make([]Node, 0, len(raws))
	for _, r := range raws {
		info := Info{ID: r.ID, Name: normalizeName(r.Name)}
		if r.LeafType != nil {
			info.LeafType = *r.LeafType
			info.HasLeafType = true
		}

		switch {
		case len(r.SectionLeafList) > 0:
			children, err := decodeList(r.SectionLeafList, depth+1)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Chapter{Info: info, Children: children})
		case len(r.LeafList) > 0:
			leaves, err := decodeList(r.LeafList, depth+1)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Section{Info: info, Leaves: leaves})
		default:
			nodes = append(nodes, &Leaf{Info: info})
		}
	}
	return nodes, nil
}

func normalizeName(s string) string {
	return strings.TrimSpace(width.Fold.String(norm.NFKC.String(s)))
}
