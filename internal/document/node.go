// Package document is the XML tree the exporter builds and the importer
// walks, with a deterministic encoder and a strict parser.
package document

import (
	"strconv"
	"strings"
)

// XLinkNamespace is the namespace of relationship and label attributes.
const XLinkNamespace = "http://www.w3.org/1999/xlink"

// Name is a namespace-qualified element or attribute name.
type Name struct {
	Space string
	Local string
}

// Attr is one attribute. Attribute order is not significant; the encoder
// sorts them.
type Attr struct {
	Name  Name
	Value string
}

// Node is an element. Leaf values live in Text; containers hold Children.
type Node struct {
	Name     Name
	Attrs    []Attr
	Children []*Node
	Text     string
}

// NewNode returns an element in the given namespace.
func NewNode(space, local string) *Node {
	return &Node{Name: Name{Space: space, Local: local}}
}

// Namespace is a prefix binding declared on the root element.
type Namespace struct {
	Prefix string
	URI    string
}

// Document is a parsed or generated XML document.
type Document struct {
	Root       *Node
	Namespaces []Namespace
}

// Attr returns the value of the attribute with the given name.
func (n *Node) Attr(space, local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr adds or replaces an attribute.
func (n *Node) SetAttr(space, local, value string) {
	for i, a := range n.Attrs {
		if a.Name.Space == space && a.Name.Local == local {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: Name{Space: space, Local: local}, Value: value})
}

// Append adds a child and returns it.
func (n *Node) Append(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first child with the given name.
func (n *Node) Child(space, local string) *Node {
	for _, c := range n.Children {
		if c.Name.Space == space && c.Name.Local == local {
			return c
		}
	}
	return nil
}

// Ensure returns the first child with the given name, creating it when
// absent.
func (n *Node) Ensure(space, local string) *Node {
	if c := n.Child(space, local); c != nil {
		return c
	}
	return n.Append(NewNode(space, local))
}

// EnsurePath walks or creates a chain of same-namespace children.
func (n *Node) EnsurePath(space string, path []string) *Node {
	cur := n
	for _, seg := range path {
		cur = cur.Ensure(space, seg)
	}
	return cur
}

// Find follows a chain of same-namespace children, returning nil when any
// step is missing.
func (n *Node) Find(space string, path []string) *Node {
	cur := n
	for _, seg := range path {
		if cur = cur.Child(space, seg); cur == nil {
			return nil
		}
	}
	return cur
}

// IsLeaf reports whether the element has no element children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Value returns the trimmed text content.
func (n *Node) Value() string { return strings.TrimSpace(n.Text) }

// Walk visits the node and its descendants depth first. Returning false
// from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// QName renders a name with the prefix the document binds to its namespace.
// Default-namespace and unbound names render as the local part.
func (d *Document) QName(n Name) string {
	if n.Space == "" || d == nil {
		return n.Local
	}
	for _, ns := range d.Namespaces {
		if ns.URI == n.Space {
			if ns.Prefix == "" {
				return n.Local
			}
			return ns.Prefix + ":" + n.Local
		}
	}
	return n.Local
}

// ChildPaths returns a path for each child of n, extending base. A 1-based
// position is appended when a name repeats among the siblings.
func (d *Document) ChildPaths(base string, n *Node) []string {
	totals := make(map[Name]int, len(n.Children))
	for _, c := range n.Children {
		totals[c.Name]++
	}
	seen := make(map[Name]int, len(totals))
	out := make([]string, len(n.Children))
	for i, c := range n.Children {
		seen[c.Name]++
		p := base + "/" + d.QName(c.Name)
		if totals[c.Name] > 1 {
			p += "[" + strconv.Itoa(seen[c.Name]) + "]"
		}
		out[i] = p
	}
	return out
}
