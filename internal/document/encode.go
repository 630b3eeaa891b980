package document

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"slices"
	"strings"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Encode serializes the document. Output is a pure function of the tree:
// two-space indentation, LF line endings, namespace declarations on the
// root ordered by prefix, attributes ordered by qualified name.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	var buf bytes.Buffer
	buf.WriteString(header)
	e := newEncoder(doc)
	if err := e.element(&buf, doc.Root, 0, true); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ContentHash returns "sha256:<hex>" over the encoded document.
func ContentHash(doc *Document) (string, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns "sha256:<hex>" over raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// EncodeFragment serializes a subtree with the prefixes of doc, without an
// XML declaration. Namespaces the subtree uses are declared on its top
// element so the fragment stands alone.
func EncodeFragment(doc *Document, n *Node) string {
	d := &Document{Root: n}
	if doc != nil {
		d.Namespaces = doc.Namespaces
	}
	e := newEncoder(d)
	var buf bytes.Buffer
	if err := e.element(&buf, n, 0, true); err != nil {
		return ""
	}
	return buf.String()
}

type encoder struct {
	prefixes map[string]string
	decls    []Namespace
}

func newEncoder(doc *Document) *encoder {
	e := &encoder{prefixes: map[string]string{}}
	declared := map[string]string{}
	for _, ns := range doc.Namespaces {
		if _, ok := declared[ns.URI]; !ok {
			declared[ns.URI] = ns.Prefix
		}
	}

	used := map[string]bool{}
	doc.Root.Walk(func(n *Node) bool {
		if n.Name.Space != "" {
			used[n.Name.Space] = true
		}
		for _, a := range n.Attrs {
			if a.Name.Space != "" {
				used[a.Name.Space] = true
			}
		}
		return true
	})

	taken := map[string]bool{}
	var pending []string
	for _, uri := range sortedKeys(used) {
		p, ok := declared[uri]
		if !ok {
			pending = append(pending, uri)
			continue
		}
		e.prefixes[uri] = p
		taken[p] = true
	}
	n := 1
	for _, uri := range pending {
		for taken[fmt.Sprintf("ns%d", n)] {
			n++
		}
		p := fmt.Sprintf("ns%d", n)
		e.prefixes[uri] = p
		taken[p] = true
	}
	for uri, p := range e.prefixes {
		e.decls = append(e.decls, Namespace{Prefix: p, URI: uri})
	}
	slices.SortFunc(e.decls, func(a, b Namespace) int { return cmp.Compare(a.Prefix, b.Prefix) })
	return e
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (e *encoder) qname(n Name) string {
	if n.Space == "" {
		return n.Local
	}
	if p := e.prefixes[n.Space]; p != "" {
		return p + ":" + n.Local
	}
	return n.Local
}

func (e *encoder) element(w *bytes.Buffer, n *Node, depth int, root bool) error {
	if n.Name.Local == "" {
		return fmt.Errorf("element without a name at depth %d", depth)
	}
	indent := strings.Repeat("  ", depth)
	w.WriteString(indent)
	w.WriteByte('<')
	name := e.qname(n.Name)
	w.WriteString(name)

	if root {
		for _, ns := range e.decls {
			if ns.Prefix == "" {
				w.WriteString(` xmlns="`)
			} else {
				w.WriteString(` xmlns:` + ns.Prefix + `="`)
			}
			escape(w, ns.URI)
			w.WriteByte('"')
		}
	}

	attrs := make([]Attr, len(n.Attrs))
	copy(attrs, n.Attrs)
	slices.SortStableFunc(attrs, func(a, b Attr) int {
		return cmp.Compare(e.qname(a.Name), e.qname(b.Name))
	})
	for _, a := range attrs {
		w.WriteByte(' ')
		w.WriteString(e.qname(a.Name))
		w.WriteString(`="`)
		escape(w, a.Value)
		w.WriteByte('"')
	}

	text := n.Text
	if len(n.Children) > 0 {
		text = strings.TrimSpace(text)
	}
	if len(n.Children) == 0 && text == "" {
		w.WriteString("/>")
		return nil
	}
	w.WriteByte('>')
	if len(n.Children) == 0 {
		escape(w, text)
	} else {
		if text != "" {
			w.WriteByte('\n')
			w.WriteString(indent + "  ")
			escape(w, text)
		}
		for _, c := range n.Children {
			w.WriteByte('\n')
			if err := e.element(w, c, depth+1, false); err != nil {
				return err
			}
		}
		w.WriteByte('\n')
		w.WriteString(indent)
	}
	w.WriteString("</" + name + ">")
	return nil
}

func escape(w io.Writer, s string) {
	_ = xml.EscapeText(w, []byte(s))
}
