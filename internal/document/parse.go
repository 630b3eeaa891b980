package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ParseError reports a document that is not well-formed.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Parse reads a complete XML document. Comments and processing
// instructions are dropped; whitespace between elements is ignored.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	doc := &Document{}
	var stack []*Node
	var text []*bytes.Buffer
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syn *xml.SyntaxError
			if errors.As(err, &syn) {
				return nil, &ParseError{Line: syn.Line, Msg: syn.Msg}
			}
			return nil, &ParseError{Msg: err.Error()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && doc.Root != nil {
				line, _ := dec.InputPos()
				return nil, &ParseError{Line: line, Msg: "multiple root elements"}
			}
			n := &Node{Name: Name{Space: t.Name.Space, Local: t.Name.Local}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					if len(stack) == 0 {
						prefix := a.Name.Local
						if a.Name.Space == "" {
							prefix = ""
						}
						doc.Namespaces = append(doc.Namespaces, Namespace{Prefix: prefix, URI: a.Value})
					}
					continue
				}
				n.Attrs = append(n.Attrs, Attr{Name: Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
			}
			if len(stack) == 0 {
				doc.Root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			text = append(text, new(bytes.Buffer))
		case xml.EndElement:
			n := stack[len(stack)-1]
			n.Text = text[len(text)-1].String()
			if len(n.Children) > 0 {
				n.Text = strings.TrimSpace(n.Text)
			}
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					line, _ := dec.InputPos()
					return nil, &ParseError{Line: line, Msg: "text outside the root element"}
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}
	if doc.Root == nil {
		return nil, &ParseError{Msg: "document has no root element"}
	}
	slices.SortFunc(doc.Namespaces, func(a, b Namespace) int { return strings.Compare(a.Prefix, b.Prefix) })
	return doc, nil
}
