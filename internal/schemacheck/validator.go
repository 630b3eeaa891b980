// Package schemacheck validates documents against a pack's structure,
// datatypes and enumerations. It is the compatibility gate for both
// exported and imported documents.
package schemacheck

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mismobridge/internal/document"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/pkg/requestcontext"
)

// Validator checks documents. It holds no per-run state.
type Validator struct {
	packs  *pack.Registry
	header []string
}

// New constructs a Validator. header is the path below the root of the leaf
// carrying the document's data version.
func New(packs *pack.Registry, header []string) *Validator {
	return &Validator{packs: packs, header: header}
}

// ValidateBytes parses and checks raw bytes against a pack.
func (v *Validator) ValidateBytes(ctx context.Context, data []byte, packID string) (*report.Report, error) {
	p, err := v.packs.Get(packID)
	if err != nil {
		return nil, err
	}
	_, c := v.CheckBytes(data, p)
	return v.build(ctx, p, document.HashBytes(data), c), nil
}

// Validate checks an already parsed document against a pack.
func (v *Validator) Validate(ctx context.Context, doc *document.Document, packID string) (*report.Report, error) {
	p, err := v.packs.Get(packID)
	if err != nil {
		return nil, err
	}
	hash, err := document.ContentHash(doc)
	if err != nil {
		return nil, err
	}
	return v.build(ctx, p, hash, v.Check(doc, p)), nil
}

func (v *Validator) build(ctx context.Context, p *pack.Pack, hash string, c *report.Collector) *report.Report {
	r := report.Merge(rules.PackInfo(p), requestcontext.Now(ctx), c)
	r.RunKind = "validate"
	r.Pack.ContentHash = hash
	return r
}

// CheckBytes parses data and checks the resulting tree. A document that is
// not well-formed yields a single error and a nil tree.
func (v *Validator) CheckBytes(data []byte, p *pack.Pack) (*document.Document, *report.Collector) {
	doc, err := document.Parse(data)
	if err != nil {
		c := &report.Collector{}
		c.Error(report.Issue{
			Category: report.CategoryWellFormed,
			Code:     report.CodeMalformedDocument,
			Message:  "document is not well-formed: " + err.Error(),
		})
		return nil, c
	}
	return doc, v.Check(doc, p)
}

// Check runs structural and datatype checks. Structural findings always
// block; datatype and enumeration findings follow the pack policy.
func (v *Validator) Check(doc *document.Document, p *pack.Pack) *report.Collector {
	w := &walker{
		doc:      doc,
		pack:     p,
		header:   v.header,
		ns:       p.DefaultNamespace(),
		c:        &report.Collector{},
		blocking: p.Policy.DocumentDatatype == pack.SeverityBlocking,
	}
	root := doc.Root
	rootPath := "/" + root.Name.Local
	if root.Name.Local != p.Structure.Root || root.Name.Space != w.ns {
		w.c.Error(report.Issue{
			Category: report.CategoryStructure,
			Code:     report.CodeUnexpectedRoot,
			Message:  fmt.Sprintf("root element is {%s}%s", root.Name.Space, root.Name.Local),
			Path:     rootPath,
			Expected: fmt.Sprintf("{%s}%s", w.ns, p.Structure.Root),
			Actual:   fmt.Sprintf("{%s}%s", root.Name.Space, root.Name.Local),
		})
		return w.c
	}
	el, _ := p.Structure.Element(p.Structure.Root)
	w.container(root, el, rootPath)
	w.references(root)
	w.packIdentity(root)
	return w.c
}

type walker struct {
	doc      *document.Document
	pack     *pack.Pack
	header   []string
	ns       string
	c        *report.Collector
	blocking bool
}

func (w *walker) container(n *document.Node, el *pack.Element, path string) {
	if el.Open {
		return
	}
	if strings.TrimSpace(n.Text) != "" && len(el.Children) > 0 {
		w.c.Error(report.Issue{
			Category: report.CategoryStructure,
			Code:     report.CodeUnexpectedText,
			Message:  fmt.Sprintf("%s holds text but is a container", path),
			Path:     path,
		})
	}

	totals := map[string]int{}
	for _, child := range n.Children {
		if child.Name.Space == w.ns {
			totals[child.Name.Local]++
		}
	}
	paths := w.doc.ChildPaths(path, n)
	lastIndex := -1
	for i, child := range n.Children {
		childPath := paths[i]

		idx := -1
		if child.Name.Space == w.ns {
			idx = el.ChildIndex(child.Name.Local)
		}
		if idx < 0 {
			w.c.Error(report.Issue{
				Category: report.CategoryStructure,
				Code:     report.CodeUnexpectedElement,
				Message:  fmt.Sprintf("%s is not allowed in %s", w.doc.QName(child.Name), el.Name),
				Path:     childPath,
			})
			continue
		}
		if idx < lastIndex {
			w.c.Error(report.Issue{
				Category: report.CategoryStructure,
				Code:     report.CodeOutOfOrder,
				Message:  fmt.Sprintf("%s appears after %s", child.Name.Local, el.Children[lastIndex].Name),
				Path:     childPath,
				Expected: sequence(el),
			})
		}
		lastIndex = max(lastIndex, idx)

		slot := el.Children[idx]
		if slot.IsLeaf() {
			w.leaf(child, slot, childPath)
			continue
		}
		sub, _ := w.pack.Structure.Element(slot.Name)
		w.container(child, sub, childPath)
	}

	for _, slot := range el.Children {
		n := totals[slot.Name]
		switch {
		case n < slot.Min:
			w.c.Error(report.Issue{
				Category: report.CategoryStructure,
				Code:     report.CodeMissingElement,
				Message:  fmt.Sprintf("%s requires %s", el.Name, slot.Name),
				Path:     path + "/" + slot.Name,
				Expected: fmt.Sprintf("at least %d", slot.Min),
				Actual:   strconv.Itoa(n),
			})
		case n > 1 && !slot.Repeat:
			w.c.Error(report.Issue{
				Category: report.CategoryStructure,
				Code:     report.CodeCardinality,
				Message:  fmt.Sprintf("%s allows one %s, found %d", el.Name, slot.Name, n),
				Path:     path + "/" + slot.Name,
				Expected: "at most 1",
				Actual:   strconv.Itoa(n),
			})
		}
	}
}

func (w *walker) leaf(n *document.Node, slot pack.Child, path string) {
	if len(n.Children) > 0 {
		w.c.Error(report.Issue{
			Category: report.CategoryStructure,
			Code:     report.CodeUnexpectedElement,
			Message:  fmt.Sprintf("%s is a value element and cannot contain elements", path),
			Path:     path,
		})
		return
	}
	text := n.Value()
	if slot.Enum != "" {
		allowed := w.pack.Enums[slot.Enum]
		for _, a := range allowed {
			if a == text {
				return
			}
		}
		w.c.Add(report.Issue{
			Category: report.CategoryEnum,
			Code:     report.CodeInvalidEnum,
			Message:  fmt.Sprintf("%s is not an allowed %s value", path, slot.Enum),
			Path:     path,
			Actual:   text,
			Allowed:  allowed,
		}, w.blocking)
		return
	}
	dt, _ := w.pack.Datatype(slot.Type)
	if dt.Match(text) {
		return
	}
	actual := text
	if dt.Sensitive {
		actual = report.MaskValue(text)
	}
	w.c.Add(report.Issue{
		Category: report.CategoryDatatype,
		Code:     report.CodeInvalidFormat,
		Message:  fmt.Sprintf("%s is not a valid %s", path, dt.Name),
		Path:     path,
		Expected: dt.Name,
		Actual:   actual,
	}, w.blocking)
}

// references checks xlink labels are unique and every arc resolves.
func (w *walker) references(root *document.Node) {
	labels := map[string]int{}
	var arcs []*document.Node
	root.Walk(func(n *document.Node) bool {
		if l, ok := n.Attr(document.XLinkNamespace, "label"); ok {
			labels[l]++
			if labels[l] == 2 {
				w.c.Error(report.Issue{
					Category: report.CategoryStructure,
					Code:     report.CodeDuplicateLabel,
					Message:  fmt.Sprintf("label %s is used more than once", l),
					Actual:   l,
				})
			}
		}
		_, hasFrom := n.Attr(document.XLinkNamespace, "from")
		_, hasTo := n.Attr(document.XLinkNamespace, "to")
		if hasFrom || hasTo {
			arcs = append(arcs, n)
		}
		return true
	})
	for _, arc := range arcs {
		for _, end := range []string{"from", "to"} {
			l, ok := arc.Attr(document.XLinkNamespace, end)
			if !ok || labels[l] == 0 {
				w.c.Error(report.Issue{
					Category: report.CategoryStructure,
					Code:     report.CodeDanglingReference,
					Message:  fmt.Sprintf("%s xlink:%s %q does not resolve to a labelled element", arc.Name.Local, end, l),
					Expected: "existing label",
					Actual:   l,
				})
			}
		}
	}
}

func (w *walker) packIdentity(root *document.Node) {
	id, ok := DataVersion(root, w.header)
	if !ok || id == w.pack.DictionaryIdentifier {
		return
	}
	w.c.Warn(report.Issue{
		Category: report.CategoryPack,
		Code:     report.CodePackMismatch,
		Message:  fmt.Sprintf("document declares %s but was validated against pack %s", id, w.pack.ID),
		Expected: w.pack.DictionaryIdentifier,
		Actual:   id,
	})
}

// DataVersion reads the leaf at header below the root. Every step must be
// in the root's namespace, so extension or foreign content cannot supply it.
func DataVersion(root *document.Node, header []string) (string, bool) {
	if len(header) == 0 {
		return "", false
	}
	n := root.Find(root.Name.Space, header)
	if n == nil || !n.IsLeaf() {
		return "", false
	}
	return n.Value(), true
}

func sequence(el *pack.Element) string {
	names := make([]string, len(el.Children))
	for i, c := range el.Children {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
