// Package exporter renders a split canonical record into a MISMO document.
// Output bytes depend only on the record, the pack and the mapping tables.
package exporter

import (
	"fmt"
	"slices"
	"strconv"

	"mismobridge/internal/canonical"
	"mismobridge/internal/document"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/split"
)

const (
	extensionElement = "EXTENSION"
	otherElement     = "OTHER"
	// SchemaVersionAttr carries the extension registry version on each
	// extension wrapper.
	SchemaVersionAttr = "SchemaVersion"
	// ModelIdentifierAttr carries the pack build on the root element.
	ModelIdentifierAttr = "MISMOReferenceModelIdentifier"
)

// Exporter builds documents from partitions.
type Exporter struct {
	table *mapping.Table
}

// New constructs an Exporter over a mapping table.
func New(table *mapping.Table) *Exporter {
	return &Exporter{table: table}
}

// Result is an exported document.
type Result struct {
	Document    *document.Document
	Bytes       []byte
	ContentHash string
}

// run holds per-export state. Labels are allocated from one counter so
// every label in a document is unique.
type run struct {
	table   *mapping.Table
	pack    *pack.Pack
	ns      string
	extNS   string
	counter int
	labels  map[string][]string
}

// Export builds the document tree, sorts it into the pack's sequence order
// and encodes it. Values that cannot be rendered are written as-is so the
// schema validator reports them.
func (x *Exporter) Export(part split.Partition, p *pack.Pack) (*Result, error) {
	if part.PackID != "" && part.PackID != p.ID {
		return nil, fmt.Errorf("partition was split for pack %s, not %s", part.PackID, p.ID)
	}
	r := &run{
		table:  x.table,
		pack:   p,
		ns:     p.DefaultNamespace(),
		labels: map[string][]string{},
	}
	if x.table.Extensions != nil {
		r.extNS = x.table.Extensions.URI()
	}

	root := document.NewNode(r.ns, p.Structure.Root)
	root.SetAttr("", ModelIdentifierAttr, p.BuildIdentifier)
	header := root.EnsurePath(r.ns, x.table.Header)
	header.Text = p.DictionaryIdentifier

	if err := r.loanFields(root, part); err != nil {
		return nil, err
	}
	if err := r.groups(root, part); err != nil {
		return nil, err
	}
	r.relationships(root, part)
	r.sort(root, p.Structure.Root)

	doc := &document.Document{Root: root, Namespaces: r.namespaces()}
	data, err := document.Encode(doc)
	if err != nil {
		return nil, err
	}
	return &Result{Document: doc, Bytes: data, ContentHash: document.HashBytes(data)}, nil
}

func (r *run) namespaces() []document.Namespace {
	out := make([]document.Namespace, 0, len(r.pack.Namespaces)+1)
	for _, ns := range r.pack.Namespaces {
		out = append(out, document.Namespace{Prefix: ns.Prefix, URI: ns.URI})
	}
	if r.table.Extensions != nil {
		out = append(out, document.Namespace{Prefix: r.table.Extensions.Prefix(), URI: r.extNS})
	}
	return out
}

func (r *run) loanFields(root *document.Node, part split.Partition) error {
	extByHost := map[string][]*mapping.Row{}
	var hosts []string
	for _, row := range r.table.LoanRows() {
		if row.IsExtension() {
			if _, ok := part.Extension.Get(row.Field); ok {
				if _, seen := extByHost[row.Entity]; !seen {
					hosts = append(hosts, row.Entity)
				}
				extByHost[row.Entity] = append(extByHost[row.Entity], row)
			}
			continue
		}
		if !row.AppliesTo(r.pack.ID) {
			continue
		}
		v, ok := part.Standard.Get(row.Field)
		if !ok {
			continue
		}
		if err := r.leaf(root, row, v); err != nil {
			return err
		}
	}
	for _, host := range hosts {
		el := root.EnsurePath(r.ns, r.table.Entities[host])
		r.extension(el, extByHost[host], func(row *mapping.Row) (canonical.Value, bool) {
			return part.Extension.Get(row.Field)
		})
	}
	return nil
}

func (r *run) groups(root *document.Node, part split.Partition) error {
	for _, g := range r.table.Groups {
		std := part.Standard.Entries(g.Name)
		ext := part.Extension.Entries(g.Name)
		n := max(len(std), len(ext))
		if n == 0 {
			continue
		}
		container := root.EnsurePath(r.ns, g.Container)
		for i := range n {
			r.counter++
			label := g.LabelPrefix + "_" + strconv.Itoa(r.counter)
			r.labels[g.Name] = append(r.labels[g.Name], label)

			el := container.Append(document.NewNode(r.ns, g.Element))
			el.SetAttr(document.XLinkNamespace, "label", label)
			for _, c := range g.Companions {
				r.companion(el, c)
			}

			var entry, extEntry canonical.Entry
			if i < len(std) {
				entry = std[i]
			}
			if i < len(ext) {
				extEntry = ext[i]
			}
			var extRows []*mapping.Row
			for _, row := range g.Rows() {
				if row.IsExtension() {
					if v, ok := extEntry[row.Field]; ok && !v.IsNull() {
						extRows = append(extRows, row)
					}
					continue
				}
				if row.IsReference() || !row.AppliesTo(r.pack.ID) {
					continue
				}
				if v, ok := entry[row.Field]; ok && !v.IsNull() {
					if err := r.leaf(el, row, v); err != nil {
						return err
					}
				}
			}
			if len(extRows) > 0 {
				r.extension(el, extRows, func(row *mapping.Row) (canonical.Value, bool) {
					v, ok := extEntry[row.Field]
					return v, ok
				})
			}
		}
	}
	return nil
}

func (r *run) leaf(base *document.Node, row *mapping.Row, v canonical.Value) error {
	text, err := r.render(row, v)
	if err != nil {
		return err
	}
	parent := base.EnsurePath(r.ns, row.Path.Parent())
	leaf := parent.Ensure(r.ns, row.Path.Leaf())
	leaf.Text = text
	for _, c := range row.Companions {
		r.companion(base, c)
	}
	return nil
}

func (r *run) companion(base *document.Node, c mapping.Companion) {
	parent := base.EnsurePath(r.ns, c.Path.Parent())
	parent.Ensure(r.ns, c.Path.Leaf()).Text = c.Value
}

func (r *run) render(row *mapping.Row, v canonical.Value) (string, error) {
	codec, err := mapping.CodecFor(row, r.pack)
	if err != nil {
		return "", err
	}
	text, err := codec.Render(v)
	if err != nil {
		return v.String(), nil
	}
	return text, nil
}

func (r *run) extension(host *document.Node, rows []*mapping.Row, value func(*mapping.Row) (canonical.Value, bool)) {
	reg := r.table.Extensions
	other := host.EnsurePath(r.ns, []string{extensionElement, otherElement})
	wrapper := other.Append(document.NewNode(r.extNS, reg.Wrapper))
	wrapper.SetAttr("", SchemaVersionAttr, strconv.Itoa(reg.Version))
	for _, row := range rows {
		v, ok := value(row)
		if !ok {
			continue
		}
		text, err := r.render(row, v)
		if err != nil {
			text = v.String()
		}
		wrapper.Append(&document.Node{Name: document.Name{Space: r.extNS, Local: row.Extension}, Text: text})
	}
}

func (r *run) relationships(root *document.Node, part split.Partition) {
	var rels []*document.Node
	for _, g := range r.table.Groups {
		for _, row := range g.Rows() {
			if !row.IsReference() || !row.AppliesTo(r.pack.ID) {
				continue
			}
			targets := r.labels[row.TypeName]
			for i, entry := range part.Standard.Entries(g.Name) {
				v, ok := entry[row.Field]
				if !ok || v.IsNull() || i >= len(r.labels[g.Name]) {
					continue
				}
				to := "UNRESOLVED_" + v.String()
				if idx := v.Num(); v.Kind() == canonical.KindNumber && idx == float64(int(idx)) && int(idx) >= 0 && int(idx) < len(targets) {
					to = targets[int(idx)]
				}
				rel := document.NewNode(r.ns, r.table.Relationships.Element)
				rel.SetAttr(document.XLinkNamespace, "from", r.labels[g.Name][i])
				rel.SetAttr(document.XLinkNamespace, "to", to)
				rel.SetAttr(document.XLinkNamespace, "arcrole", row.Arcrole)
				rels = append(rels, rel)
			}
		}
	}
	if len(rels) == 0 {
		return
	}
	container := root.EnsurePath(r.ns, r.table.Relationships.Container)
	container.Children = append(container.Children, rels...)
}

// sort orders every container's children by the pack's sequence. Children
// the structure does not list keep their relative order at the end.
func (r *run) sort(n *document.Node, name string) {
	el, ok := r.pack.Structure.Element(name)
	if !ok || el.Open {
		return
	}
	rank := func(c *document.Node) int {
		if c.Name.Space != r.ns {
			return len(el.Children)
		}
		if i := el.ChildIndex(c.Name.Local); i >= 0 {
			return i
		}
		return len(el.Children)
	}
	slices.SortStableFunc(n.Children, func(a, b *document.Node) int { return rank(a) - rank(b) })
	for _, c := range n.Children {
		if c.Name.Space == r.ns {
			r.sort(c, c.Name.Local)
		}
	}
}
