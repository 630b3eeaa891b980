// Package importer maps MISMO documents back into canonical records using
// the same field table the exporter writes with. Nodes the table does not
// cover are retained as UnmappedNode values, never dropped.
package importer

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"mismobridge/internal/canonical"
	"mismobridge/internal/document"
	"mismobridge/internal/exporter"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/pkg/requestcontext"
)

// PreviewLength bounds UnmappedNode.RawValuePreview.
const PreviewLength = 120

// UnmappedNode is a document node with no mapping. Raw holds the node
// verbatim so it can be recovered; the preview is redacted.
type UnmappedNode struct {
	Path            string `json:"path"`
	RawValuePreview string `json:"raw_value_preview"`
	Raw             string `json:"raw"`
	Reason          string `json:"reason"`
}

// Result is one import.
type Result struct {
	PackID   string
	Record   canonical.Record
	Unmapped []UnmappedNode
	Issues   *report.Collector
	Report   *report.Report
}

// Mapper imports documents. Plans are built for every pack up front and
// shared by concurrent imports.
type Mapper struct {
	packs *pack.Registry
	table *mapping.Table
	plans map[string]*plan
}

// New builds import plans for every registered pack.
func New(packs *pack.Registry, table *mapping.Table) (*Mapper, error) {
	m := &Mapper{packs: packs, table: table, plans: map[string]*plan{}}
	for _, p := range packs.Packs() {
		pl, err := buildPlan(table, p)
		if err != nil {
			return nil, fmt.Errorf("import plan for %s: %w", p.ID, err)
		}
		m.plans[p.ID] = pl
	}
	return m, nil
}

// Import maps doc under the pack. Data problems become issues and unmapped
// nodes; only an unknown pack is an error.
func (m *Mapper) Import(ctx context.Context, doc *document.Document, packID string) (*Result, error) {
	p, err := m.packs.Get(packID)
	if err != nil {
		return nil, err
	}
	res := m.Map(doc, p)
	res.Report = report.Merge(rules.PackInfo(p), requestcontext.Now(ctx), res.Issues)
	res.Report.RunKind = "import"
	return res, nil
}

// Map walks the document and returns the record, unmapped nodes and
// mapping issues without building a report.
func (m *Mapper) Map(doc *document.Document, p *pack.Pack) *Result {
	r := &run{
		table:   m.table,
		plan:    m.plans[p.ID],
		doc:     doc,
		pack:    p,
		ns:      p.DefaultNamespace(),
		rec:     canonical.NewRecord(),
		entries: map[string][]canonical.Entry{},
		labels:  map[string]entryRef{},
		c:       &report.Collector{},
	}
	if m.table.Extensions != nil {
		r.extNS = m.table.Extensions.URI()
	}
	r.walkRoot()
	for _, g := range m.table.Groups {
		if entries := r.entries[g.Name]; len(entries) > 0 {
			r.rec.Groups[g.Name] = entries
		}
	}
	return &Result{PackID: p.ID, Record: r.rec, Unmapped: r.unmapped, Issues: r.c}
}

// Quarantine retains every top-level node of a document that could not be
// bound to a pack.
func Quarantine(doc *document.Document, reason string) []UnmappedNode {
	r := &run{doc: doc, c: &report.Collector{}}
	root := doc.Root
	path := "/" + doc.QName(root.Name)
	if len(root.Children) == 0 {
		r.retain(root, path, reason)
		return r.unmapped
	}
	for i, p := range doc.ChildPaths(path, root) {
		r.retain(root.Children[i], p, reason)
	}
	return r.unmapped
}

// RawDocument retains bytes that could not be parsed at all.
func RawDocument(data []byte, reason string) UnmappedNode {
	return UnmappedNode{
		Path:            "/",
		RawValuePreview: preview(string(data)),
		Raw:             string(data),
		Reason:          reason,
	}
}

type entryRef struct {
	group string
	index int
}

type arc struct {
	node *document.Node
	path string
}

type run struct {
	table *mapping.Table
	plan  *plan
	doc   *document.Document
	pack  *pack.Pack
	ns    string
	extNS string

	rec      canonical.Record
	entries  map[string][]canonical.Entry
	labels   map[string]entryRef
	arcs     []arc
	unmapped []UnmappedNode
	c        *report.Collector
}

// scope collects the values of the loan or of one group entry.
type scope struct {
	group   string
	values  map[string]canonical.Value
	seen    map[*companion]bool
	pending []pendingCompanion
}

type pendingCompanion struct {
	node *document.Node
	path string
	comp *companion
}

func newScope(group string, values map[string]canonical.Value) *scope {
	return &scope{group: group, values: values, seen: map[*companion]bool{}}
}

func (r *run) walkRoot() {
	root := r.doc.Root
	path := "/" + r.doc.QName(root.Name)
	if root.Name.Space != r.ns || root.Name.Local != r.pack.Structure.Root {
		r.retain(root, path, "unexpected root element")
		return
	}
	r.attrs(root, path, document.Name{Local: exporter.ModelIdentifierAttr})

	sc := newScope("", r.rec.Fields)
	r.walk(root, r.plan.loan, path, sc)
	r.settle(sc)
	r.resolveArcs()
}

func (r *run) walk(n *document.Node, t *trie, path string, sc *scope) {
	if strings.TrimSpace(n.Text) != "" && len(n.Children) > 0 {
		r.retainText(n, path)
	}
	paths := r.doc.ChildPaths(path, n)
	for i, c := range n.Children {
		p := paths[i]
		if c.Name.Space != r.ns {
			r.retain(c, p, "element outside the standard namespace")
			continue
		}
		sub := t.next(c.Name.Local)
		switch {
		case sub == nil:
			r.retain(c, p, "no field mapping for element")
		case sub.group != nil:
			r.groupContainer(c, sub.group, p)
		case sub.relationships:
			r.relationshipContainer(c, p)
		case sub.extension != "":
			r.extensionSlot(c, p, sc, sub.extension)
		case sub.row != nil:
			r.leaf(c, p, sub.row, sc)
		case sub.companion != nil:
			r.companion(c, p, sub.companion, sc)
		case sub.header:
			if !c.IsLeaf() || len(c.Attrs) > 0 {
				r.retain(c, p, "header carries unexpected content")
			}
		case c.IsLeaf():
			r.retain(c, p, "empty or text-only container")
		default:
			r.attrs(c, p)
			r.walk(c, sub, p, sc)
		}
	}
}

func (r *run) leaf(n *document.Node, path string, row *mapping.Row, sc *scope) {
	if !n.IsLeaf() {
		r.retain(n, path, "value element has child elements")
		return
	}
	r.attrs(n, path)
	if _, dup := sc.values[row.Field]; dup {
		r.retain(n, path, "duplicate value for "+row.Key())
		return
	}
	codec, err := mapping.CodecFor(row, r.pack)
	if err != nil {
		r.retain(n, path, err.Error())
		return
	}
	v, err := codec.Parse(n.Text)
	if err != nil {
		r.retain(n, path, "value is not a valid "+codec.Expected())
		return
	}
	sc.values[row.Field] = v
}

func (r *run) companion(n *document.Node, path string, comp *companion, sc *scope) {
	if !n.IsLeaf() {
		r.retain(n, path, "value element has child elements")
		return
	}
	r.attrs(n, path)
	if got := n.Value(); got != comp.value {
		r.c.Warn(report.Issue{
			Category: report.CategoryMapping,
			Code:     report.CodeCompanionMismatch,
			Message:  fmt.Sprintf("%s is %q where the mapping writes %q", path, got, comp.value),
			Path:     path,
			Expected: comp.value,
			Actual:   got,
		})
		r.retain(n, path, "companion value differs from the mapping")
		return
	}
	if sc.seen[comp] {
		r.retain(n, path, "duplicate companion")
		return
	}
	sc.seen[comp] = true
	if len(comp.owners) > 0 {
		sc.pending = append(sc.pending, pendingCompanion{node: n, path: path, comp: comp})
	}
}

// settle retains companions whose field never appeared; re-export would
// not write them back.
func (r *run) settle(sc *scope) {
	for _, pc := range sc.pending {
		found := false
		for _, row := range pc.comp.owners {
			if _, ok := sc.values[row.Field]; ok {
				found = true
				break
			}
		}
		if !found {
			r.retain(pc.node, pc.path, "companion without its field")
		}
	}
}

func (r *run) groupContainer(n *document.Node, g *mapping.Group, path string) {
	r.attrs(n, path)
	if strings.TrimSpace(n.Text) != "" {
		r.retainText(n, path)
	}
	paths := r.doc.ChildPaths(path, n)
	for i, c := range n.Children {
		if c.Name.Space != r.ns || c.Name.Local != g.Element {
			r.retain(c, paths[i], "unexpected element in "+g.Name+" container")
			continue
		}
		r.entry(c, g, paths[i])
	}
}

func (r *run) entry(n *document.Node, g *mapping.Group, path string) {
	index := len(r.entries[g.Name])
	label := document.Name{Space: document.XLinkNamespace, Local: "label"}
	if l, ok := n.Attr(label.Space, label.Local); ok {
		if prev, dup := r.labels[l]; dup {
			r.retainAttr(n, label, path, fmt.Sprintf("label already names %s[%d]", prev.group, prev.index))
		} else {
			r.labels[l] = entryRef{group: g.Name, index: index}
		}
	}
	r.attrs(n, path, label)

	values := map[string]canonical.Value{}
	sc := newScope(g.Name, values)
	r.walk(n, r.plan.groups[g.Name], path, sc)
	r.settle(sc)
	r.entries[g.Name] = append(r.entries[g.Name], canonical.Entry(values))
}

func (r *run) extensionSlot(n *document.Node, path string, sc *scope, owner string) {
	r.attrs(n, path)
	paths := r.doc.ChildPaths(path, n)
	for i, other := range n.Children {
		if other.Name.Space != r.ns || other.Name.Local != "OTHER" {
			r.retain(other, paths[i], "unexpected element in extension slot")
			continue
		}
		r.attrs(other, paths[i])
		inner := r.doc.ChildPaths(paths[i], other)
		for j, w := range other.Children {
			if r.table.Extensions == nil || w.Name.Space != r.extNS || w.Name.Local != r.table.Extensions.Wrapper {
				r.retain(w, inner[j], "foreign extension content")
				continue
			}
			r.wrapper(w, inner[j], sc, owner)
		}
	}
}

func (r *run) wrapper(n *document.Node, path string, sc *scope, owner string) {
	reg := r.table.Extensions
	versionAttr := document.Name{Local: exporter.SchemaVersionAttr}
	if raw, ok := n.Attr("", exporter.SchemaVersionAttr); ok {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		switch {
		case err != nil:
			r.retainAttr(n, versionAttr, path, "extension schema version is not a number")
		case v > reg.Version:
			r.c.Warn(report.Issue{
				Category: report.CategoryMapping,
				Code:     report.CodeExtensionAhead,
				Message:  fmt.Sprintf("extension data written with schema version %d, registry is at %d", v, reg.Version),
				Path:     path,
				Expected: "<= " + strconv.Itoa(reg.Version),
				Actual:   strconv.Itoa(v),
			})
		}
	}
	r.attrs(n, path, versionAttr)
	if strings.TrimSpace(n.Text) != "" {
		r.retainText(n, path)
	}

	paths := r.doc.ChildPaths(path, n)
	for i, c := range n.Children {
		if c.Name.Space != r.extNS {
			r.retain(c, paths[i], "element outside the extension namespace")
			continue
		}
		row, ok := r.table.ExtensionByName(c.Name.Local)
		switch {
		case !ok:
			r.retain(c, paths[i], "unknown extension "+reg.Prefix()+":"+c.Name.Local)
		case row.Group != sc.group || (sc.group == "" && row.Entity != owner):
			r.retain(c, paths[i], "extension "+row.Extension+" belongs to "+row.Group+row.Entity)
		default:
			r.leaf(c, paths[i], row, sc)
		}
	}
}

func (r *run) relationshipContainer(n *document.Node, path string) {
	r.attrs(n, path)
	paths := r.doc.ChildPaths(path, n)
	for i, c := range n.Children {
		if c.Name.Space != r.ns || c.Name.Local != r.table.Relationships.Element {
			r.retain(c, paths[i], "unexpected element in relationships container")
			continue
		}
		r.arcs = append(r.arcs, arc{node: c, path: paths[i]})
	}
}

// resolveArcs runs after every entry is labelled, so relationships may
// precede or follow the entries they join.
func (r *run) resolveArcs() {
	for _, a := range r.arcs {
		if reason := r.resolve(a.node); reason != "" {
			r.retain(a.node, a.path, reason)
		}
	}
}

func (r *run) resolve(n *document.Node) string {
	if !n.IsLeaf() || strings.TrimSpace(n.Text) != "" {
		return "relationship carries content"
	}
	var from, to, role string
	for _, a := range n.Attrs {
		if a.Name.Space != document.XLinkNamespace {
			return "relationship carries unknown attribute " + r.doc.QName(a.Name)
		}
		switch a.Name.Local {
		case "from":
			from = a.Value
		case "to":
			to = a.Value
		case "arcrole":
			role = a.Value
		default:
			return "relationship carries unknown attribute " + r.doc.QName(a.Name)
		}
	}
	row, ok := r.plan.arcs[role]
	if !ok {
		return "no field mapping for arcrole " + role
	}
	src, ok := r.labels[from]
	if !ok || src.group != row.Group {
		return fmt.Sprintf("xlink:from %q does not name a %s entry", from, row.Group)
	}
	dst, ok := r.labels[to]
	if !ok || dst.group != row.TypeName {
		return fmt.Sprintf("xlink:to %q does not name a %s entry", to, row.TypeName)
	}
	entry := r.entries[src.group][src.index]
	if _, dup := entry[row.Field]; dup {
		return "duplicate value for " + row.Key()
	}
	entry[row.Field] = canonical.Number(float64(dst.index))
	return ""
}

// attrs retains every attribute not in known. Namespace declarations never
// reach the tree.
func (r *run) attrs(n *document.Node, path string, known ...document.Name) {
	for _, a := range n.Attrs {
		expected := false
		for _, k := range known {
			if a.Name == k {
				expected = true
				break
			}
		}
		if !expected {
			r.retainAttr(n, a.Name, path, "no field mapping for attribute")
		}
	}
}

func (r *run) retain(n *document.Node, path, reason string) {
	raw := document.EncodeFragment(r.doc, n)
	text := n.Value()
	if !n.IsLeaf() || len(n.Attrs) > 0 {
		text = strings.Join(strings.Fields(raw), " ")
	}
	r.add(UnmappedNode{Path: path, RawValuePreview: preview(text), Raw: raw, Reason: reason})
}

func (r *run) retainAttr(n *document.Node, name document.Name, path, reason string) {
	v, _ := n.Attr(name.Space, name.Local)
	q := r.doc.QName(name)
	var raw bytes.Buffer
	raw.WriteString(q)
	raw.WriteString(`="`)
	_ = xml.EscapeText(&raw, []byte(v))
	raw.WriteString(`"`)
	r.add(UnmappedNode{Path: path + "/@" + q, RawValuePreview: preview(v), Raw: raw.String(), Reason: reason})
}

// retainText keeps character data found in a container.
func (r *run) retainText(n *document.Node, path string) {
	text := strings.TrimSpace(n.Text)
	r.add(UnmappedNode{Path: path + "/text()", RawValuePreview: preview(text), Raw: text, Reason: "text inside a container"})
}

func (r *run) add(u UnmappedNode) {
	r.unmapped = append(r.unmapped, u)
	r.c.Warn(report.Issue{
		Category: report.CategoryMapping,
		Code:     report.CodeMappingGap,
		Message:  "retained unmapped node: " + u.Reason,
		Path:     u.Path,
		Actual:   u.RawValuePreview,
	})
}

func preview(s string) string {
	s = report.Redact(s)
	if utf8.RuneCountInString(s) <= PreviewLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLength-3]) + "..."
}
