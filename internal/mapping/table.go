// Package mapping binds canonical loan record fields to MISMO element paths
// and to the deployment's extension namespace.
package mapping

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"mismobridge/internal/canonical"
)

//go:embed tables/fields.yaml tables/extensions.yaml tables/extensions.lock
var embedded embed.FS

const (
	FieldsFile     = "fields.yaml"
	ExtensionsFile = "extensions.yaml"
	LockFile       = "extensions.lock"
)

// Path is a sequence of element local names.
type Path []string

func (p Path) String() string { return strings.Join(p, "/") }

// Parent returns all but the last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Leaf returns the last segment.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// FormatKind says how a field's value is encoded.
type FormatKind int

const (
	FormatDatatype FormatKind = iota
	FormatEnum
	FormatReference
)

// Companion is a fixed-value leaf written next to a field or group entry,
// such as a type discriminator.
type Companion struct {
	Path  Path
	Value string
}

// Group is a repeating entity in the record and the element that carries
// each of its entries.
type Group struct {
	Name        string
	Container   Path
	Element     string
	LabelPrefix string
	Companions  []Companion

	rows []*Row
}

// Rows returns the group's rows in table order.
func (g *Group) Rows() []*Row { return g.rows }

// Row is one field mapping. Standard rows carry a path in the pack's default
// namespace; extension rows ride under the extension namespace.
type Row struct {
	Field      string
	Group      string
	Path       Path
	Format     string
	Kind       FormatKind
	TypeName   string
	Packs      []string
	Companions []Companion
	Arcrole    string

	// Extension rows only.
	Extension string
	Entity    string
	Since     int
}

// Key names the row in the "group[].field" form.
func (r *Row) Key() string { return canonical.FieldKey(r.Group, r.Field) }

// IsExtension reports whether the row rides in the extension namespace.
func (r *Row) IsExtension() bool { return r.Extension != "" }

// IsReference reports whether the row links an entry to another group.
func (r *Row) IsReference() bool { return r.Kind == FormatReference }

// AppliesTo reports whether a standard row is in effect for the pack.
func (r *Row) AppliesTo(packID string) bool {
	return len(r.Packs) == 0 || slices.Contains(r.Packs, packID)
}

// Relationships locates the xlink relationship container.
type Relationships struct {
	Container Path
	Element   string
}

// Table is the loaded, validated field mapping table.
type Table struct {
	Version       int
	Entities      map[string]Path
	Header        Path
	Relationships Relationships
	Groups        []*Group
	Extensions    *ExtensionRegistry

	rows     []*Row
	byKey    map[string][]*Row
	byExtKey map[string]*Row
	byName   map[string]*Row
	groups   map[string]*Group
}

type rawTable struct {
	Version       int               `yaml:"version"`
	Entities      map[string]string `yaml:"entities"`
	Header        string            `yaml:"header"`
	Relationships struct {
		Container string `yaml:"container"`
		Element   string `yaml:"element"`
	} `yaml:"relationships"`
	Groups []struct {
		Name       string         `yaml:"name"`
		Container  string         `yaml:"container"`
		Element    string         `yaml:"element"`
		Label      string         `yaml:"label"`
		Companions []rawCompanion `yaml:"companions"`
	} `yaml:"groups"`
	Fields []struct {
		Field      string         `yaml:"field"`
		Group      string         `yaml:"group"`
		Path       string         `yaml:"path"`
		Format     string         `yaml:"format"`
		Packs      []string       `yaml:"packs"`
		Companions []rawCompanion `yaml:"companions"`
		Arcrole    string         `yaml:"arcrole"`
	} `yaml:"fields"`
}

type rawCompanion struct {
	Path  string `yaml:"path"`
	Value string `yaml:"value"`
}

// Default loads the tables compiled into the binary.
func Default() (*Table, error) {
	sub, err := fs.Sub(embedded, "tables")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads the field table, extension registry and extension lock from
// the root of fsys. The registry must satisfy both the lock beside it and
// the lock compiled into the binary.
func Load(fsys fs.FS) (*Table, error) {
	fields, err := fs.ReadFile(fsys, FieldsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table: %w", err)
	}
	exts, err := fs.ReadFile(fsys, ExtensionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension registry: %w", err)
	}
	reg, err := ParseExtensions(exts)
	if err != nil {
		return nil, err
	}
	lock, err := fs.ReadFile(fsys, LockFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("extension lock %s is missing; published extension names cannot be verified: %w", LockFile, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extension lock: %w", err)
	}
	if err := verifyLock(reg, lock); err != nil {
		return nil, err
	}
	published, err := embedded.ReadFile("tables/" + LockFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read published extension lock: %w", err)
	}
	if err := verifyLock(reg, published); err != nil {
		return nil, err
	}
	return Parse(fields, reg)
}

func verifyLock(reg *ExtensionRegistry, data []byte) error {
	entries, err := ParseLock(data)
	if err != nil {
		return err
	}
	return reg.VerifyLock(entries)
}

// Parse decodes a field table and joins it with the extension registry.
func Parse(data []byte, reg *ExtensionRegistry) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mapping YAML: %w", err)
	}

	t := &Table{
		Version:    raw.Version,
		Entities:   map[string]Path{},
		Extensions: reg,
		byKey:      map[string][]*Row{},
		byExtKey:   map[string]*Row{},
		byName:     map[string]*Row{},
		groups:     map[string]*Group{},
	}
	for name := range raw.Entities {
		p, err := expand(raw.Entities[name], raw.Entities, 0)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		t.Entities[name] = p
	}
	var err error
	if t.Header, err = t.path(raw.Header); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if t.Relationships.Container, err = t.path(raw.Relationships.Container); err != nil {
		return nil, fmt.Errorf("relationships: %w", err)
	}
	t.Relationships.Element = raw.Relationships.Element

	for _, g := range raw.Groups {
		if g.Name == "" || g.Element == "" {
			return nil, fmt.Errorf("group %q: name and element are required", g.Name)
		}
		if _, dup := t.groups[g.Name]; dup {
			return nil, fmt.Errorf("group %q declared twice", g.Name)
		}
		container, err := t.path(g.Container)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		comps, err := t.companions(g.Companions)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		label := g.Label
		if label == "" {
			label = g.Element
		}
		grp := &Group{Name: g.Name, Container: container, Element: g.Element, LabelPrefix: label, Companions: comps}
		t.Groups = append(t.Groups, grp)
		t.groups[g.Name] = grp
	}

	for _, f := range raw.Fields {
		row := &Row{Field: f.Field, Group: f.Group, Format: f.Format, Packs: f.Packs, Arcrole: f.Arcrole}
		if row.Field == "" {
			return nil, fmt.Errorf("mapping row with path %q has no field", f.Path)
		}
		if err := row.parseFormat(); err != nil {
			return nil, fmt.Errorf("field %s: %w", row.Key(), err)
		}
		if row.IsReference() {
			if row.Arcrole == "" || row.Group == "" {
				return nil, fmt.Errorf("field %s: references need a group and an arcrole", row.Key())
			}
			if f.Path != "" {
				return nil, fmt.Errorf("field %s: references are written as relationships and take no path", row.Key())
			}
		} else {
			if row.Path, err = t.path(f.Path); err != nil {
				return nil, fmt.Errorf("field %s: %w", row.Key(), err)
			}
			if len(row.Path) == 0 {
				return nil, fmt.Errorf("field %s: path is required", row.Key())
			}
		}
		if row.Companions, err = t.companions(f.Companions); err != nil {
			return nil, fmt.Errorf("field %s: %w", row.Key(), err)
		}
		if err := t.addRow(row); err != nil {
			return nil, err
		}
	}

	if reg != nil {
		for _, e := range reg.Entries {
			row := &Row{
				Field:     e.Field,
				Group:     e.Group,
				Format:    e.Format,
				Extension: e.Name,
				Entity:    e.Entity,
				Since:     e.Since,
			}
			if err := row.parseFormat(); err != nil {
				return nil, fmt.Errorf("extension %s: %w", e.Name, err)
			}
			if row.IsReference() {
				return nil, fmt.Errorf("extension %s: references cannot ride in the extension namespace", e.Name)
			}
			if row.Group == "" {
				if _, ok := t.Entities[row.Entity]; !ok {
					return nil, fmt.Errorf("extension %s: unknown entity %q", e.Name, row.Entity)
				}
			}
			if err := t.addRow(row); err != nil {
				return nil, err
			}
		}
	}

	for _, rows := range t.byKey {
		if err := checkApplicability(rows); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addRow(row *Row) error {
	if row.Group != "" {
		g, ok := t.groups[row.Group]
		if !ok {
			return fmt.Errorf("field %s: unknown group %q", row.Key(), row.Group)
		}
		g.rows = append(g.rows, row)
	}
	if row.IsReference() {
		if _, ok := t.groups[row.TypeName]; !ok {
			return fmt.Errorf("field %s: references unknown group %q", row.Key(), row.TypeName)
		}
	}
	if row.IsExtension() {
		if _, dup := t.byExtKey[row.Key()]; dup {
			return fmt.Errorf("field %s has two extension entries", row.Key())
		}
		if _, dup := t.byName[row.Extension]; dup {
			return fmt.Errorf("extension name %s registered twice", row.Extension)
		}
		t.byExtKey[row.Key()] = row
		t.byName[row.Extension] = row
	} else {
		t.byKey[row.Key()] = append(t.byKey[row.Key()], row)
	}
	t.rows = append(t.rows, row)
	return nil
}

// checkApplicability rejects tables where two standard rows for the same
// field could both apply to one pack.
func checkApplicability(rows []*Row) error {
	seen := map[string]bool{}
	unrestricted := 0
	for _, r := range rows {
		if len(r.Packs) == 0 {
			unrestricted++
			continue
		}
		for _, p := range r.Packs {
			if seen[p] {
				return fmt.Errorf("field %s is mapped twice for pack %s", r.Key(), p)
			}
			seen[p] = true
		}
	}
	if unrestricted > 1 || (unrestricted == 1 && len(seen) > 0) {
		return fmt.Errorf("field %s has overlapping pack applicability", rows[0].Key())
	}
	return nil
}

func (r *Row) parseFormat() error {
	kind, name, found := strings.Cut(r.Format, ":")
	switch {
	case !found && r.Format != "":
		r.Kind, r.TypeName = FormatDatatype, r.Format
	case kind == "enum" && name != "":
		r.Kind, r.TypeName = FormatEnum, name
	case kind == "reference" && name != "":
		r.Kind, r.TypeName = FormatReference, name
	default:
		return fmt.Errorf("unsupported format %q", r.Format)
	}
	return nil
}

func (t *Table) path(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	raw := make(map[string]string, len(t.Entities))
	for k, v := range t.Entities {
		raw[k] = v.String()
	}
	return expand(s, raw, 0)
}

func (t *Table) companions(raw []rawCompanion) ([]Companion, error) {
	out := make([]Companion, 0, len(raw))
	for _, c := range raw {
		p, err := t.path(c.Path)
		if err != nil {
			return nil, err
		}
		if len(p) == 0 || c.Value == "" {
			return nil, fmt.Errorf("companion needs a path and a value")
		}
		out = append(out, Companion{Path: p, Value: c.Value})
	}
	return out, nil
}

// expand resolves a leading "@entity" reference and splits the path.
func expand(s string, entities map[string]string, depth int) (Path, error) {
	if depth > 8 {
		return nil, fmt.Errorf("entity references nest too deeply in %q", s)
	}
	s = strings.Trim(s, "/")
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "@") {
		head, rest, _ := strings.Cut(s[1:], "/")
		base, ok := entities[head]
		if !ok {
			return nil, fmt.Errorf("unknown entity %q", head)
		}
		prefix, err := expand(base, entities, depth+1)
		if err != nil {
			return nil, err
		}
		tail, err := expand(rest, entities, depth+1)
		if err != nil {
			return nil, err
		}
		return append(slices.Clone(prefix), tail...), nil
	}
	parts := strings.Split(s, "/")
	for _, p := range parts {
		if p == "" || strings.HasPrefix(p, "@") {
			return nil, fmt.Errorf("malformed path %q", s)
		}
	}
	return parts, nil
}

// Rows returns every row in table order, standard rows first.
func (t *Table) Rows() []*Row { return t.rows }

// LoanRows returns the loan-level rows in table order.
func (t *Table) LoanRows() []*Row {
	var out []*Row
	for _, r := range t.rows {
		if r.Group == "" {
			out = append(out, r)
		}
	}
	return out
}

// Group returns the group definition for name.
func (t *Table) Group(name string) (*Group, bool) {
	g, ok := t.groups[name]
	return g, ok
}

// StandardRow returns the standard row for key in effect for the pack.
func (t *Table) StandardRow(key, packID string) (*Row, bool) {
	for _, r := range t.byKey[key] {
		if r.AppliesTo(packID) {
			return r, true
		}
	}
	return nil, false
}

// ExtensionRow returns the extension row registered for key.
func (t *Table) ExtensionRow(key string) (*Row, bool) {
	r, ok := t.byExtKey[key]
	return r, ok
}

// ExtensionByName returns the extension row registered under name.
func (t *Table) ExtensionByName(name string) (*Row, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Resolve returns the row that carries key for the pack: the standard row
// when one applies, otherwise the extension row.
func (t *Table) Resolve(key, packID string) (*Row, bool) {
	if r, ok := t.StandardRow(key, packID); ok {
		return r, true
	}
	return t.ExtensionRow(key)
}

// Covered reports whether key survives an export under the pack.
func (t *Table) Covered(key, packID string) bool {
	_, ok := t.Resolve(key, packID)
	return ok
}

// Known reports whether key names any row, regardless of pack.
func (t *Table) Known(key string) bool {
	_, std := t.byKey[key]
	_, ext := t.byExtKey[key]
	return std || ext
}

// ExtensionHost returns the path of the element that owns a loan-level
// extension row.
func (t *Table) ExtensionHost(row *Row) Path {
	return t.Entities[row.Entity]
}
