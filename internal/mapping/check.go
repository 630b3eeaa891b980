package mapping

import (
	"fmt"
	"slices"
	"strings"

	"mismobridge/internal/pack"
)

// CheckPack verifies that the table and the pack agree: every applicable
// standard row lands on a leaf of the right type, companions carry allowed
// values, extension formats resolve, and every rule names a mapped field.
func (t *Table) CheckPack(p *pack.Pack) error {
	root, ok := p.Structure.Element(p.Structure.Root)
	if !ok {
		return fmt.Errorf("pack %s: no root element", p.ID)
	}
	if _, err := leafAt(p, root, t.Header); err != nil {
		return fmt.Errorf("pack %s: header: %w", p.ID, err)
	}
	if len(t.Relationships.Container) > 0 {
		if err := containerHas(p, root, t.Relationships.Container, t.Relationships.Element); err != nil {
			return fmt.Errorf("pack %s: relationships: %w", p.ID, err)
		}
	}

	for _, row := range t.rows {
		if row.IsExtension() {
			if _, err := CodecFor(row, p); err != nil {
				return err
			}
			continue
		}
		if !row.AppliesTo(p.ID) || row.IsReference() {
			continue
		}
		base := root
		if row.Group != "" {
			el, err := t.entryElement(p, root, row.Group)
			if err != nil {
				return err
			}
			base = el
		}
		if err := checkLeaf(p, base, row.Path, row.Kind, row.TypeName, ""); err != nil {
			return fmt.Errorf("pack %s: field %s: %w", p.ID, row.Key(), err)
		}
		for _, c := range row.Companions {
			if err := checkCompanion(p, base, c); err != nil {
				return fmt.Errorf("pack %s: field %s: %w", p.ID, row.Key(), err)
			}
		}
	}

	for _, g := range t.Groups {
		el, err := t.entryElement(p, root, g.Name)
		if err != nil {
			return err
		}
		for _, c := range g.Companions {
			if err := checkCompanion(p, el, c); err != nil {
				return fmt.Errorf("pack %s: group %s: %w", p.ID, g.Name, err)
			}
		}
		if _, ok := t.extensionRowsFor(g.Name); ok {
			if _, has := el.Child("EXTENSION"); !has {
				return fmt.Errorf("pack %s: group %s carries extensions but %s has no EXTENSION slot", p.ID, g.Name, g.Element)
			}
		}
	}
	for name, path := range t.Entities {
		if _, ok := t.extensionRowsFor(name); !ok {
			continue
		}
		if err := containerHas(p, root, path, "EXTENSION"); err != nil {
			return fmt.Errorf("pack %s: entity %s: %w", p.ID, name, err)
		}
	}

	for _, r := range p.Rules.Required {
		if !t.Known(r.Field) {
			return fmt.Errorf("pack %s: required rule names unmapped field %s", p.ID, r.Field)
		}
	}
	for _, r := range p.Rules.RequiredGroups {
		if _, ok := t.groups[r.Group]; !ok {
			return fmt.Errorf("pack %s: required group %s is not mapped", p.ID, r.Group)
		}
	}
	for _, r := range p.Rules.Conditional {
		for _, f := range []string{r.When.Field, r.Then.Field} {
			if !t.Known(f) {
				return fmt.Errorf("pack %s: conditional rule %s names unmapped field %s", p.ID, r.ID, f)
			}
		}
		wg, _, _ := strings.Cut(r.When.Field, "[]")
		tg, _, _ := strings.Cut(r.Then.Field, "[]")
		if strings.Contains(r.When.Field, "[]") && (!strings.Contains(r.Then.Field, "[]") || wg != tg) {
			return fmt.Errorf("pack %s: conditional rule %s must constrain a field of the same group", p.ID, r.ID)
		}
	}
	return nil
}

func (t *Table) extensionRowsFor(scope string) ([]*Row, bool) {
	var out []*Row
	for _, r := range t.rows {
		if !r.IsExtension() {
			continue
		}
		if r.Group == scope || (r.Group == "" && r.Entity == scope) {
			out = append(out, r)
		}
	}
	return out, len(out) > 0
}

func (t *Table) entryElement(p *pack.Pack, root *pack.Element, group string) (*pack.Element, error) {
	g := t.groups[group]
	if err := containerHas(p, root, g.Container, g.Element); err != nil {
		return nil, fmt.Errorf("pack %s: group %s: %w", p.ID, group, err)
	}
	el, _ := p.Structure.Element(g.Element)
	return el, nil
}

// descend walks container elements along path.
func descend(p *pack.Pack, from *pack.Element, path Path) (*pack.Element, error) {
	el := from
	for _, seg := range path {
		c, ok := el.Child(seg)
		if !ok {
			return nil, fmt.Errorf("%s does not allow %s", el.Name, seg)
		}
		if c.IsLeaf() {
			return nil, fmt.Errorf("%s is a leaf, not a container", seg)
		}
		el, _ = p.Structure.Element(seg)
	}
	return el, nil
}

func containerHas(p *pack.Pack, root *pack.Element, path Path, child string) error {
	el, err := descend(p, root, path)
	if err != nil {
		return err
	}
	if _, ok := el.Child(child); !ok {
		return fmt.Errorf("%s does not allow %s", el.Name, child)
	}
	return nil
}

func leafAt(p *pack.Pack, from *pack.Element, path Path) (pack.Child, error) {
	parent, err := descend(p, from, path.Parent())
	if err != nil {
		return pack.Child{}, err
	}
	c, ok := parent.Child(path.Leaf())
	if !ok || !c.IsLeaf() {
		return pack.Child{}, fmt.Errorf("%s has no leaf %s", parent.Name, path.Leaf())
	}
	return c, nil
}

func checkLeaf(p *pack.Pack, from *pack.Element, path Path, kind FormatKind, typeName, value string) error {
	c, err := leafAt(p, from, path)
	if err != nil {
		return err
	}
	switch kind {
	case FormatEnum:
		if c.Enum != typeName {
			return fmt.Errorf("leaf %s is %q, mapped as enum %s", path, c.Enum+c.Type, typeName)
		}
		if value != "" && !slices.Contains(p.Enums[typeName], value) {
			return fmt.Errorf("companion value %q is not in %s", value, typeName)
		}
	case FormatDatatype:
		if c.Type != typeName {
			return fmt.Errorf("leaf %s is %q, mapped as %s", path, c.Enum+c.Type, typeName)
		}
	}
	return nil
}

func checkCompanion(p *pack.Pack, from *pack.Element, c Companion) error {
	leaf, err := leafAt(p, from, c.Path)
	if err != nil {
		return err
	}
	if leaf.Enum != "" {
		return checkLeaf(p, from, c.Path, FormatEnum, leaf.Enum, c.Value)
	}
	return nil
}
