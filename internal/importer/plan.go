package importer

import (
	"fmt"

	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
)

// trie is the inverse of the mapping table for one pack: element paths to
// what they carry. Every path the exporter can write under the pack has a
// node here.
type trie struct {
	children map[string]*trie

	row           *mapping.Row
	companion     *companion
	group         *mapping.Group
	header        bool
	relationships bool
	// extension is set on EXTENSION slots and names the entity or group
	// that owns the slot.
	extension string
}

type companion struct {
	value string
	// owners are the rows the companion accompanies. Group companions have
	// none and are recognized whenever the entry is.
	owners []*mapping.Row
}

func (t *trie) insert(path []string) *trie {
	cur := t
	for _, seg := range path {
		if cur.children == nil {
			cur.children = map[string]*trie{}
		}
		next, ok := cur.children[seg]
		if !ok {
			next = &trie{}
			cur.children[seg] = next
		}
		cur = next
	}
	return cur
}

func (t *trie) next(local string) *trie {
	if t == nil {
		return nil
	}
	return t.children[local]
}

func (t *trie) terminal() bool {
	return t.row != nil || t.companion != nil || t.group != nil || t.header || t.relationships || t.extension != ""
}

// plan is the per-pack import plan, built once and read concurrently.
type plan struct {
	loan   *trie
	groups map[string]*trie
	// arcs maps an xlink arcrole to the reference row it resolves.
	arcs map[string]*mapping.Row
}

const extensionElement = "EXTENSION"

func buildPlan(table *mapping.Table, p *pack.Pack) (*plan, error) {
	pl := &plan{loan: &trie{}, groups: map[string]*trie{}, arcs: map[string]*mapping.Row{}}

	pl.loan.insert(table.Header).header = true
	pl.loan.insert(table.Relationships.Container).relationships = true

	for _, row := range table.LoanRows() {
		if row.IsExtension() {
			host := table.ExtensionHost(row)
			slot := pl.loan.insert(append(append([]string{}, host...), extensionElement))
			slot.extension = row.Entity
			continue
		}
		if !row.AppliesTo(p.ID) {
			continue
		}
		if err := place(pl.loan, row); err != nil {
			return nil, err
		}
	}

	for _, g := range table.Groups {
		pl.loan.insert(g.Container).group = g
		gt := &trie{}
		for _, c := range g.Companions {
			gt.insert(c.Path).companion = &companion{value: c.Value}
		}
		for _, row := range g.Rows() {
			switch {
			case row.IsExtension():
				gt.insert([]string{extensionElement}).extension = g.Name
			case !row.AppliesTo(p.ID):
			case row.IsReference():
				if prev, dup := pl.arcs[row.Arcrole]; dup {
					return nil, fmt.Errorf("arcrole %s is claimed by %s and %s", row.Arcrole, prev.Key(), row.Key())
				}
				pl.arcs[row.Arcrole] = row
			default:
				if err := place(gt, row); err != nil {
					return nil, err
				}
			}
		}
		pl.groups[g.Name] = gt
	}
	return pl, nil
}

func place(root *trie, row *mapping.Row) error {
	n := root.insert(row.Path)
	if n.terminal() {
		return fmt.Errorf("pack path %s is claimed twice (%s)", row.Path, row.Key())
	}
	n.row = row
	for _, c := range row.Companions {
		cn := root.insert(c.Path)
		switch {
		case cn.companion == nil && !cn.terminal():
			cn.companion = &companion{value: c.Value}
		case cn.companion == nil || cn.companion.value != c.Value:
			return fmt.Errorf("companion %s of %s conflicts with another mapping", c.Path, row.Key())
		}
		cn.companion.owners = append(cn.companion.owners, row)
	}
	return nil
}
