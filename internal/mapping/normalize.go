package mapping

import (
	"mismobridge/internal/canonical"
	"mismobridge/internal/pack"
)

// Normalize returns a copy of rec with every mapped value coerced to the
// kind its row expects under the pack. Unmapped fields pass through.
func (t *Table) Normalize(rec canonical.Record, p *pack.Pack) canonical.Record {
	out := rec.Clone()
	for name, v := range out.Fields {
		row, ok := t.Resolve(name, p.ID)
		if !ok {
			continue
		}
		out.Set(name, t.coerce(row, p, v))
	}
	for group, entries := range out.Groups {
		for _, e := range entries {
			for field, v := range e {
				row, ok := t.Resolve(canonical.FieldKey(group, field), p.ID)
				if !ok {
					continue
				}
				if nv := t.coerce(row, p, v); nv.IsNull() {
					delete(e, field)
				} else {
					e[field] = nv
				}
			}
		}
	}
	return out
}

func (t *Table) coerce(row *Row, p *pack.Pack, v canonical.Value) canonical.Value {
	c, err := CodecFor(row, p)
	if err != nil {
		return v
	}
	return c.Coerce(v)
}

// Restrict keeps only the fields that survive an export under the pack,
// dropping unknown groups and empty groups. Entry positions are preserved.
func (t *Table) Restrict(rec canonical.Record, packID string) canonical.Record {
	out := canonical.NewRecord()
	for name, v := range rec.Fields {
		if t.Covered(name, packID) {
			out.Set(name, v)
		}
	}
	for group, entries := range rec.Groups {
		if _, ok := t.groups[group]; !ok || len(entries) == 0 {
			continue
		}
		kept := make([]canonical.Entry, len(entries))
		for i, e := range entries {
			kept[i] = canonical.Entry{}
			for field, v := range e {
				if !v.IsNull() && t.Covered(canonical.FieldKey(group, field), packID) {
					kept[i][field] = v
				}
			}
		}
		out.Groups[group] = kept
	}
	return out
}
