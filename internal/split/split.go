// Package split partitions a canonical record into the fields a pack
// carries natively and the fields that ride in the extension namespace.
package split

import (
	"slices"

	"mismobridge/internal/canonical"
	"mismobridge/internal/mapping"
)

// Partition is the result of splitting a record for one pack. Group entries
// keep their positions in both halves so index i in Standard and Extension
// describes the same entity.
type Partition struct {
	PackID    string
	Standard  canonical.Record
	Extension canonical.Record
	// Names maps extension field keys to their qualified element names,
	// for example "vesting_form" to "MB:VestingFormType".
	Names map[string]string
	// Unmapped lists field keys that neither half can carry, in sorted order.
	Unmapped []string
}

// Split assigns each present field to exactly one half. A field whose
// standard row applies to the pack goes to Standard even when an extension
// row also exists.
func Split(rec canonical.Record, table *mapping.Table, packID string) Partition {
	part := Partition{
		PackID:    packID,
		Standard:  canonical.NewRecord(),
		Extension: canonical.NewRecord(),
		Names:     map[string]string{},
	}
	prefix := ""
	if table.Extensions != nil {
		prefix = table.Extensions.Prefix() + ":"
	}
	unmapped := map[string]bool{}

	place := func(key string, v canonical.Value, std, ext func(canonical.Value)) {
		if _, ok := table.StandardRow(key, packID); ok {
			std(v)
			return
		}
		if row, ok := table.ExtensionRow(key); ok {
			part.Names[key] = prefix + row.Extension
			ext(v)
			return
		}
		unmapped[key] = true
	}

	for _, name := range rec.FieldNames() {
		v, ok := rec.Get(name)
		if !ok {
			continue
		}
		place(name, v,
			func(v canonical.Value) { part.Standard.Set(name, v) },
			func(v canonical.Value) { part.Extension.Set(name, v) })
	}

	for _, group := range rec.GroupNames() {
		entries := rec.Entries(group)
		if _, ok := table.Group(group); !ok {
			if len(entries) > 0 {
				unmapped[group+"[]"] = true
			}
			continue
		}
		if len(entries) == 0 {
			continue
		}
		std := make([]canonical.Entry, len(entries))
		ext := make([]canonical.Entry, len(entries))
		for i, entry := range entries {
			std[i], ext[i] = canonical.Entry{}, canonical.Entry{}
			for field, v := range entry {
				if v.IsNull() {
					continue
				}
				place(canonical.FieldKey(group, field), v,
					func(v canonical.Value) { std[i][field] = v },
					func(v canonical.Value) { ext[i][field] = v })
			}
		}
		part.Standard.Groups[group] = std
		part.Extension.Groups[group] = ext
	}

	for key := range unmapped {
		part.Unmapped = append(part.Unmapped, key)
	}
	slices.Sort(part.Unmapped)
	return part
}

// Merge recombines both halves. Split followed by Merge returns the
// covered subset of the input.
func (p Partition) Merge() canonical.Record {
	out := p.Standard.Clone()
	for name, v := range p.Extension.Fields {
		out.Set(name, v)
	}
	for group, entries := range p.Extension.Groups {
		base := out.Groups[group]
		for i, e := range entries {
			for len(base) <= i {
				base = append(base, canonical.Entry{})
			}
			for f, v := range e {
				base[i][f] = v
			}
		}
		out.Groups[group] = base
	}
	return out
}
