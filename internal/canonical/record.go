package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Entry is one element of a repeating group, keyed by field name.
type Entry map[string]Value

// Record is a canonical loan record: loan-level scalar fields plus named
// repeating groups (borrowers, assets, real estate owned).
type Record struct {
	Fields map[string]Value
	Groups map[string][]Entry
}

// NewRecord returns an empty record ready for writes.
func NewRecord() Record {
	return Record{Fields: map[string]Value{}, Groups: map[string][]Entry{}}
}

// Set stores a loan-level field. Null values remove the field.
func (r *Record) Set(field string, v Value) {
	if r.Fields == nil {
		r.Fields = map[string]Value{}
	}
	if v.IsNull() {
		delete(r.Fields, field)
		return
	}
	r.Fields[field] = v
}

// Get returns a loan-level field.
func (r Record) Get(field string) (Value, bool) {
	v, ok := r.Fields[field]
	return v, ok && !v.IsNull()
}

// AddEntry appends an entry to a group and returns its index.
func (r *Record) AddEntry(group string, e Entry) int {
	if r.Groups == nil {
		r.Groups = map[string][]Entry{}
	}
	if e == nil {
		e = Entry{}
	}
	r.Groups[group] = append(r.Groups[group], e)
	return len(r.Groups[group]) - 1
}

// Entries returns the entries of a group, or nil.
func (r Record) Entries(group string) []Entry {
	return r.Groups[group]
}

// FieldNames returns the loan-level field names in sorted order.
func (r Record) FieldNames() []string {
	return slices.Sorted(maps.Keys(r.Fields))
}

// GroupNames returns the group names in sorted order.
func (r Record) GroupNames() []string {
	return slices.Sorted(maps.Keys(r.Groups))
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := NewRecord()
	maps.Copy(out.Fields, r.Fields)
	for name, entries := range r.Groups {
		cp := make([]Entry, len(entries))
		for i, e := range entries {
			cp[i] = maps.Clone(e)
			if cp[i] == nil {
				cp[i] = Entry{}
			}
		}
		out.Groups[name] = cp
	}
	return out
}

// Equal reports whether both records hold the same fields and entries.
// Empty groups and absent groups compare equal.
func (r Record) Equal(o Record) bool {
	return len(Diff(r, o)) == 0
}

// FieldKey names a field in the mapping table: "loan_amount" for loan-level
// fields, "borrowers[].first_name" for group fields.
func FieldKey(group, field string) string {
	if group == "" {
		return field
	}
	return group + "[]." + field
}

// InstancePath names a concrete field occurrence: "borrowers[1].first_name".
func InstancePath(group string, index int, field string) string {
	if group == "" {
		return field
	}
	p := group + "[" + strconv.Itoa(index) + "]"
	if field == "" {
		return p
	}
	return p + "." + field
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+len(r.Groups))
	for k, v := range r.Fields {
		if !v.IsNull() {
			out[k] = v
		}
	}
	for name, entries := range r.Groups {
		list := make([]map[string]Value, len(entries))
		for i, e := range entries {
			list[i] = map[string]Value(e)
			if list[i] == nil {
				list[i] = map[string]Value{}
			}
		}
		out[name] = list
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat JSON object. Scalars become fields and arrays of
// objects become groups; null members are dropped.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := NewRecord()
	for key, msg := range raw {
		trimmed := bytes.TrimSpace(msg)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var entries []map[string]Value
			if err := json.Unmarshal(trimmed, &entries); err != nil {
				return fmt.Errorf("group %q: %w", key, err)
			}
			list := make([]Entry, 0, len(entries))
			for _, e := range entries {
				entry := Entry{}
				for f, v := range e {
					if !v.IsNull() {
						entry[f] = v
					}
				}
				list = append(list, entry)
			}
			rec.Groups[key] = list
			continue
		}
		var v Value
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		rec.Set(key, v)
	}
	*r = rec
	return nil
}
