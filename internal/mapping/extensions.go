package mapping

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExtensionEntry registers one field under the extension namespace.
type ExtensionEntry struct {
	Name   string `yaml:"name"`
	Field  string `yaml:"field"`
	Group  string `yaml:"group,omitempty"`
	Entity string `yaml:"entity,omitempty"`
	Format string `yaml:"format"`
	Since  int    `yaml:"since"`
}

// Scope is the group or entity that owns the extension element.
func (e ExtensionEntry) Scope() string {
	if e.Group != "" {
		return e.Group
	}
	return e.Entity
}

// ExtensionRegistry is the deployment's extension namespace. Names are
// append-only across versions.
type ExtensionRegistry struct {
	Namespace struct {
		Prefix string `yaml:"prefix"`
		URI    string `yaml:"uri"`
	} `yaml:"namespace"`
	Wrapper string           `yaml:"wrapper"`
	Version int              `yaml:"version"`
	Entries []ExtensionEntry `yaml:"entries"`
}

// Prefix returns the namespace prefix used in exported documents.
func (r *ExtensionRegistry) Prefix() string { return r.Namespace.Prefix }

// URI returns the extension namespace URI.
func (r *ExtensionRegistry) URI() string { return r.Namespace.URI }

// LockEntry is one published extension name.
type LockEntry struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
	Scope string `yaml:"scope"`
	Since int    `yaml:"since"`
}

// ParseExtensions decodes and checks an extension registry.
func ParseExtensions(data []byte) (*ExtensionRegistry, error) {
	var reg ExtensionRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse extension registry: %w", err)
	}
	if reg.Namespace.Prefix == "" || reg.Namespace.URI == "" || reg.Wrapper == "" {
		return nil, fmt.Errorf("extension registry needs a namespace prefix, uri and wrapper")
	}
	if reg.Version < 1 {
		return nil, fmt.Errorf("extension registry version must be positive, got %d", reg.Version)
	}
	for _, e := range reg.Entries {
		if e.Name == "" || e.Field == "" || e.Scope() == "" {
			return nil, fmt.Errorf("extension entry %q is incomplete", e.Name)
		}
		if e.Group != "" && e.Entity != "" {
			return nil, fmt.Errorf("extension %s: set group or entity, not both", e.Name)
		}
		if e.Since < 1 || e.Since > reg.Version {
			return nil, fmt.Errorf("extension %s: since %d is outside 1..%d", e.Name, e.Since, reg.Version)
		}
	}
	return &reg, nil
}

// ParseLock decodes an extension lock file.
func ParseLock(data []byte) ([]LockEntry, error) {
	var entries []LockEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse extension lock: %w", err)
	}
	return entries, nil
}

// VerifyLock checks that every published name is still registered with the
// same field, scope and version. New names may be added freely.
func (r *ExtensionRegistry) VerifyLock(locked []LockEntry) error {
	current := make(map[string]ExtensionEntry, len(r.Entries))
	for _, e := range r.Entries {
		current[e.Name] = e
	}
	for _, l := range locked {
		e, ok := current[l.Name]
		if !ok {
			return fmt.Errorf("extension %s was published and cannot be removed", l.Name)
		}
		if e.Field != l.Field || e.Scope() != l.Scope || e.Since != l.Since {
			return fmt.Errorf("extension %s was published as %s/%s since %d and cannot be redefined",
				l.Name, l.Scope, l.Field, l.Since)
		}
	}
	return nil
}

// Lock returns the lock entries for the current registry.
func (r *ExtensionRegistry) Lock() []LockEntry {
	out := make([]LockEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, LockEntry{Name: e.Name, Field: e.Field, Scope: e.Scope(), Since: e.Since})
	}
	return out
}

// MarshalLock renders lock entries in the lock file format.
func MarshalLock(entries []LockEntry) ([]byte, error) {
	return yaml.Marshal(entries)
}
