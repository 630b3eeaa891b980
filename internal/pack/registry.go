package pack

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"mismobridge/pkg/platform/sentinel"
)

//go:embed packs/*.yaml
var embedded embed.FS

// IndexFile is the manifest listing the packs in a directory and their pins.
const IndexFile = "index.yaml"

// UnknownPackError reports a pack identifier that is not registered.
type UnknownPackError struct {
	ID    string
	Known []string
}

func (e *UnknownPackError) Error() string {
	return fmt.Sprintf("unknown schema pack %q (registered: %s)", e.ID, strings.Join(e.Known, ", "))
}

// ErrUnknownEnum is returned when a pack has no enumeration of the given name.
var ErrUnknownEnum = fmt.Errorf("%w: enumeration", sentinel.ErrNotFound)

type manifest struct {
	Packs []manifestEntry `yaml:"packs"`
}

type manifestEntry struct {
	File   string `yaml:"file"`
	SHA256 string `yaml:"sha256"`
}

// Registry is the read-only set of packs available to the pipeline.
type Registry struct {
	packs        map[string]*Pack
	order        []string
	byIdentifier map[string]string
}

// Default loads the packs compiled into the binary.
func Default() (*Registry, error) {
	sub, err := fs.Sub(embedded, "packs")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads the manifest at the root of fsys and every pack it lists. Each
// pack file must match its pinned SHA-256 digest.
func Load(fsys fs.FS) (*Registry, error) {
	raw, err := fs.ReadFile(fsys, IndexFile)
	if err != nil {
		return nil, fmt.Errorf("read pack index: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse pack index: %w", err)
	}
	if len(m.Packs) == 0 {
		return nil, errors.New("pack index lists no packs")
	}

	packs := make([]*Pack, 0, len(m.Packs))
	for _, entry := range m.Packs {
		data, err := fs.ReadFile(fsys, path.Clean(entry.File))
		if err != nil {
			return nil, fmt.Errorf("read pack %s: %w", entry.File, err)
		}
		digest := sha256.Sum256(data)
		got := hex.EncodeToString(digest[:])
		if entry.SHA256 != "" && !strings.EqualFold(entry.SHA256, got) {
			return nil, fmt.Errorf("pack %s: content hash mismatch: pinned %s, found %s", entry.File, entry.SHA256, got)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", entry.File, err)
		}
		packs = append(packs, p)
	}
	return New(packs...)
}

// Parse decodes and compiles a single pack document.
func Parse(data []byte) (*Pack, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Pack
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse pack: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	p.ContentHash = "sha256:" + hex.EncodeToString(digest[:])
	return &p, nil
}

// New builds a registry from already compiled packs.
func New(packs ...*Pack) (*Registry, error) {
	r := &Registry{
		packs:        make(map[string]*Pack, len(packs)),
		byIdentifier: make(map[string]string, len(packs)),
	}
	for _, p := range packs {
		if _, dup := r.packs[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pack id %q", p.ID)
		}
		if other, dup := r.byIdentifier[p.DictionaryIdentifier]; dup {
			return nil, fmt.Errorf("packs %s and %s share dictionary identifier %q", other, p.ID, p.DictionaryIdentifier)
		}
		r.packs[p.ID] = p
		r.byIdentifier[p.DictionaryIdentifier] = p.ID
		r.order = append(r.order, p.ID)
	}
	slices.Sort(r.order)
	return r, nil
}

// Get returns the pack registered under id.
func (r *Registry) Get(id string) (*Pack, error) {
	p, ok := r.packs[id]
	if !ok {
		return nil, &UnknownPackError{ID: id, Known: slices.Clone(r.order)}
	}
	return p, nil
}

// IDs returns the registered pack identifiers in sorted order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

// Packs returns every pack in identifier order.
func (r *Registry) Packs() []*Pack {
	out := make([]*Pack, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.packs[id])
	}
	return out
}

// List returns pack summaries in identifier order.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.packs[id].Summary())
	}
	return out
}

// Enum returns a copy of the allowed values of an enumeration.
func (r *Registry) Enum(packID, name string) ([]string, error) {
	p, err := r.Get(packID)
	if err != nil {
		return nil, err
	}
	values, ok := p.Enum(name)
	if !ok {
		return nil, fmt.Errorf("%w %q in pack %s", ErrUnknownEnum, name, packID)
	}
	return slices.Clone(values), nil
}

// Detect maps a document's data version identifier to a pack id.
func (r *Registry) Detect(identifier string) (string, bool) {
	id, ok := r.byIdentifier[strings.TrimSpace(identifier)]
	return id, ok
}
