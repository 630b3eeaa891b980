// Package pack holds versioned schema packs: the enumerations, datatypes,
// element structure, preflight rules and policy a target MISMO profile
// imposes. Packs are loaded once at startup and never mutated.
package pack

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Severity decides whether a finding blocks a run.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Base is the underlying value shape of a datatype.
type Base string

const (
	BaseString  Base = "string"
	BaseDecimal Base = "decimal"
	BaseInteger Base = "integer"
	BaseBoolean Base = "boolean"
	BaseDate    Base = "date"
)

// Namespace is a prefix to URI binding. The empty prefix is the default
// namespace of the document.
type Namespace struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	URI    string `yaml:"uri" json:"uri"`
}

// Datatype constrains the lexical form of a leaf value.
type Datatype struct {
	Name      string `yaml:"-" json:"name"`
	Base      Base   `yaml:"base" json:"base"`
	Pattern   string `yaml:"pattern" json:"pattern,omitempty"`
	Decimals  int    `yaml:"decimals" json:"decimals,omitempty"`
	MaxLength int    `yaml:"max_length" json:"max_length,omitempty"`
	Sensitive bool   `yaml:"sensitive" json:"sensitive,omitempty"`

	re *regexp.Regexp
}

// Match reports whether text is a valid lexical form for the datatype.
func (d Datatype) Match(text string) bool {
	if d.MaxLength > 0 && len(text) > d.MaxLength {
		return false
	}
	if d.re != nil && !d.re.MatchString(text) {
		return false
	}
	if d.Base == BaseDate {
		if _, err := time.Parse("2006-01-02", text); err != nil {
			return false
		}
	}
	return true
}

// Child is one slot in an element's content sequence. A child with a Type or
// Enum is a leaf; otherwise it names another element in the structure.
type Child struct {
	Name   string `yaml:"name" json:"name"`
	Min    int    `yaml:"min" json:"min,omitempty"`
	Repeat bool   `yaml:"repeat" json:"repeat,omitempty"`
	Type   string `yaml:"type" json:"type,omitempty"`
	Enum   string `yaml:"enum" json:"enum,omitempty"`
}

// IsLeaf reports whether the child carries a value.
func (c Child) IsLeaf() bool { return c.Type != "" || c.Enum != "" }

// Element describes the allowed content of a container element.
// Open elements accept any content.
type Element struct {
	Name     string  `yaml:"-" json:"name"`
	Open     bool    `yaml:"open" json:"open,omitempty"`
	Children []Child `yaml:"children" json:"children,omitempty"`
}

// ChildIndex returns the sequence position of name, or -1.
func (e *Element) ChildIndex(name string) int {
	return slices.IndexFunc(e.Children, func(c Child) bool { return c.Name == name })
}

// Child returns the slot for name.
func (e *Element) Child(name string) (Child, bool) {
	if i := e.ChildIndex(name); i >= 0 {
		return e.Children[i], true
	}
	return Child{}, false
}

// Structure is the element content model rooted at Root.
type Structure struct {
	Root     string              `yaml:"root" json:"root"`
	Elements map[string]*Element `yaml:"elements" json:"elements"`
}

// Element returns the content model for name.
func (s Structure) Element(name string) (*Element, bool) {
	e, ok := s.Elements[name]
	return e, ok
}

// RequiredField is a field that must be present and non-empty.
// Group fields use the "group[].field" form and apply to every entry.
type RequiredField struct {
	Field string `yaml:"field" json:"field"`
	Owner string `yaml:"owner" json:"owner"`
	Hint  string `yaml:"hint" json:"hint,omitempty"`
}

// RequiredGroup demands a minimum number of entries in a group.
type RequiredGroup struct {
	Group string `yaml:"group" json:"group"`
	Min   int    `yaml:"min" json:"min"`
	Owner string `yaml:"owner" json:"owner"`
	Hint  string `yaml:"hint" json:"hint,omitempty"`
}

// Presence is the demand a conditional rule places on its target field.
type Presence string

const (
	PresenceRequired  Presence = "required"
	PresenceForbidden Presence = "forbidden"
)

// Condition matches when Field holds one of Equals, compared without regard
// to case. Booleans compare against "true" and "false".
type Condition struct {
	Field  string   `yaml:"field" json:"field"`
	Equals []string `yaml:"equals" json:"equals"`
}

// Target is the field a conditional rule constrains.
type Target struct {
	Field    string   `yaml:"field" json:"field"`
	Presence Presence `yaml:"presence" json:"presence"`
}

// ConditionalRule requires or forbids a field based on another field's value.
type ConditionalRule struct {
	ID       string    `yaml:"id" json:"id"`
	When     Condition `yaml:"when" json:"when"`
	Then     Target    `yaml:"then" json:"then"`
	Severity Severity  `yaml:"severity" json:"severity,omitempty"`
	Message  string    `yaml:"message" json:"message,omitempty"`
}

// Rules are the preflight checks a pack contributes.
type Rules struct {
	Required       []RequiredField   `yaml:"required" json:"required"`
	RequiredGroups []RequiredGroup   `yaml:"required_groups" json:"required_groups,omitempty"`
	Conditional    []ConditionalRule `yaml:"conditional" json:"conditional,omitempty"`
}

// Policy sets pack-wide severities.
type Policy struct {
	// DocumentDatatype applies to datatype and enumeration findings on
	// documents, as opposed to structural findings which always block.
	DocumentDatatype Severity `yaml:"document_datatype" json:"document_datatype"`
	// Conditional is the default for conditional rules without their own.
	Conditional Severity `yaml:"conditional" json:"conditional"`
}

// Pack is an immutable schema pack. Values returned by the Registry are
// shared and must be treated as read-only.
type Pack struct {
	ID                   string               `yaml:"id" json:"id"`
	Description          string               `yaml:"description" json:"description,omitempty"`
	StandardVersion      string               `yaml:"standard_version" json:"standard_version"`
	BuildIdentifier      string               `yaml:"build_identifier" json:"build_identifier"`
	DictionaryIdentifier string               `yaml:"dictionary_identifier" json:"dictionary_identifier"`
	Namespaces           []Namespace          `yaml:"namespaces" json:"namespaces"`
	Enums                map[string][]string  `yaml:"enums" json:"enums"`
	Datatypes            map[string]*Datatype `yaml:"datatypes" json:"datatypes"`
	Structure            Structure            `yaml:"structure" json:"structure"`
	Rules                Rules                `yaml:"rules" json:"rules"`
	Policy               Policy               `yaml:"policy" json:"policy"`
	ContentHash          string               `yaml:"-" json:"content_hash"`
}

// DefaultNamespace returns the URI bound to the empty prefix.
func (p *Pack) DefaultNamespace() string {
	return p.NamespaceURI("")
}

// NamespaceURI returns the URI bound to prefix, or "".
func (p *Pack) NamespaceURI(prefix string) string {
	for _, ns := range p.Namespaces {
		if ns.Prefix == prefix {
			return ns.URI
		}
	}
	return ""
}

// Enum returns the allowed values for name.
func (p *Pack) Enum(name string) ([]string, bool) {
	v, ok := p.Enums[name]
	return v, ok
}

// CanonicalEnumValue returns the pack spelling of value, matched without
// regard to case.
func (p *Pack) CanonicalEnumValue(name, value string) (string, bool) {
	for _, allowed := range p.Enums[name] {
		if strings.EqualFold(allowed, value) {
			return allowed, true
		}
	}
	return "", false
}

// Datatype returns the datatype for name.
func (p *Pack) Datatype(name string) (*Datatype, bool) {
	d, ok := p.Datatypes[name]
	return d, ok
}

// ConditionalSeverity resolves the effective severity of a rule.
func (p *Pack) ConditionalSeverity(rule ConditionalRule) Severity {
	if rule.Severity != "" {
		return rule.Severity
	}
	return p.Policy.Conditional
}

// Summary is the listing view of a pack.
type Summary struct {
	ID                   string `json:"id"`
	Description          string `json:"description,omitempty"`
	StandardVersion      string `json:"standard_version"`
	BuildIdentifier      string `json:"build_identifier"`
	DictionaryIdentifier string `json:"dictionary_identifier"`
	ContentHash          string `json:"content_hash"`
}

// Summary returns the listing view of the pack.
func (p *Pack) Summary() Summary {
	return Summary{
		ID:                   p.ID,
		Description:          p.Description,
		StandardVersion:      p.StandardVersion,
		BuildIdentifier:      p.BuildIdentifier,
		DictionaryIdentifier: p.DictionaryIdentifier,
		ContentHash:          p.ContentHash,
	}
}

// compile prepares derived state and checks internal consistency.
func (p *Pack) compile() error {
	if p.ID == "" {
		return fmt.Errorf("pack id is required")
	}
	if p.DictionaryIdentifier == "" {
		return fmt.Errorf("pack %s: dictionary_identifier is required", p.ID)
	}
	if p.DefaultNamespace() == "" {
		return fmt.Errorf("pack %s: default namespace is required", p.ID)
	}
	for name, dt := range p.Datatypes {
		dt.Name = name
		if dt.Pattern != "" {
			re, err := regexp.Compile(dt.Pattern)
			if err != nil {
				return fmt.Errorf("pack %s: datatype %s: %w", p.ID, name, err)
			}
			dt.re = re
		}
		switch dt.Base {
		case BaseString, BaseDecimal, BaseInteger, BaseBoolean, BaseDate:
		default:
			return fmt.Errorf("pack %s: datatype %s: unknown base %q", p.ID, name, dt.Base)
		}
	}
	if err := p.compileStructure(); err != nil {
		return err
	}
	for _, sev := range []Severity{p.Policy.DocumentDatatype, p.Policy.Conditional} {
		if sev != SeverityBlocking && sev != SeverityAdvisory {
			return fmt.Errorf("pack %s: policy severity %q must be blocking or advisory", p.ID, sev)
		}
	}
	for _, r := range p.Rules.Conditional {
		if r.ID == "" || r.When.Field == "" || r.Then.Field == "" {
			return fmt.Errorf("pack %s: conditional rule %q is incomplete", p.ID, r.ID)
		}
		if r.Then.Presence != PresenceRequired && r.Then.Presence != PresenceForbidden {
			return fmt.Errorf("pack %s: conditional rule %s: presence %q", p.ID, r.ID, r.Then.Presence)
		}
		if r.Severity != "" && r.Severity != SeverityBlocking && r.Severity != SeverityAdvisory {
			return fmt.Errorf("pack %s: conditional rule %s: severity %q", p.ID, r.ID, r.Severity)
		}
	}
	return nil
}

func (p *Pack) compileStructure() error {
	s := p.Structure
	if _, ok := s.Elements[s.Root]; !ok {
		return fmt.Errorf("pack %s: structure root %q is not defined", p.ID, s.Root)
	}
	for name, el := range s.Elements {
		el.Name = name
		seen := map[string]bool{}
		for _, c := range el.Children {
			if seen[c.Name] {
				return fmt.Errorf("pack %s: element %s lists %s twice", p.ID, name, c.Name)
			}
			seen[c.Name] = true
			switch {
			case c.Enum != "":
				if _, ok := p.Enums[c.Enum]; !ok {
					return fmt.Errorf("pack %s: %s/%s references unknown enum %s", p.ID, name, c.Name, c.Enum)
				}
			case c.Type != "":
				if _, ok := p.Datatypes[c.Type]; !ok {
					return fmt.Errorf("pack %s: %s/%s references unknown datatype %s", p.ID, name, c.Name, c.Type)
				}
			default:
				if _, ok := s.Elements[c.Name]; !ok {
					return fmt.Errorf("pack %s: %s/%s is neither a leaf nor a defined element", p.ID, name, c.Name)
				}
			}
		}
	}
	return nil
}
