// Package rules is the preflight validator: it checks a canonical record
// against a pack before any document is produced.
package rules

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"mismobridge/internal/canonical"
	"mismobridge/internal/document"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/pkg/requestcontext"
)

// Engine runs preflight checks. It holds no per-run state.
type Engine struct {
	packs *pack.Registry
	table *mapping.Table
}

// New constructs an Engine.
func New(packs *pack.Registry, table *mapping.Table) *Engine {
	return &Engine{packs: packs, table: table}
}

// Validate normalizes the record and reports every preflight finding.
// The only error is an unknown pack.
func (e *Engine) Validate(ctx context.Context, rec canonical.Record, packID string) (*report.Report, error) {
	p, err := e.packs.Get(packID)
	if err != nil {
		return nil, err
	}
	c := e.Check(e.table.Normalize(rec, p), p)
	r := report.Merge(PackInfo(p), requestcontext.Now(ctx), c)
	r.RunKind = "preflight"
	return r, nil
}

// PackInfo describes p for reports.
func PackInfo(p *pack.Pack) report.PackInfo {
	return report.PackInfo{
		PackID:          p.ID,
		StandardVersion: p.StandardVersion,
		BuildIdentifier: p.BuildIdentifier,
	}
}

// Check runs the rule chain over an already normalized record.
// Rule order:
//  1. required fields and groups
//  2. enumeration membership
//  3. datatype format and references
//  4. conditional requirements
//  5. fields the pack cannot carry
func (e *Engine) Check(rec canonical.Record, p *pack.Pack) *report.Collector {
	c := &report.Collector{}
	e.checkRequired(c, rec, p)
	e.checkValues(c, rec, p, mapping.FormatEnum)
	e.checkValues(c, rec, p, mapping.FormatDatatype)
	e.checkReferences(c, rec, p)
	e.checkConditionals(c, rec, p)
	e.checkUnmapped(c, rec, p)
	return c
}

func (e *Engine) checkRequired(c *report.Collector, rec canonical.Record, p *pack.Pack) {
	for _, req := range p.Rules.Required {
		group, field, grouped := splitKey(req.Field)
		if !grouped {
			if _, ok := rec.Get(field); !ok {
				c.Error(missing(req.Field, req.Owner, req.Hint))
			}
			continue
		}
		for i, entry := range rec.Entries(group) {
			if v, ok := entry[field]; !ok || v.IsNull() {
				c.Error(missing(canonical.InstancePath(group, i, field), req.Owner, req.Hint))
			}
		}
	}
	for _, req := range p.Rules.RequiredGroups {
		if n := len(rec.Entries(req.Group)); n < req.Min {
			c.Error(report.Issue{
				Category: report.CategoryRequired,
				Code:     report.CodeMissingElement,
				Message:  fmt.Sprintf("%s: %s (%s needs at least %d, found %d)", req.Owner, req.Hint, req.Group, req.Min, n),
				Path:     req.Group,
				Expected: fmt.Sprintf("at least %d", req.Min),
				Actual:   fmt.Sprintf("%d", n),
			})
		}
	}
}

func missing(path, owner, hint string) report.Issue {
	msg := fmt.Sprintf("%s is required", path)
	if hint != "" {
		msg = fmt.Sprintf("%s: %s (%s is required)", owner, hint, path)
	}
	return report.Issue{
		Category: report.CategoryRequired,
		Code:     report.CodeMissingElement,
		Message:  msg,
		Path:     path,
	}
}

// visit calls fn for every present mapped value in table order: loan fields
// first, then each group's entries by index.
func (e *Engine) visit(rec canonical.Record, p *pack.Pack, fn func(row *mapping.Row, path string, v canonical.Value)) {
	for _, row := range e.table.LoanRows() {
		if r, ok := e.table.Resolve(row.Key(), p.ID); !ok || r != row {
			continue
		}
		if v, ok := rec.Get(row.Field); ok {
			fn(row, row.Field, v)
		}
	}
	for _, g := range e.table.Groups {
		for i, entry := range rec.Entries(g.Name) {
			for _, row := range g.Rows() {
				if r, ok := e.table.Resolve(row.Key(), p.ID); !ok || r != row {
					continue
				}
				if v, ok := entry[row.Field]; ok && !v.IsNull() {
					fn(row, canonical.InstancePath(g.Name, i, row.Field), v)
				}
			}
		}
	}
}

func (e *Engine) checkValues(c *report.Collector, rec canonical.Record, p *pack.Pack, kind mapping.FormatKind) {
	e.visit(rec, p, func(row *mapping.Row, path string, v canonical.Value) {
		if row.Kind != kind {
			return
		}
		codec, err := mapping.CodecFor(row, p)
		if err != nil {
			c.Error(report.Issue{Category: report.CategoryPack, Code: report.CodeInvalidFormat, Message: err.Error(), Path: path})
			return
		}
		actual := v.String()
		if codec.Sensitive() {
			actual = report.MaskValue(actual)
		}
		if v.Kind() == canonical.KindString && !document.ValidText(v.Str()) {
			c.Error(report.Issue{
				Category: report.CategoryDatatype,
				Code:     report.CodeInvalidFormat,
				Message:  fmt.Sprintf("%s contains characters a document cannot carry", path),
				Path:     path,
				Expected: "XML 1.0 characters",
				Actual:   actual,
			})
			return
		}

		text, err := codec.Render(v)
		if kind == mapping.FormatEnum {
			if err != nil || !codec.Valid(text) {
				c.Error(report.Issue{
					Category: report.CategoryEnum,
					Code:     report.CodeInvalidEnum,
					Message:  fmt.Sprintf("%s is not an allowed %s value", path, codec.EnumName),
					Path:     path,
					Actual:   actual,
					Allowed:  codec.Enum,
				})
			}
			return
		}
		if err != nil || !codec.Valid(text) {
			reason := "does not match the expected format"
			if err != nil {
				reason = err.Error()
			}
			c.Error(report.Issue{
				Category: report.CategoryDatatype,
				Code:     report.CodeInvalidFormat,
				Message:  fmt.Sprintf("%s %s", path, reason),
				Path:     path,
				Expected: codec.Expected(),
				Actual:   actual,
			})
		}
	})
}

func (e *Engine) checkReferences(c *report.Collector, rec canonical.Record, p *pack.Pack) {
	e.visit(rec, p, func(row *mapping.Row, path string, v canonical.Value) {
		if !row.IsReference() {
			return
		}
		target := len(rec.Entries(row.TypeName))
		codec := mapping.Codec{Kind: mapping.FormatReference}
		_, err := codec.Render(v)
		if err == nil && v.Num() >= 0 && int(v.Num()) < target {
			return
		}
		c.Error(report.Issue{
			Category: report.CategoryDatatype,
			Code:     report.CodeInvalidReference,
			Message:  fmt.Sprintf("%s must index an existing %s entry", path, row.TypeName),
			Path:     path,
			Expected: fmt.Sprintf("0..%d", target-1),
			Actual:   v.String(),
		})
	})
}

func (e *Engine) checkConditionals(c *report.Collector, rec canonical.Record, p *pack.Pack) {
	for _, rule := range p.Rules.Conditional {
		blocking := p.ConditionalSeverity(rule) == pack.SeverityBlocking
		whenGroup, whenField, whenGrouped := splitKey(rule.When.Field)
		thenGroup, thenField, thenGrouped := splitKey(rule.Then.Field)

		switch {
		case whenGrouped:
			for i, entry := range rec.Entries(whenGroup) {
				if !matches(entry[whenField], rule.When.Equals) {
					continue
				}
				v := entry[thenField]
				e.applyTarget(c, rule, canonical.InstancePath(thenGroup, i, thenField), v, blocking)
			}
		default:
			v, _ := rec.Get(whenField)
			if !matches(v, rule.When.Equals) {
				continue
			}
			if !thenGrouped {
				tv, _ := rec.Get(thenField)
				e.applyTarget(c, rule, thenField, tv, blocking)
				continue
			}
			for i, entry := range rec.Entries(thenGroup) {
				e.applyTarget(c, rule, canonical.InstancePath(thenGroup, i, thenField), entry[thenField], blocking)
			}
		}
	}
}

func (e *Engine) applyTarget(c *report.Collector, rule pack.ConditionalRule, path string, v canonical.Value, blocking bool) {
	present := !v.IsNull()
	var code string
	switch {
	case rule.Then.Presence == pack.PresenceRequired && !present:
		code = report.CodeConditionalRequired
	case rule.Then.Presence == pack.PresenceForbidden && present:
		code = report.CodeConditionalForbid
	default:
		return
	}
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("%s is %s when %s is one of %s", path, rule.Then.Presence, rule.When.Field, strings.Join(rule.When.Equals, ", "))
	}
	c.Add(report.Issue{
		Category: report.CategoryConditional,
		Code:     code,
		Message:  fmt.Sprintf("%s (rule %s)", msg, rule.ID),
		Path:     path,
		Expected: string(rule.Then.Presence),
	}, blocking)
}

func (e *Engine) checkUnmapped(c *report.Collector, rec canonical.Record, p *pack.Pack) {
	for _, name := range rec.FieldNames() {
		e.warnUnmapped(c, name, name, p)
	}
	for _, group := range rec.GroupNames() {
		if _, ok := e.table.Group(group); !ok {
			if len(rec.Entries(group)) > 0 {
				c.Warn(report.Issue{
					Category: report.CategoryMapping,
					Code:     report.CodeUnmappedField,
					Message:  fmt.Sprintf("group %s has no mapping and will not be exported", group),
					Path:     group + "[]",
				})
			}
			continue
		}
		keys := map[string]bool{}
		for _, entry := range rec.Entries(group) {
			for field := range entry {
				keys[canonical.FieldKey(group, field)] = true
			}
		}
		for _, key := range slices.Sorted(maps.Keys(keys)) {
			e.warnUnmapped(c, key, key, p)
		}
	}
}

func (e *Engine) warnUnmapped(c *report.Collector, key, path string, p *pack.Pack) {
	if e.table.Covered(key, p.ID) {
		return
	}
	msg := fmt.Sprintf("%s has no mapping and will not be exported", path)
	if e.table.Known(key) {
		msg = fmt.Sprintf("%s is not carried by pack %s and will not be exported", path, p.ID)
	}
	c.Warn(report.Issue{
		Category: report.CategoryMapping,
		Code:     report.CodeUnmappedField,
		Message:  msg,
		Path:     path,
	})
}

func matches(v canonical.Value, equals []string) bool {
	if v.IsNull() {
		return false
	}
	s := v.String()
	for _, want := range equals {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// splitKey splits "group[].field" keys.
func splitKey(key string) (group, field string, grouped bool) {
	if g, f, ok := strings.Cut(key, "[]."); ok {
		return g, f, true
	}
	return "", key, false
}
