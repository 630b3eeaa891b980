// Package harness drives generated records through export, validation,
// import and diff, and reports pass rate alongside per-dimension branch
// coverage.
package harness

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"mismobridge/internal/canonical"
	"mismobridge/internal/exporter"
	"mismobridge/internal/importer"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/internal/schemacheck"
	"mismobridge/internal/split"
)

// State is a step in a case's lifecycle.
type State string

const (
	StateGenerated State = "generated"
	StateExported  State = "exported"
	StateValidated State = "validated"
	StateImported  State = "imported"
	StateDiffed    State = "diffed"
	StatePassed    State = "passed"
	StateFailed    State = "failed"
)

// CaseResult is the outcome of one case.
type CaseResult struct {
	ID              int                    `json:"id"`
	Label           string                 `json:"label"`
	Branch          map[string]string      `json:"branch"`
	States          []State                `json:"states"`
	Final           State                  `json:"final"`
	Reason          string                 `json:"reason,omitempty"`
	ContentHash     string                 `json:"content_hash,omitempty"`
	Issues          []report.Issue         `json:"issues,omitempty"`
	Diffs           []canonical.Difference `json:"diffs,omitempty"`
	FirstDivergence string                 `json:"first_divergence,omitempty"`
	Duration        time.Duration          `json:"duration_ns"`
}

// Passed reports whether the case reached the passed state.
func (r CaseResult) Passed() bool { return r.Final == StatePassed }

// Coverage is the share of a dimension's values exercised by completed cases.
type Coverage struct {
	Dimension string   `json:"dimension"`
	Covered   int      `json:"covered"`
	Total     int      `json:"total"`
	Percent   float64  `json:"percent"`
	Missing   []string `json:"missing,omitempty"`
}

// Summary aggregates a run. Abandoned cases never started because the
// context ended; they count toward Total but not toward coverage.
type Summary struct {
	PackID    string        `json:"pack_id"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"`
	PassRate  float64       `json:"pass_rate"`
	Coverage  []Coverage    `json:"coverage"`
	Results   []CaseResult  `json:"results"`
	Duration  time.Duration `json:"duration_ns"`
}

// MinCoverage returns the lowest per-dimension coverage percentage.
func (s *Summary) MinCoverage() float64 {
	if len(s.Coverage) == 0 {
		return 0
	}
	lowest := s.Coverage[0].Percent
	for _, c := range s.Coverage[1:] {
		lowest = min(lowest, c.Percent)
	}
	return lowest
}

// Failures returns the failed cases.
func (s *Summary) Failures() []CaseResult {
	var out []CaseResult
	for _, r := range s.Results {
		if r.Final == StateFailed {
			out = append(out, r)
		}
	}
	return out
}

// Harness runs round-trip cases. It is safe for concurrent use.
type Harness struct {
	packs     *pack.Registry
	table     *mapping.Table
	rules     *rules.Engine
	exporter  *exporter.Exporter
	validator *schemacheck.Validator
	mapper    *importer.Mapper
	workers   int
	progress  func(CaseResult)
}

// Option configures a Harness.
type Option func(*Harness)

// WithWorkers bounds the number of cases in flight.
func WithWorkers(n int) Option {
	return func(h *Harness) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithProgress calls fn as each case completes. fn runs on worker
// goroutines and must be safe for concurrent use.
func WithProgress(fn func(CaseResult)) Option {
	return func(h *Harness) { h.progress = fn }
}

// New wires a harness over the pipeline components.
func New(packs *pack.Registry, table *mapping.Table, opts ...Option) (*Harness, error) {
	mapper, err := importer.New(packs, table)
	if err != nil {
		return nil, err
	}
	h := &Harness{
		packs:     packs,
		table:     table,
		rules:     rules.New(packs, table),
		exporter:  exporter.New(table),
		validator: schemacheck.New(packs, table.Header),
		mapper:    mapper,
		workers:   runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Run executes the cases under the pack. When ctx ends, cases not yet
// started are abandoned and the completed ones are still summarized. The
// only error is an unknown pack.
func (h *Harness) Run(ctx context.Context, packID string, cases []Case) (*Summary, error) {
	p, err := h.packs.Get(packID)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	// One slot per case; workers write only their own slot and the summary
	// is built after Wait.
	slots := make([]*CaseResult, len(cases))
	g := new(errgroup.Group)
	g.SetLimit(h.workers)
	for i := range cases {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := h.runCase(cases[i], p)
			slots[i] = &r
			if h.progress != nil {
				h.progress(r)
			}
			return nil
		})
	}
	_ = g.Wait()

	s := &Summary{PackID: p.ID, Total: len(cases)}
	for _, r := range slots {
		if r == nil {
			s.Abandoned++
			continue
		}
		s.Results = append(s.Results, *r)
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	if done := s.Passed + s.Failed; done > 0 {
		s.PassRate = float64(s.Passed) / float64(done)
	}
	s.Coverage = coverage(Dimensions(p), s.Results)
	s.Duration = time.Since(start)
	return s, nil
}

func (h *Harness) runCase(c Case, p *pack.Pack) (r CaseResult) {
	start := time.Now()
	r = CaseResult{ID: c.ID, Label: c.Label, Branch: c.Branch, States: []State{StateGenerated}}
	defer func() { r.Duration = time.Since(start) }()

	fail := func(reason string) CaseResult {
		r.States = append(r.States, StateFailed)
		r.Final = StateFailed
		r.Reason = reason
		return r
	}

	rec := h.table.Normalize(c.Record, p)
	if pre := h.rules.Check(rec, p); pre.HasErrors() {
		r.Issues = pre.Errors()
		return fail("generated record failed preflight")
	}

	part := split.Split(rec, h.table, p.ID)
	out, err := h.exporter.Export(part, p)
	if err != nil {
		return fail("export: " + err.Error())
	}
	again, err := h.exporter.Export(split.Split(rec, h.table, p.ID), p)
	if err != nil {
		return fail("export: " + err.Error())
	}
	r.ContentHash = out.ContentHash
	if again.ContentHash != out.ContentHash {
		return fail(fmt.Sprintf("export is not deterministic: %s then %s", out.ContentHash, again.ContentHash))
	}
	r.States = append(r.States, StateExported)

	doc, checks := h.validator.CheckBytes(out.Bytes, p)
	if checks.HasErrors() {
		r.Issues = checks.Errors()
		return fail("exported document failed schema validation")
	}
	r.States = append(r.States, StateValidated)

	imported := h.mapper.Map(doc, p)
	r.States = append(r.States, StateImported)

	want := h.table.Restrict(rec, p.ID)
	r.Diffs = canonical.Diff(want, imported.Record)
	r.States = append(r.States, StateDiffed)
	if len(r.Diffs) > 0 {
		r.FirstDivergence = r.Diffs[0].Path
		return fail(fmt.Sprintf("%d field(s) differ after round trip", len(r.Diffs)))
	}
	if n := len(imported.Unmapped); n > 0 {
		return fail(fmt.Sprintf("%d unmapped node(s) in a document the pack fully supports; first at %s", n, imported.Unmapped[0].Path))
	}

	r.States = append(r.States, StatePassed)
	r.Final = StatePassed
	return r
}

func coverage(dims []Dimension, results []CaseResult) []Coverage {
	out := make([]Coverage, 0, len(dims))
	for _, d := range dims {
		seen := map[string]bool{}
		for _, r := range results {
			seen[r.Branch[d.Name]] = true
		}
		c := Coverage{Dimension: d.Name, Total: len(d.Values)}
		for _, v := range d.Values {
			if seen[v] {
				c.Covered++
			} else {
				c.Missing = append(c.Missing, v)
			}
		}
		if c.Total > 0 {
			c.Percent = 100 * float64(c.Covered) / float64(c.Total)
		}
		slices.Sort(c.Missing)
		out = append(out, c)
	}
	return out
}
