package harness

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"mismobridge/internal/canonical"
	"mismobridge/internal/pack"
)

// Branch dimensions the corpus spans.
const (
	DimLoanPurpose  = "loan_purpose"
	DimVesting      = "vesting"
	DimApplicants   = "applicants"
	DimAssets       = "assets"
	DimREO          = "reo"
	DimDeclarations = "declarations"
)

// Declaration branch values.
const (
	DeclNone       = "none"
	DeclBankruptcy = "bankruptcy"
	DeclJudgments  = "judgments"
	DeclForeclose  = "foreclosure"
	DeclLawsuit    = "lawsuit"
)

// Dimension is one axis of the corpus and the values it can take.
type Dimension struct {
	Name   string
	Values []string
}

// Case is one generated record and the branch it exercises.
type Case struct {
	ID     int
	Label  string
	Branch map[string]string
	Record canonical.Record
}

// Dimensions returns the branch axes for a pack. Values the pack cannot
// accept, such as zero applicants where a borrower is required, are left
// out so coverage is measured against what the pack allows.
func Dimensions(p *pack.Pack) []Dimension {
	minBorrowers := 0
	for _, g := range p.Rules.RequiredGroups {
		if g.Group == "borrowers" {
			minBorrowers = max(minBorrowers, g.Min)
		}
	}
	var applicants []string
	for _, n := range []int{0, 1, 2} {
		if n >= minBorrowers {
			applicants = append(applicants, strconv.Itoa(n))
		}
	}
	return []Dimension{
		{Name: DimLoanPurpose, Values: enumSubset(p, "LoanPurposeType", "Purchase", "Refinance", "CashOutRefinance")},
		{Name: DimVesting, Values: enumSubset(p, "VestingFormType", "Individual", "JointTenants", "TenantsInCommon", "LLC", "Trust")},
		{Name: DimApplicants, Values: applicants},
		{Name: DimAssets, Values: []string{"0", "1", "3"}},
		{Name: DimREO, Values: []string{"0", "1", "6"}},
		{Name: DimDeclarations, Values: []string{DeclNone, DeclBankruptcy, DeclJudgments, DeclForeclose, DeclLawsuit}},
	}
}

func enumSubset(p *pack.Pack, enum string, want ...string) []string {
	allowed, _ := p.Enum(enum)
	var out []string
	for _, v := range want {
		if slices.Contains(allowed, v) {
			out = append(out, v)
		}
	}
	return out
}

// Generate builds n cases for the pack from seed. The same seed always
// yields the same corpus. Every dimension value appears at least once in
// each run of len(values) consecutive cases, so any n at least as large as
// the widest dimension covers every branch.
func Generate(n int, seed uint64, p *pack.Pack) []Case {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	dims := Dimensions(p)
	perms := make([][]int, len(dims))
	for i, d := range dims {
		perms[i] = rng.Perm(len(d.Values))
	}

	cases := make([]Case, 0, n)
	for i := range n {
		branch := make(map[string]string, len(dims))
		labels := make([]string, 0, len(dims))
		for j, d := range dims {
			k := len(d.Values)
			if k == 0 {
				continue
			}
			v := d.Values[(perms[j][i%k]+i/k)%k]
			branch[d.Name] = v
		}
		if branch[DimApplicants] == "0" {
			branch[DimDeclarations] = DeclNone
		}
		for _, d := range dims {
			labels = append(labels, d.Name+"="+branch[d.Name])
		}
		g := &generator{rng: rng, branch: branch}
		cases = append(cases, Case{
			ID:     i + 1,
			Label:  strings.Join(labels, ", "),
			Branch: branch,
			Record: g.record(),
		})
	}
	return cases
}

type generator struct {
	rng    *rand.Rand
	branch map[string]string
}

var (
	firstNames   = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Frances", "Ken"}
	lastNames    = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Allen", "Thompson"}
	streets      = []string{"Market St", "Elm St", "Oak Ave", "Pine Rd", "Cedar Ln", "Maple Dr"}
	cities       = []string{"Oakland", "Austin", "Denver", "Portland", "Raleigh", "Madison"}
	states       = []string{"CA", "TX", "CO", "OR", "NC", "WI"}
	assetTypes   = []string{"CheckingAccount", "SavingsAccount", "MoneyMarketFund", "Stock", "RetirementFund"}
	maritals     = []string{"Married", "Separated", "Unmarried"}
	citizenship  = []string{"USCitizen", "PermanentResidentAlien", "NonPermanentResidentAlien"}
	chapters     = []string{"ChapterSeven", "ChapterEleven", "ChapterThirteen"}
	dispositions = []string{"Retain", "PendingSale", "Sold"}
)

func (g *generator) pick(from []string) string { return from[g.rng.IntN(len(from))] }

// money returns a whole number of cents so currency rendering is exact.
func (g *generator) money(lo, hi int) canonical.Value {
	cents := lo*100 + g.rng.IntN((hi-lo)*100)
	return canonical.Number(float64(cents) / 100)
}

func (g *generator) digits(n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(byte('0' + g.rng.IntN(10)))
	}
	return b.String()
}

func (g *generator) date(fromYear, span int) canonical.Value {
	v, _ := canonical.ParseDate(fmt.Sprintf("%04d-%02d-%02d", fromYear+g.rng.IntN(span), 1+g.rng.IntN(12), 1+g.rng.IntN(28)))
	return v
}

func (g *generator) count(dim string) int {
	n, _ := strconv.Atoi(g.branch[dim])
	return n
}

func (g *generator) record() canonical.Record {
	rec := canonical.NewRecord()
	purpose := g.branch[DimLoanPurpose]
	vesting := g.branch[DimVesting]

	rec.Set("loan_amount", g.money(80_000, 1_500_000))
	rec.Set("loan_purpose", canonical.String(purpose))
	rec.Set("mortgage_type", canonical.String(g.pick([]string{"Conventional", "FHA", "VA"})))
	rec.Set("note_rate_percent", canonical.Number(float64(2500+g.rng.IntN(6000))/1000))
	rec.Set("amortization_type", canonical.String(g.pick([]string{"Fixed", "AdjustableRate"})))
	rec.Set("loan_term_months", canonical.Number(float64(g.pick2(180, 360))))
	rec.Set("application_date", g.date(2022, 3))
	rec.Set("interest_only", canonical.Bool(g.rng.IntN(4) == 0))
	rec.Set("lender_loan_id", canonical.String("LN-"+g.digits(6)))
	if purpose == "CashOutRefinance" {
		rec.Set("cash_out_amount", g.money(5_000, 150_000))
	}

	rec.Set("property_street", canonical.String(g.digits(3)+" "+g.pick(streets)))
	rec.Set("property_city", canonical.String(g.pick(cities)))
	rec.Set("property_state", canonical.String(g.pick(states)))
	rec.Set("property_postal_code", canonical.String(g.digits(5)))
	rec.Set("property_value", g.money(150_000, 2_500_000))
	rec.Set("property_usage", canonical.String(g.pick([]string{"PrimaryResidence", "SecondHome", "Investment"})))
	rec.Set("property_units", canonical.Number(float64(1+g.rng.IntN(4))))

	rec.Set("vesting_form", canonical.String(vesting))
	switch vesting {
	case "LLC", "Trust", "Corporation":
		rec.Set("vesting_entity_name", canonical.String(g.pick(lastNames)+" Holdings "+vesting))
	}
	rec.Set("loan_program_code", canonical.String("PRG-"+g.digits(2)))

	applicants := g.count(DimApplicants)
	for i := range applicants {
		rec.AddEntry("borrowers", g.borrower(i == 0))
	}
	for range g.count(DimAssets) {
		rec.AddEntry("assets", g.asset(applicants))
	}
	for range g.count(DimREO) {
		rec.AddEntry("reo", g.reo())
	}
	return rec
}

func (g *generator) pick2(a, b int) int {
	if g.rng.IntN(2) == 0 {
		return a
	}
	return b
}

func (g *generator) borrower(primary bool) canonical.Entry {
	first, last := g.pick(firstNames), g.pick(lastNames)
	decl := DeclNone
	if primary {
		decl = g.branch[DimDeclarations]
	}
	e := canonical.Entry{
		"first_name":            canonical.String(first),
		"last_name":             canonical.String(last),
		"email":                 canonical.String(strings.ToLower(first+"."+last) + "@example.com"),
		"phone":                 canonical.String("415" + g.digits(7)),
		"birth_date":            g.date(1950, 50),
		"marital_status":        canonical.String(g.pick(maritals)),
		"citizenship":           canonical.String(g.pick(citizenship)),
		"ssn":                   canonical.String(g.digits(3) + "-" + g.digits(2) + "-" + g.digits(4)),
		"bankruptcy":            canonical.Bool(decl == DeclBankruptcy),
		"outstanding_judgments": canonical.Bool(decl == DeclJudgments),
		"foreclosure":           canonical.Bool(decl == DeclForeclose),
		"party_to_lawsuit":      canonical.Bool(decl == DeclLawsuit),
		"preferred_language":    canonical.String(g.pick([]string{"en", "es", "zh"})),
		"employee_loan":         canonical.Bool(g.rng.IntN(10) == 0),
	}
	if g.rng.IntN(2) == 0 {
		e["middle_name"] = canonical.String(g.pick(firstNames))
	}
	if decl == DeclBankruptcy {
		e["bankruptcy_chapter"] = canonical.String(g.pick(chapters))
	}
	return e
}

func (g *generator) asset(applicants int) canonical.Entry {
	e := canonical.Entry{
		"asset_type":          canonical.String(g.pick(assetTypes)),
		"cash_value":          g.money(500, 400_000),
		"account_number":      canonical.String(g.digits(12)),
		"institution_name":    canonical.String(g.pick(cities) + " Savings Bank"),
		"verification_source": canonical.String(g.pick([]string{"Statement", "VOD", "Aggregator"})),
	}
	if applicants > 0 {
		e["borrower_index"] = canonical.Number(float64(g.rng.IntN(applicants)))
	}
	return e
}

func (g *generator) reo() canonical.Entry {
	disposition := g.pick(dispositions)
	e := canonical.Entry{
		"disposition":        canonical.String(disposition),
		"market_value":       g.money(100_000, 1_200_000),
		"lien_upb":           g.money(0, 600_000),
		"street":             canonical.String(g.digits(4) + " " + g.pick(streets)),
		"city":               canonical.String(g.pick(cities)),
		"state":              canonical.String(g.pick(states)),
		"postal_code":        canonical.String(g.digits(5)),
		"management_company": canonical.String(g.pick(lastNames) + " Property Management"),
	}
	if disposition == "Retain" {
		e["rental_income"] = g.money(0, 6_000)
	}
	return e
}
