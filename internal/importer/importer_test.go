package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mismobridge/internal/canonical"
	"mismobridge/internal/document"
	"mismobridge/internal/exporter"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/internal/split"
	"mismobridge/pkg/testutil"
)

const ns = "http://www.mismo.org/residential/2009/schemas"

type fixture struct {
	packs  *pack.Registry
	table  *mapping.Table
	mapper *Mapper
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	packs, err := pack.Default()
	require.NoError(t, err)
	table, err := mapping.Default()
	require.NoError(t, err)
	m, err := New(packs, table)
	require.NoError(t, err)
	return fixture{packs: packs, table: table, mapper: m}
}

func (f fixture) pack(t *testing.T, id string) *pack.Pack {
	t.Helper()
	p, err := f.packs.Get(id)
	require.NoError(t, err)
	return p
}

func (f fixture) export(t *testing.T, rec canonical.Record, p *pack.Pack) []byte {
	t.Helper()
	res, err := exporter.New(f.table).Export(split.Split(f.table.Normalize(rec, p), f.table, p.ID), p)
	require.NoError(t, err)
	return res.Bytes
}

func (f fixture) mapBytes(t *testing.T, data []byte, p *pack.Pack) *Result {
	t.Helper()
	doc, err := document.Parse(data)
	require.NoError(t, err)
	return f.mapper.Map(doc, p)
}

func fullRecord() canonical.Record {
	rec := canonical.NewRecord()
	date := func(s string) canonical.Value {
		v, err := canonical.ParseDate(s)
		if err != nil {
			panic(err)
		}
		return v
	}
	for k, v := range map[string]canonical.Value{
		"loan_amount":          canonical.Number(350000.5),
		"loan_purpose":         canonical.String("cashoutrefinance"),
		"mortgage_type":        canonical.String("Conventional"),
		"note_rate_percent":    canonical.Number(6.125),
		"cash_out_amount":      canonical.Number(25000),
		"amortization_type":    canonical.String("Fixed"),
		"loan_term_months":     canonical.Number(360),
		"application_date":     date("2024-03-01"),
		"interest_only":        canonical.Bool(false),
		"lender_loan_id":       canonical.String("LN-1001"),
		"property_street":      canonical.String("1 Market St"),
		"property_city":        canonical.String("San Francisco"),
		"property_state":       canonical.String("CA"),
		"property_postal_code": canonical.String("94105"),
		"property_value":       canonical.Number(900000),
		"property_usage":       canonical.String("PrimaryResidence"),
		"property_units":       canonical.Number(2),
		"vesting_form":         canonical.String("LLC"),
		"vesting_entity_name":  canonical.String("Acme Holdings LLC"),
		"loan_program_code":    canonical.String("HB-30"),
	} {
		rec.Set(k, v)
	}
	rec.AddEntry("borrowers", canonical.Entry{
		"first_name":         canonical.String("Ada"),
		"middle_name":        canonical.String("King"),
		"last_name":          canonical.String("Lovelace"),
		"email":              canonical.String("ada@example.com"),
		"phone":              canonical.String("4155550100"),
		"birth_date":         date("1985-12-10"),
		"marital_status":     canonical.String("Married"),
		"bankruptcy":         canonical.Bool(true),
		"bankruptcy_chapter": canonical.String("ChapterSeven"),
		"citizenship":        canonical.String("USCitizen"),
		"ssn":                canonical.String("123-45-6789"),
		"preferred_language": canonical.String("en"),
		"employee_loan":      canonical.Bool(true),
	})
	rec.AddEntry("borrowers", canonical.Entry{
		"first_name": canonical.String("Grace"),
		"last_name":  canonical.String("Hopper"),
		"birth_date": date("1986-01-02"),
		"ssn":        canonical.String("987-65-4321"),
		"bankruptcy": canonical.Bool(false),
	})
	rec.AddEntry("assets", canonical.Entry{
		"asset_type":          canonical.String("CheckingAccount"),
		"cash_value":          canonical.Number(10500.25),
		"account_number":      canonical.String("000123456789"),
		"institution_name":    canonical.String("First Bank"),
		"borrower_index":      canonical.Number(1),
		"verification_source": canonical.String("Statement"),
	})
	rec.AddEntry("assets", canonical.Entry{
		"asset_type":     canonical.String("Stock"),
		"cash_value":     canonical.Number(2000),
		"borrower_index": canonical.Number(0),
	})
	rec.AddEntry("reo", canonical.Entry{
		"disposition":        canonical.String("Retain"),
		"market_value":       canonical.Number(410000),
		"lien_upb":           canonical.Number(120000.99),
		"rental_income":      canonical.Number(1800),
		"street":             canonical.String("9 Elm St"),
		"city":               canonical.String("Oakland"),
		"state":              canonical.String("CA"),
		"postal_code":        canonical.String("94601-1234"),
		"management_company": canonical.String("Bay Rentals"),
	})
	return rec
}

func TestRoundTripIdentity(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"mismo34-generic", "mismo34-gse"} {
		t.Run(id, func(t *testing.T) {
			p := f.pack(t, id)
			rec := fullRecord()
			res := f.mapBytes(t, f.export(t, rec, p), p)

			want := f.table.Restrict(f.table.Normalize(rec, p), id)
			assert.Empty(t, canonical.Diff(want, res.Record))
			assert.Empty(t, res.Unmapped)
			assert.Empty(t, res.Issues.Warnings())
			assert.Empty(t, res.Issues.Errors())
		})
	}
}

func TestPackSpecificCoverage(t *testing.T) {
	f := newFixture(t)
	rec := fullRecord()

	testutil.Given(t, "a pack without a native unit count", func(t *testing.T) {
		p := f.pack(t, "mismo34-gse")
		res := f.mapBytes(t, f.export(t, rec, p), p)
		v, ok := res.Record.Get("property_units")
		require.True(t, ok, "units ride in the extension namespace")
		assert.Equal(t, canonical.Number(2), v)
		_, ok = res.Record.Get("interest_only")
		assert.False(t, ok, "interest_only is not carried by this pack")
	})

	testutil.Given(t, "the generic pack", func(t *testing.T) {
		p := f.pack(t, "mismo34-generic")
		data := f.export(t, rec, p)
		assert.Contains(t, string(data), "<FinancedUnitCount>2</FinancedUnitCount>")
		res := f.mapBytes(t, data, p)
		v, _ := res.Record.Get("property_units")
		assert.Equal(t, canonical.Number(2), v)
	})
}

func TestImportReport(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	doc, err := document.Parse(f.export(t, fullRecord(), p))
	require.NoError(t, err)

	res, err := f.mapper.Import(context.Background(), doc, p.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusPass, res.Report.Status)
	assert.Equal(t, "import", res.Report.RunKind)
	assert.Equal(t, p.ID, res.PackID)

	_, err = f.mapper.Import(context.Background(), doc, "nope")
	require.Error(t, err)
}

func TestNothingIsSilentlyLost(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	base := string(f.export(t, fullRecord(), p))

	cases := []struct {
		name   string
		mutate func(string) string
		path   string
		raw    string
		reason string
	}{
		{
			name: "unknown element",
			mutate: func(s string) string {
				return strings.Replace(s, "<TERMS_OF_LOAN>", "<TERMS_OF_LOAN><LienPriorityType>FirstLien</LienPriorityType>", 1)
			},
			path:   "/MESSAGE/DEAL_SETS/DEAL_SET/DEALS/DEAL/LOANS/LOAN/TERMS_OF_LOAN/LienPriorityType",
			raw:    ">FirstLien</LienPriorityType>",
			reason: "no field mapping",
		},
		{
			name: "unknown subtree is kept whole",
			mutate: func(s string) string {
				return strings.Replace(s, "<LOANS>", `<LOANS><LOAN_PRODUCT><LOAN_PRICE>1.5</LOAN_PRICE></LOAN_PRODUCT>`, 1)
			},
			path:   "/MESSAGE/DEAL_SETS/DEAL_SET/DEALS/DEAL/LOANS/LOAN_PRODUCT",
			raw:    "<LOAN_PRICE>1.5</LOAN_PRICE>",
			reason: "no field mapping",
		},
		{
			name: "unknown extension",
			mutate: func(s string) string {
				return strings.Replace(s, "<MB:VestingFormType>", "<MB:DownPaymentSourceType>Gift</MB:DownPaymentSourceType><MB:VestingFormType>", 1)
			},
			path:   "/MESSAGE/DEAL_SETS/DEAL_SET/DEALS/DEAL/LOANS/LOAN/EXTENSION/OTHER/MB:EXTENSION_DATA/MB:DownPaymentSourceType",
			raw:    ">Gift</MB:DownPaymentSourceType>",
			reason: "unknown extension MB:DownPaymentSourceType",
		},
		{
			name: "unknown attribute",
			mutate: func(s string) string {
				return strings.Replace(s, "<LOANS>", `<LOANS SequenceNumber="1">`, 1)
			},
			path:   "/MESSAGE/DEAL_SETS/DEAL_SET/DEALS/DEAL/LOANS/@SequenceNumber",
			raw:    `SequenceNumber="1"`,
			reason: "no field mapping for attribute",
		},
		{
			name: "value that does not parse",
			mutate: func(s string) string {
				return strings.Replace(s, ">350000.50<", ">lots<", 1)
			},
			path:   "/MESSAGE/DEAL_SETS/DEAL_SET/DEALS/DEAL/LOANS/LOAN/TERMS_OF_LOAN/BaseLoanAmount",
			raw:    ">lots</BaseLoanAmount>",
			reason: "value is not a valid",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.mapBytes(t, []byte(tc.mutate(base)), p)
			require.Len(t, res.Unmapped, 1, "%+v", res.Unmapped)
			u := res.Unmapped[0]
			assert.Equal(t, tc.path, u.Path)
			assert.Contains(t, u.Raw, tc.raw)
			assert.Contains(t, u.Reason, tc.reason)

			require.Len(t, res.Issues.Warnings(), 1)
			assert.Equal(t, report.CodeMappingGap, res.Issues.Warnings()[0].Code)
			assert.Equal(t, tc.path, res.Issues.Warnings()[0].Path)
		})
	}
}

func TestUnmappedRawIsRecoverable(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	data := strings.Replace(string(f.export(t, fullRecord(), p)), "<LOANS>",
		`<LOANS><LOAN_PRODUCT><LOAN_PRICE>1.5</LOAN_PRICE></LOAN_PRODUCT>`, 1)
	res := f.mapBytes(t, []byte(data), p)
	require.Len(t, res.Unmapped, 1)

	frag, err := document.Parse([]byte(res.Unmapped[0].Raw))
	require.NoError(t, err)
	assert.Equal(t, document.Name{Space: ns, Local: "LOAN_PRODUCT"}, frag.Root.Name)
	assert.Equal(t, "1.5", frag.Root.Find(ns, []string{"LOAN_PRICE"}).Value())
}

func TestPreviewIsRedacted(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	data := strings.Replace(string(f.export(t, fullRecord(), p)), "<TERMS_OF_LOAN>",
		"<TERMS_OF_LOAN><CoSignerTaxpayerIdentifier>111-22-3333</CoSignerTaxpayerIdentifier>", 1)
	res := f.mapBytes(t, []byte(data), p)
	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "***-**-3333", res.Unmapped[0].RawValuePreview)
	assert.Contains(t, res.Unmapped[0].Raw, "111-22-3333", "raw content stays verbatim")
}

func TestExtensionVersionAhead(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	data := strings.ReplaceAll(string(f.export(t, fullRecord(), p)), `SchemaVersion="3"`, `SchemaVersion="7"`)
	res := f.mapBytes(t, []byte(data), p)

	var ahead int
	for _, w := range res.Issues.Warnings() {
		if w.Code == report.CodeExtensionAhead {
			ahead++
			assert.Equal(t, "7", w.Actual)
		}
	}
	assert.Equal(t, 4, ahead, "one wrapper each on the loan, the first borrower, the first asset and the reo entry")
	v, ok := res.Record.Get("vesting_form")
	require.True(t, ok, "known extensions still import")
	assert.Equal(t, canonical.String("LLC"), v)
	assert.Empty(t, res.Unmapped)
}

func TestCompanionMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")
	data := strings.Replace(string(f.export(t, fullRecord(), p)),
		"<PartyRoleType>Borrower</PartyRoleType>", "<PartyRoleType>LoanOriginator</PartyRoleType>", 1)
	res := f.mapBytes(t, []byte(data), p)

	require.Len(t, res.Unmapped, 1)
	assert.Contains(t, res.Unmapped[0].Raw, "LoanOriginator")
	var codes []string
	for _, w := range res.Issues.Warnings() {
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []string{report.CodeCompanionMismatch, report.CodeMappingGap}, codes)
	assert.Len(t, res.Record.Entries("borrowers"), 2, "the entry itself still imports")
}

func TestRelationships(t *testing.T) {
	f := newFixture(t)
	p := f.pack(t, "mismo34-generic")

	testutil.When(t, "an arc names a missing party", func(t *testing.T) {
		doc, err := document.Parse(f.export(t, fullRecord(), p))
		require.NoError(t, err)
		rels := doc.Root.Find(ns, []string{"DEAL_SETS", "DEAL_SET", "DEALS", "DEAL", "RELATIONSHIPS"})
		require.NotNil(t, rels)
		require.Len(t, rels.Children, 2)
		rels.Children[0].SetAttr(document.XLinkNamespace, "to", "PARTY_40")

		res := f.mapper.Map(doc, p)
		require.Len(t, res.Unmapped, 1)
		assert.Contains(t, res.Unmapped[0].Reason, "PARTY_40")
		_, ok := res.Record.Entries("assets")[0]["borrower_index"]
		assert.False(t, ok)
		assert.Equal(t, canonical.Number(0), res.Record.Entries("assets")[1]["borrower_index"])
	})

	testutil.When(t, "relationships precede the parties they join", func(t *testing.T) {
		doc, err := document.Parse(f.export(t, fullRecord(), p))
		require.NoError(t, err)
		deal := doc.Root.Find(ns, []string{"DEAL_SETS", "DEAL_SET", "DEALS", "DEAL"})
		last := deal.Children[len(deal.Children)-1]
		deal.Children = append([]*document.Node{last}, deal.Children[:len(deal.Children)-1]...)

		res := f.mapper.Map(doc, p)
		assert.Empty(t, res.Unmapped)
		assert.Equal(t, canonical.Number(1), res.Record.Entries("assets")[0]["borrower_index"])
	})
}

func TestQuarantine(t *testing.T) {
	doc, err := document.Parse([]byte(`<LOAN_FILE><Amount>1</Amount><Notes>see attached</Notes></LOAN_FILE>`))
	require.NoError(t, err)

	nodes := Quarantine(doc, "pack not detected")
	require.Len(t, nodes, 2)
	assert.Equal(t, "/LOAN_FILE/Amount", nodes[0].Path)
	assert.Equal(t, "<Amount>1</Amount>", nodes[0].Raw)
	assert.Equal(t, "pack not detected", nodes[1].Reason)

	raw := RawDocument([]byte("<broken"), "document is not well-formed")
	assert.Equal(t, "<broken", raw.Raw)
	assert.Equal(t, "/", raw.Path)
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := preview(long)
	assert.Len(t, got, PreviewLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}
