package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mismobridge/internal/canonical"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
	"mismobridge/pkg/requestcontext"
	"mismobridge/pkg/testutil"
)

const (
	generic = "mismo34-generic"
	gse     = "mismo34-gse"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	packs, err := pack.Default()
	require.NoError(t, err)
	table, err := mapping.Default()
	require.NoError(t, err)
	return New(packs, table)
}

func minimalRecord() canonical.Record {
	rec := canonical.NewRecord()
	rec.Set("loan_amount", canonical.Number(500000))
	rec.Set("loan_purpose", canonical.String("Purchase"))
	rec.Set("property_state", canonical.String("CA"))
	return rec
}

func agencyRecord() canonical.Record {
	rec := minimalRecord()
	rec.Set("note_rate_percent", canonical.Number(6.5))
	rec.Set("loan_term_months", canonical.Number(360))
	rec.Set("mortgage_type", canonical.String("Conventional"))
	rec.Set("application_date", canonical.String("2024-04-02"))
	rec.Set("property_street", canonical.String("1 Main St"))
	rec.Set("property_city", canonical.String("Oakland"))
	rec.Set("property_postal_code", canonical.String("94601"))
	rec.AddEntry("borrowers", canonical.Entry{
		"first_name": canonical.String("Ada"),
		"last_name":  canonical.String("Lovelace"),
		"ssn":        canonical.String("123-45-6789"),
		"birth_date": canonical.String("1985-12-10"),
	})
	return rec
}

func codes(issues []report.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func TestValidate(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	testutil.Given(t, "a complete record", func(t *testing.T) {
		testutil.Then(t, "the generic pack passes", func(t *testing.T) {
			r, err := e.Validate(ctx, minimalRecord(), generic)
			require.NoError(t, err)
			assert.Equal(t, report.StatusPass, r.Status)
			assert.Empty(t, r.Errors)
			assert.Equal(t, "preflight", r.RunKind)
		})
		testutil.Then(t, "the agency pack passes", func(t *testing.T) {
			r, err := e.Validate(ctx, agencyRecord(), gse)
			require.NoError(t, err)
			assert.Equal(t, report.StatusPass, r.Status, "%+v", r.Errors)
		})
	})

	testutil.Given(t, "a record without a loan amount", func(t *testing.T) {
		rec := minimalRecord()
		delete(rec.Fields, "loan_amount")
		r, err := e.Validate(ctx, rec, generic)
		require.NoError(t, err)

		assert.Equal(t, report.StatusFail, r.Status)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, report.CodeMissingElement, r.Errors[0].Code)
		assert.Equal(t, "loan_amount", r.Errors[0].Path)
		assert.Contains(t, r.Errors[0].Message, "loan terms")
	})

	testutil.Given(t, "a loan purpose outside the enumeration", func(t *testing.T) {
		rec := minimalRecord()
		rec.Set("loan_purpose", canonical.String("Purchase-ish"))
		r, err := e.Validate(ctx, rec, generic)
		require.NoError(t, err)

		require.Len(t, r.Errors, 1)
		issue := r.Errors[0]
		assert.Equal(t, report.CategoryEnum, issue.Category)
		assert.Equal(t, report.CodeInvalidEnum, issue.Code)
		assert.Equal(t, "Purchase-ish", issue.Actual)
		assert.Contains(t, issue.Allowed, "CashOutRefinance")
	})

	testutil.Given(t, "enumeration values in another case", func(t *testing.T) {
		rec := minimalRecord()
		rec.Set("loan_purpose", canonical.String("purchase"))
		rec.Set("property_state", canonical.String("ca"))
		r, err := e.Validate(ctx, rec, generic)
		require.NoError(t, err)
		assert.Equal(t, report.StatusPass, r.Status)
	})

	testutil.Given(t, "a cash-out refinance without the cash-out amount", func(t *testing.T) {
		rec := agencyRecord()
		rec.Set("loan_purpose", canonical.String("CashOutRefinance"))

		for _, id := range []string{generic, gse} {
			testutil.Then(t, id+" blocks", func(t *testing.T) {
				r, err := e.Validate(ctx, rec, id)
				require.NoError(t, err)
				assert.Equal(t, report.StatusFail, r.Status)
				assert.Equal(t, []string{report.CodeConditionalRequired}, codes(r.Errors))
				assert.Equal(t, "cash_out_amount", r.Errors[0].Path)
			})
		}
		testutil.Then(t, "a purchase without the amount passes", func(t *testing.T) {
			r, err := e.Validate(ctx, agencyRecord(), generic)
			require.NoError(t, err)
			assert.Empty(t, r.Errors)
		})
	})

	testutil.Given(t, "entity vesting without the entity name", func(t *testing.T) {
		rec := agencyRecord()
		rec.Set("vesting_form", canonical.String("LLC"))

		testutil.Then(t, "the permissive pack warns", func(t *testing.T) {
			r, err := e.Validate(ctx, rec, generic)
			require.NoError(t, err)
			assert.Equal(t, report.StatusPassWithWarnings, r.Status)
			assert.Equal(t, []string{report.CodeConditionalRequired}, codes(r.Warnings))
		})
		testutil.Then(t, "the agency pack blocks", func(t *testing.T) {
			r, err := e.Validate(ctx, rec, gse)
			require.NoError(t, err)
			assert.Equal(t, report.StatusFail, r.Status)
			assert.Equal(t, "vesting_entity_name", r.Errors[0].Path)
		})
	})

	testutil.Given(t, "an agency record with no borrowers", func(t *testing.T) {
		rec := agencyRecord()
		delete(rec.Groups, "borrowers")
		r, err := e.Validate(ctx, rec, gse)
		require.NoError(t, err)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "borrowers", r.Errors[0].Path)
		assert.Contains(t, r.Errors[0].Message, "add at least one borrower")
	})

	testutil.Given(t, "a malformed taxpayer identifier", func(t *testing.T) {
		rec := agencyRecord()
		rec.Groups["borrowers"][0]["ssn"] = canonical.String("123456789")
		r, err := e.Validate(ctx, rec, gse)
		require.NoError(t, err)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, report.CodeInvalidFormat, r.Errors[0].Code)
		assert.Equal(t, "borrowers[0].ssn", r.Errors[0].Path)
		assert.Equal(t, "*****6789", r.Errors[0].Actual)
	})

	testutil.Given(t, "text with characters a document cannot carry", func(t *testing.T) {
		for name, bad := range map[string]string{
			"control character": "Ki\x01ng",
			"invalid UTF-8":     "Ki\xffng",
		} {
			testutil.Then(t, name+" is a format error", func(t *testing.T) {
				rec := agencyRecord()
				rec.Groups["borrowers"][0]["middle_name"] = canonical.String(bad)
				r, err := e.Validate(ctx, rec, gse)
				require.NoError(t, err)
				assert.Equal(t, report.StatusFail, r.Status)
				require.Len(t, r.Errors, 1)
				assert.Equal(t, report.CodeInvalidFormat, r.Errors[0].Code)
				assert.Equal(t, "borrowers[0].middle_name", r.Errors[0].Path)
			})
		}
	})

	testutil.Given(t, "a currency amount with sub-cent precision", func(t *testing.T) {
		rec := minimalRecord()
		rec.Set("loan_amount", canonical.Number(1000.005))
		r, err := e.Validate(ctx, rec, generic)
		require.NoError(t, err)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, report.CodeInvalidFormat, r.Errors[0].Code)
		assert.Equal(t, "loan_amount", r.Errors[0].Path)
	})

	testutil.Given(t, "an asset pointing at a missing borrower", func(t *testing.T) {
		rec := minimalRecord()
		rec.AddEntry("assets", canonical.Entry{
			"asset_type":     canonical.String("CheckingAccount"),
			"cash_value":     canonical.Number(10),
			"borrower_index": canonical.Number(2),
		})
		r, err := e.Validate(ctx, rec, generic)
		require.NoError(t, err)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, report.CodeInvalidReference, r.Errors[0].Code)
		assert.Equal(t, "assets[0].borrower_index", r.Errors[0].Path)
	})

	testutil.Given(t, "a declared bankruptcy without a chapter", func(t *testing.T) {
		rec := agencyRecord()
		rec.AddEntry("borrowers", canonical.Entry{
			"first_name": canonical.String("Grace"),
			"last_name":  canonical.String("Hopper"),
			"ssn":        canonical.String("987-65-4321"),
			"birth_date": canonical.String("1986-12-09"),
			"bankruptcy": canonical.Bool(true),
		})
		r, err := e.Validate(ctx, rec, gse)
		require.NoError(t, err)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "borrowers[1].bankruptcy_chapter", r.Errors[0].Path)
	})

	testutil.Given(t, "fields the pack cannot carry", func(t *testing.T) {
		rec := agencyRecord()
		rec.Set("favorite_color", canonical.String("teal"))
		rec.Set("interest_only", canonical.Bool(false))
		rec.Set("property_units", canonical.Number(2))
		r, err := e.Validate(ctx, rec, gse)
		require.NoError(t, err)

		assert.Equal(t, report.StatusPassWithWarnings, r.Status)
		paths := make([]string, 0, len(r.Warnings))
		for _, w := range r.Warnings {
			assert.Equal(t, report.CodeUnmappedField, w.Code)
			paths = append(paths, w.Path)
		}
		assert.Equal(t, []string{"favorite_color", "interest_only"}, paths, "property_units rides as an extension")
	})

	testutil.Given(t, "an unknown pack", func(t *testing.T) {
		_, err := e.Validate(ctx, minimalRecord(), "mismo99")
		var unknown *pack.UnknownPackError
		require.ErrorAs(t, err, &unknown)
	})
}

func TestValidateIsDeterministic(t *testing.T) {
	e := newEngine(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	rec := agencyRecord()
	rec.Set("loan_purpose", canonical.String("Bogus"))
	rec.Set("zeta", canonical.String("z"))
	rec.Set("alpha", canonical.String("a"))
	delete(rec.Fields, "property_city")

	first, err := e.Validate(ctx, rec, gse)
	require.NoError(t, err)
	for range 10 {
		again, err := e.Validate(ctx, rec.Clone(), gse)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
