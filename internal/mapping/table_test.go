package mapping

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mismobridge/internal/canonical"
	"mismobridge/internal/pack"
)

func loadFixtures(t *testing.T) (*Table, *pack.Registry) {
	t.Helper()
	table, err := Default()
	require.NoError(t, err)
	reg, err := pack.Default()
	require.NoError(t, err)
	return table, reg
}

func TestDefaultTableMatchesEveryPack(t *testing.T) {
	table, reg := loadFixtures(t)
	for _, p := range reg.Packs() {
		assert.NoError(t, table.CheckPack(p), p.ID)
	}
}

func TestResolve(t *testing.T) {
	table, _ := loadFixtures(t)

	t.Run("standard row wins where it applies", func(t *testing.T) {
		row, ok := table.Resolve("property_units", "mismo34-generic")
		require.True(t, ok)
		assert.False(t, row.IsExtension())
		assert.Equal(t, "FinancedUnitCount", row.Path.Leaf())
	})

	t.Run("falls back to the extension namespace", func(t *testing.T) {
		row, ok := table.Resolve("property_units", "mismo34-gse")
		require.True(t, ok)
		assert.True(t, row.IsExtension())
		assert.Equal(t, "FinancedUnitCount", row.Extension)
	})

	t.Run("fields with neither are not covered", func(t *testing.T) {
		assert.True(t, table.Covered("interest_only", "mismo34-generic"))
		assert.False(t, table.Covered("interest_only", "mismo34-gse"))
		assert.False(t, table.Covered("favorite_color", "mismo34-generic"))
	})

	t.Run("group fields use the bracket key", func(t *testing.T) {
		row, ok := table.Resolve("borrowers[].ssn", "mismo34-gse")
		require.True(t, ok)
		require.Len(t, row.Companions, 1)
		assert.Equal(t, "SocialSecurityNumber", row.Companions[0].Value)
	})
}

func TestNormalize(t *testing.T) {
	table, reg := loadFixtures(t)
	p, err := reg.Get("mismo34-generic")
	require.NoError(t, err)

	rec := canonical.NewRecord()
	rec.Set("loan_purpose", canonical.String("cashoutrefinance"))
	rec.Set("loan_amount", canonical.String(" 250000.50 "))
	rec.Set("application_date", canonical.String("2024-03-01"))
	rec.Set("interest_only", canonical.String("TRUE"))
	rec.Set("property_city", canonical.String("   "))
	rec.Set("favorite_color", canonical.String(" teal "))
	rec.AddEntry("borrowers", canonical.Entry{"bankruptcy": canonical.String("false"), "first_name": canonical.String(" Ada ")})

	out := table.Normalize(rec, p)

	assert.Equal(t, canonical.String("CashOutRefinance"), out.Fields["loan_purpose"])
	assert.Equal(t, canonical.Number(250000.50), out.Fields["loan_amount"])
	assert.Equal(t, canonical.Date("2024-03-01"), out.Fields["application_date"])
	assert.Equal(t, canonical.Bool(true), out.Fields["interest_only"])
	assert.NotContains(t, out.Fields, "property_city", "blank strings are absent")
	assert.Equal(t, canonical.String(" teal "), out.Fields["favorite_color"], "unmapped fields pass through")
	assert.Equal(t, canonical.Bool(false), out.Groups["borrowers"][0]["bankruptcy"])
	assert.Equal(t, canonical.String("Ada"), out.Groups["borrowers"][0]["first_name"])

	assert.Equal(t, canonical.String("cashoutrefinance"), rec.Fields["loan_purpose"], "input is not mutated")
}

func TestRestrict(t *testing.T) {
	table, _ := loadFixtures(t)

	rec := canonical.NewRecord()
	rec.Set("loan_amount", canonical.Number(1))
	rec.Set("interest_only", canonical.Bool(true))
	rec.AddEntry("assets", canonical.Entry{"cash_value": canonical.Number(2), "nickname": canonical.String("x")})
	rec.AddEntry("pets", canonical.Entry{"name": canonical.String("Rex")})
	rec.Groups["reo"] = []canonical.Entry{}

	out := table.Restrict(rec, "mismo34-gse")
	assert.Equal(t, []string{"loan_amount"}, out.FieldNames())
	assert.Equal(t, []string{"assets"}, out.GroupNames())
	assert.Equal(t, canonical.Entry{"cash_value": canonical.Number(2)}, out.Groups["assets"][0])
}

func TestCodec(t *testing.T) {
	table, reg := loadFixtures(t)
	p, err := reg.Get("mismo34-gse")
	require.NoError(t, err)

	codecFor := func(key string) Codec {
		row, ok := table.Resolve(key, p.ID)
		require.True(t, ok, key)
		c, err := CodecFor(row, p)
		require.NoError(t, err)
		return c
	}

	t.Run("currency renders fixed decimals", func(t *testing.T) {
		text, err := codecFor("loan_amount").Render(canonical.Number(500000))
		require.NoError(t, err)
		assert.Equal(t, "500000.00", text)
	})

	t.Run("excess precision is rejected", func(t *testing.T) {
		_, err := codecFor("loan_amount").Render(canonical.Number(1.005))
		require.ErrorIs(t, err, ErrPrecision)
	})

	t.Run("percentages keep four places", func(t *testing.T) {
		text, err := codecFor("note_rate_percent").Render(canonical.Number(6.875))
		require.NoError(t, err)
		assert.Equal(t, "6.8750", text)
	})

	t.Run("kind mismatch is reported", func(t *testing.T) {
		_, err := codecFor("loan_term_months").Render(canonical.String("360"))
		require.ErrorIs(t, err, ErrKindMismatch)
	})

	t.Run("enum validity is exact", func(t *testing.T) {
		c := codecFor("loan_purpose")
		assert.True(t, c.Valid("Purchase"))
		assert.False(t, c.Valid("purchase"))
		assert.False(t, c.Valid("Construction"), "not offered by this pack")
	})

	t.Run("parse inverts render", func(t *testing.T) {
		for key, v := range map[string]canonical.Value{
			"loan_amount":            canonical.Number(123.45),
			"loan_term_months":       canonical.Number(360),
			"application_date":       canonical.Date("2024-01-05"),
			"borrowers[].bankruptcy": canonical.Bool(true),
			"borrowers[].ssn":        canonical.String("123-45-6789"),
		} {
			c := codecFor(key)
			text, err := c.Render(v)
			require.NoError(t, err, key)
			got, err := c.Parse(text)
			require.NoError(t, err, key)
			assert.True(t, v.Equal(got), key)
		}
	})
}

func TestExtensionLock(t *testing.T) {
	fields, err := embedded.ReadFile("tables/fields.yaml")
	require.NoError(t, err)
	exts, err := embedded.ReadFile("tables/extensions.yaml")
	require.NoError(t, err)

	t.Run("appending a name is allowed", func(t *testing.T) {
		reg, err := ParseExtensions(exts)
		require.NoError(t, err)
		lock := reg.Lock()
		reg.Entries = append(reg.Entries, ExtensionEntry{Name: "Nickname", Field: "nickname", Entity: "loan", Format: "string", Since: 3})
		require.NoError(t, reg.VerifyLock(lock))
	})

	t.Run("redefining a published name fails", func(t *testing.T) {
		reg, err := ParseExtensions(exts)
		require.NoError(t, err)
		lock := reg.Lock()
		reg.Entries[0].Field = "vesting"
		require.Error(t, reg.VerifyLock(lock))
	})

	t.Run("removing a published name fails to load", func(t *testing.T) {
		fsys := fstest.MapFS{
			FieldsFile:     {Data: fields},
			ExtensionsFile: {Data: []byte("namespace: {prefix: MB, uri: 'urn:x'}\nwrapper: EXTENSION_DATA\nversion: 3\nentries: []\n")},
			LockFile:       {Data: []byte("- {name: VestingFormType, field: vesting_form, scope: loan, since: 1}\n")},
		}
		_, err := Load(fsys)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VestingFormType")
	})

	withoutManagementCompany := strings.Replace(string(exts), "  - name: ManagementCompanyName\n", "  - name: ManagementCompanyNameV2\n", 1)
	require.NotEqual(t, string(exts), withoutManagementCompany)

	t.Run("a directory without a lock fails to load", func(t *testing.T) {
		_, err := Load(fstest.MapFS{
			FieldsFile:     {Data: fields},
			ExtensionsFile: {Data: exts},
		})
		require.ErrorIs(t, err, fs.ErrNotExist)
		assert.Contains(t, err.Error(), LockFile)
	})

	t.Run("a lock rewritten to match a renamed entry still fails", func(t *testing.T) {
		reg, err := ParseExtensions([]byte(withoutManagementCompany))
		require.NoError(t, err)
		lock, err := MarshalLock(reg.Lock())
		require.NoError(t, err)

		_, err = Load(fstest.MapFS{
			FieldsFile:     {Data: fields},
			ExtensionsFile: {Data: []byte(withoutManagementCompany)},
			LockFile:       {Data: lock},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ManagementCompanyName")
	})

	t.Run("the shipped tables load from a directory", func(t *testing.T) {
		lock, err := embedded.ReadFile("tables/" + LockFile)
		require.NoError(t, err)
		_, err = Load(fstest.MapFS{
			FieldsFile:     {Data: fields},
			ExtensionsFile: {Data: exts},
			LockFile:       {Data: lock},
		})
		require.NoError(t, err)
	})
}

func TestParseRejectsOverlappingRows(t *testing.T) {
	reg, err := ParseExtensions([]byte("namespace: {prefix: MB, uri: 'urn:x'}\nwrapper: W\nversion: 1\n"))
	require.NoError(t, err)
	_, err = Parse([]byte(`
entities: {loan: LOANS/LOAN}
fields:
  - {field: a, path: "@loan/A", format: string}
  - {field: a, path: "@loan/B", format: string, packs: [p1]}
`), reg)
	require.Error(t, err)
}
