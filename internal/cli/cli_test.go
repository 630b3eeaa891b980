package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mismobridge/internal/canonical"
	"mismobridge/internal/harness"
	"mismobridge/internal/pack"
	"mismobridge/internal/report"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeRecord(t *testing.T, dir string, packID string, mutate func(*canonical.Record)) string {
	t.Helper()
	packs, err := pack.Default()
	require.NoError(t, err)
	p, err := packs.Get(packID)
	require.NoError(t, err)
	rec := harness.Generate(1, 99, p)[0].Record
	if mutate != nil {
		mutate(&rec)
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	path := filepath.Join(dir, "record.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPacksList(t *testing.T) {
	out, err := run(t, "", "packs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mismo34-generic")
	assert.Contains(t, out, "mismo34-gse")
	assert.Contains(t, out, "sha256:")
}

func TestPacksEnum(t *testing.T) {
	out, err := run(t, "", "packs", "enum", "mismo34-gse", "LoanPurposeType")
	require.NoError(t, err)
	assert.Equal(t, "Purchase\nRefinance\nCashOutRefinance\nOther\n", out)

	_, err = run(t, "", "packs", "enum", "mismo34-gse", "Nope")
	assert.ErrorIs(t, err, pack.ErrUnknownEnum)
}

func TestExportThenImport(t *testing.T) {
	dir := t.TempDir()
	recordPath := writeRecord(t, dir, "mismo34-gse", nil)
	docPath := filepath.Join(dir, "loan.xml")
	sinkDir := filepath.Join(dir, "sink")

	_, err := run(t, "", "export", "--mode", "gse", "-o", docPath, recordPath)
	require.NoError(t, err)
	doc, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte(`<?xml version="1.0" encoding="UTF-8"?>`)))

	out, err := run(t, "", "import", "--sink-dir", sinkDir, docPath)
	require.NoError(t, err)
	var res struct {
		DetectedPackID *string          `json:"detected_pack_id"`
		Record         canonical.Record `json:"canonical_record"`
		SinkWritten    bool             `json:"sink_written"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.DetectedPackID)
	assert.Equal(t, "mismo34-gse", *res.DetectedPackID)
	assert.True(t, res.SinkWritten)

	files, err := os.ReadDir(sinkDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestExportFromStdinToStdout(t *testing.T) {
	recordPath := writeRecord(t, t.TempDir(), "mismo34-generic", nil)
	data, err := os.ReadFile(recordPath)
	require.NoError(t, err)

	out, err := run(t, string(data), "export", "--pack", "mismo34-generic", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "<MESSAGE")
}

func TestExportBlocked(t *testing.T) {
	recordPath := writeRecord(t, t.TempDir(), "mismo34-gse", func(rec *canonical.Record) {
		rec.Set("loan_purpose", canonical.String("Purchase"))
		rec.Set("cash_out_amount", canonical.Number(500))
	})

	out, err := run(t, "", "export", "--mode", "gse", recordPath)
	assert.ErrorIs(t, err, errBlocked)
	assert.Contains(t, out, report.CodeConditionalForbid)
	assert.NotContains(t, out, "<MESSAGE")
}

func TestExportNeedsTarget(t *testing.T) {
	recordPath := writeRecord(t, t.TempDir(), "mismo34-gse", nil)
	_, err := run(t, "", "export", recordPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pack or mode selected")
}

func TestPreflightReportsFailure(t *testing.T) {
	recordPath := writeRecord(t, t.TempDir(), "mismo34-gse", func(rec *canonical.Record) {
		rec.Set("loan_purpose", canonical.String("Purchase"))
		rec.Set("cash_out_amount", canonical.Number(500))
	})

	out, err := run(t, "", "preflight", "-m", "gse", recordPath)
	assert.ErrorIs(t, err, errFailed)
	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, report.StatusFail, rep.Status)
}

func TestImportQuarantinesUndetectedDocument(t *testing.T) {
	out, err := run(t, "<MESSAGE><DEAL_SETS/></MESSAGE>", "import", "-")
	assert.ErrorIs(t, err, errQuarantined)
	assert.Contains(t, out, `"quarantine_id"`)
	assert.Contains(t, out, `"detected_pack_id": null`)
}

func TestValidateMalformedDocument(t *testing.T) {
	out, err := run(t, "<MESSAGE><unclosed></MESSAGE>", "validate", "--pack", "mismo34-generic", "-")
	assert.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, `"status": "FAIL"`)
}

func TestExtensionsLockRoundTrip(t *testing.T) {
	lock, err := run(t, "", "extensions", "lock")
	require.NoError(t, err)
	assert.Contains(t, lock, "FinancedUnitCount")

	out, err := run(t, lock, "extensions", "verify", "-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "OK:"))

	tampered := lock + "- {name: RetiredExtension, field: retired, scope: loan, since: 1}\n"
	_, err = run(t, tampered, "extensions", "verify", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RetiredExtension")
}

func TestHarnessCommand(t *testing.T) {
	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "summary.json")

	out, err := run(t, "", "harness", "-m", "generic", "-n", "12", "--seed", "5", "--workers", "2", "--json", summaryPath)
	require.NoError(t, err)
	assert.Contains(t, out, "12/12 passed")
	assert.Contains(t, out, "DIMENSION")

	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var sum struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, 12, sum.Total)
}
