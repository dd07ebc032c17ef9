// Copyright © 2025 The dmypy-ls authors

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmypyls/dmypyls/diagnostic"
	"github.com/dmypyls/dmypyls/engine"
)

func TestParseRecordsResolvesRelativePaths(t *testing.T) {
	res := engine.Result{Stdout: `app/login.py:3:12: error: bad return  [return-value]
Found 1 error in 1 file (checked 1 source file)
`}
	records := parseRecords(res, "/proj")
	require.Len(t, records, 1)
	assert.Equal(t, "/proj/app/login.py", records[0].File)
}

func TestParseRecordsKeepsAbsolutePaths(t *testing.T) {
	res := engine.Result{Stdout: "/tmp/x.py:1:1: error: boom  [misc]\n"}
	records := parseRecords(res, "/proj")
	require.Len(t, records, 1)
	assert.Equal(t, "/tmp/x.py", records[0].File)
}

func TestToDiagnostics(t *testing.T) {
	res := engine.Result{Stdout: `/tmp/x.py:3:12: error: bad return  [return-value]
/tmp/x.py:5: note: See documentation
`}
	diags := toDiagnostics(parseRecords(res, "/proj"))
	require.Len(t, diags, 2)

	assert.Equal(t, diagnostic.SeverityError, diags[0].Severity)
	assert.Equal(t, "return-value", diags[0].Code)
	assert.Equal(t, 3, diags[0].Span.Line)
	assert.Equal(t, 12, diags[0].Span.Col)

	assert.Equal(t, diagnostic.SeverityNote, diags[1].Severity)
	assert.Equal(t, 1, diags[1].Span.Col)
}
