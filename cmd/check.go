// Copyright © 2025 The dmypy-ls authors

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmypyls/dmypyls/diagnostic"
	"github.com/dmypyls/dmypyls/engine"
	"github.com/dmypyls/dmypyls/overlay"
	"github.com/dmypyls/dmypyls/report"
)

var (
	checkJSON   bool
	checkColor  string
	checkPython string
	checkFlags  []string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] files...",
	Short: "Type-check Python files with mypy",
	Long: `Run a one-shot mypy check over the given files and render the findings
as annotated source snippets.

This is the same engine invocation the language server performs per
buffer, without the editor in the loop. Useful for CI and for verifying
that dmypyls and your editor see the same findings.

Exit codes:
  0  No problems found
  1  One or more problems were reported
  2  Bad invocation or checker failure

Examples:
  dmypyls check app.py                      Check a single file
  dmypyls check --json app.py               Output findings as JSON
  dmypyls check --python-executable .venv/bin/python app.py`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		records, err := runCheck(args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if len(records) == 0 {
			return
		}

		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(records); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
		} else {
			r := &diagnostic.Renderer{Color: colorMode()}
			if err := r.RenderAll(os.Stdout, toDiagnostics(records)); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
		}
		os.Exit(1)
	},
}

func runCheck(files []string) ([]report.Record, error) {
	ov, err := overlay.New()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ov.Close() }()

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	eng := engine.NewOneShot(engine.Config{
		Flags:            checkFlags,
		PythonExecutable: checkPython,
		WorkDir:          workDir,
	}, ov)

	var records []report.Record
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		module, baseDir := engine.ResolveModule(abs)
		res, err := eng.Check(context.Background(), engine.Source{
			Path:    abs,
			Module:  module,
			BaseDir: baseDir,
		})
		if err != nil {
			return nil, err
		}
		if res.Status != 0 {
			return nil, fmt.Errorf("mypy failed on %s (status %d):\n%s%s",
				file, res.Status, res.Stderr, res.Stdout)
		}
		records = append(records, parseRecords(res, baseDir)...)
	}
	return records, nil
}

// parseRecords collects every parseable finding from a result, resolving
// reported paths against the checker's working directory so the renderer
// can read source lines.
func parseRecords(res engine.Result, baseDir string) []report.Record {
	var records []report.Record
	for _, stream := range []string{res.Stderr, res.Stdout} {
		for _, line := range splitLines(stream) {
			rec, err := report.ParseLine(line)
			if err != nil {
				continue // summary lines and blank output
			}
			if !filepath.IsAbs(rec.File) {
				rec.File = filepath.Join(baseDir, rec.File)
			}
			records = append(records, rec)
		}
	}
	return records
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func toDiagnostics(records []report.Record) []diagnostic.Diagnostic {
	diags := make([]diagnostic.Diagnostic, len(records))
	for i, rec := range records {
		diags[i] = diagnostic.Diagnostic{
			Severity: toSeverity(rec.Severity),
			Message:  rec.Message,
			Code:     rec.Code,
			Span: diagnostic.Span{
				File: rec.File,
				Line: rec.Row,
				Col:  rec.Col,
			},
		}
	}
	return diags
}

func toSeverity(s report.Severity) diagnostic.Severity {
	switch s {
	case report.SeverityWarning:
		return diagnostic.SeverityWarning
	case report.SeverityNote:
		return diagnostic.SeverityNote
	default:
		return diagnostic.SeverityError
	}
}

func colorMode() diagnostic.ColorMode {
	switch checkColor {
	case "always":
		return diagnostic.ColorAlways
	case "never":
		return diagnostic.ColorNever
	default:
		return diagnostic.ColorAuto
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkJSON, "json", false,
		"Output findings as JSON.")
	checkCmd.Flags().StringVar(&checkColor, "color", "auto",
		`Control colored output: "auto", "always", or "never".`)
	checkCmd.Flags().StringVar(&checkPython, "python-executable", "",
		"Interpreter forwarded to mypy for stub resolution.")
	checkCmd.Flags().StringArrayVar(&checkFlags, "mypy-flag", nil,
		"Extra mypy flag (may be repeated).")
}
