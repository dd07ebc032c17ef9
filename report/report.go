// Copyright © 2025 The dmypy-ls authors

// Package report translates the checker's line-oriented textual report
// into LSP diagnostics. Each finding is one line of the form
//
//	<file>:<row>[:<col>]: <severity>: <message>[  [<code>]]
//
// with 1-based row and column. Lines that do not match the grammar are
// logged and dropped; findings for files other than the triggering
// document are filtered out by path suffix.
package report

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/dmypyls/dmypyls/engine"
)

// SourceTag identifies this server in published diagnostics.
const SourceTag = "dmypy-ls"

// Severity is a checker finding severity.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "unknown"
	}
}

// LSP maps a checker severity onto the protocol scale. Notes surface as
// Information, not Hint; they carry advisory text the user should see.
func (s Severity) LSP() protocol.DiagnosticSeverity {
	switch s {
	case SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	case SeverityNote:
		return protocol.DiagnosticSeverityInformation
	default:
		return protocol.DiagnosticSeverityError
	}
}

// MarshalJSON serializes the severity as a JSON string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes a severity from a JSON string.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	sev, ok := severities[str]
	if !ok {
		return fmt.Errorf("unknown severity: %q", str)
	}
	*s = sev
	return nil
}

var severities = map[string]Severity{
	"error":   SeverityError,
	"warning": SeverityWarning,
	"note":    SeverityNote,
}

// lineRE is the report line grammar. The message is non-greedy so that a
// trailing double-space-delimited "[code]" marker is captured separately.
var lineRE = regexp.MustCompile(
	`^([^:]+):([-+]?\d+)(?::([-+]?\d+))?: ([^:]+): (.*?)(?:  \[([^\]]+)\])?$`,
)

// Record is one parsed finding, derived strictly from one report line.
type Record struct {
	File     string   `json:"file"`
	Row      int      `json:"row"` // 1-based
	Col      int      `json:"col"` // 1-based; 1 when the report omitted a column
	HasCol   bool     `json:"-"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code,omitempty"` // empty for advisory lines without a rule identifier
}

// ParseLine parses a single report line into a Record.
func ParseLine(line string) (Record, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return Record{}, fmt.Errorf("line does not match report grammar: %q", line)
	}
	sev, ok := severities[m[4]]
	if !ok {
		return Record{}, fmt.Errorf("unknown severity %q in line: %q", m[4], line)
	}

	row, err := strconv.Atoi(m[2])
	if err != nil {
		return Record{}, fmt.Errorf("bad row in line %q: %w", line, err)
	}
	rec := Record{
		File:     m[1],
		Row:      row,
		Col:      1,
		Severity: sev,
		Message:  m[5],
		Code:     m[6],
	}
	if m[3] != "" {
		col, err := strconv.Atoi(m[3])
		if err != nil {
			return Record{}, fmt.Errorf("bad column in line %q: %w", line, err)
		}
		rec.Col = col
		rec.HasCol = true
	}
	return rec, nil
}

// Diagnostic converts a record to an LSP diagnostic: 1-based row/col
// become 0-based line/character, and the range is widened to exactly one
// column since the report carries no end position.
func (r Record) Diagnostic() protocol.Diagnostic {
	start := protocol.Position{
		Line:      safeUint(r.Row - 1),
		Character: safeUint(r.Col - 1),
	}
	end := protocol.Position{
		Line:      start.Line,
		Character: start.Character + 1,
	}
	sev := r.Severity.LSP()
	d := protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &sev,
		Source:   strPtr(SourceTag),
		Message:  r.Message,
	}
	if r.Code != "" {
		d.Code = &protocol.IntegerOrString{Value: r.Code}
	}
	return d
}

// Translate parses a raw check result into diagnostics for the triggering
// document. Unparsed lines are reported through logf and dropped; findings
// whose file is not a suffix of the document URI are silently dropped — a
// single check may cover the whole import graph, but only the triggering
// document's findings are published. The stderr stream is scanned before
// stdout, matching the order the checker emits advisory text.
func Translate(res engine.Result, uri string, logf func(format string, args ...any)) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	for _, line := range reportLines(res) {
		rec, err := ParseLine(line)
		if err != nil {
			if logf != nil {
				logf("failed to parse checker output: %s", line)
			}
			continue
		}
		if !strings.HasSuffix(uri, rec.File) {
			continue
		}
		diags = append(diags, rec.Diagnostic())
	}
	return diags
}

func reportLines(res engine.Result) []string {
	raw := append(strings.Split(res.Stderr, "\n"), strings.Split(res.Stdout, "\n")...)
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// safeUint converts a non-negative int to protocol.UInteger, clamping
// negative values to zero.
func safeUint(n int) protocol.UInteger {
	if n < 0 {
		return 0
	}
	return protocol.UInteger(n) // #nosec G115 -- line/col are always small positive ints
}

func strPtr(s string) *string {
	return &s
}
