// Copyright © 2025 The dmypy-ls authors

// Package diagnostic provides Rust-style annotated rendering of checker
// findings for CLI output. It is intentionally independent of the report
// and engine packages so any command can use it without import cycles.
package diagnostic

// Severity indicates the severity level of a diagnostic.
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

// Span identifies the source region to highlight under the finding.
type Span struct {
	File string // path for reading source; display name if unreadable
	Line int    // 1-based line number
	Col  int    // 1-based column; 0 means whole line
}

// Diagnostic is a single checker finding with its source anchor.
type Diagnostic struct {
	Severity Severity
	Message  string
	Code     string // rule identifier, e.g. "return-value"; may be empty
	Span     Span
}
