// Copyright © 2025 The dmypy-ls authors

// Package engine is the boundary to the external mypy type checker. It
// exposes two invocation strategies behind one interface: a one-shot
// runner that spawns a fresh mypy process per check, and a persistent
// dmypy daemon that keeps a fine-grained dependency graph between checks.
// Callers never branch on the mode; both strategies funnel their output
// through the same Result shape.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// DefaultFlags is the flag set passed to every check. It forces a stable,
// line-oriented report that the translator's grammar can parse.
var DefaultFlags = []string{
	"--hide-error-context",
	"--no-color-output",
	"--show-column-numbers",
	"--show-error-codes",
	"--no-error-summary",
	"--no-pretty",
}

// Source is a unit submitted to the checker.
type Source struct {
	// Path is the absolute on-disk path. For unsaved buffers this is a
	// scratch path allocated by the overlay.
	Path string

	// Module is the dotted module name, resolved by crawling package
	// boundaries. Empty when the file is not inside a package.
	Module string

	// BaseDir is the root used for module resolution. The checker runs
	// from here so reported paths stay consistent across checks.
	BaseDir string

	// FollowImports signals whether modules importing this source must be
	// re-analyzed too, versus a strictly local re-check. Only the daemon
	// strategy distinguishes the two.
	FollowImports bool
}

// Result is the raw outcome of one checker invocation. Status 0 means the
// analysis completed (findings, if any, are in the output); nonzero means
// an engine-level failure such as a crash or configuration error.
type Result struct {
	Stdout string
	Stderr string
	Status int
}

// Config holds engine settings fixed at startup.
type Config struct {
	// Flags are extra checker flags appended after DefaultFlags.
	Flags []string

	// PythonExecutable is passed through to the checker unmodified as
	// --python-executable, typically a virtualenv interpreter.
	PythonExecutable string

	// WorkDir is the working directory for checker processes when a
	// source has no BaseDir of its own.
	WorkDir string
}

// baseFlags assembles DefaultFlags, the interpreter override, and any
// configured extras.
func (c Config) baseFlags() []string {
	flags := append([]string(nil), DefaultFlags...)
	if c.PythonExecutable != "" {
		flags = append(flags, "--python-executable", c.PythonExecutable)
	}
	return append(flags, c.Flags...)
}

// Engine runs type checks. Implementations hold mutable, non-reentrant
// state; callers must serialize Check invocations.
type Engine interface {
	Check(ctx context.Context, src Source) (Result, error)
	Close() error
}

// run executes a checker command and captures its report. Exit statuses 0
// and 1 both mean the analysis completed (1 is "findings present"), so
// they normalize to status 0; anything else is an engine-level failure and
// keeps its exit code.
func run(ctx context.Context, dir string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Status = normalizeStatus(exitErr.ExitCode())
		return res, nil
	}
	return res, fmt.Errorf("spawning %s: %w", name, err)
}

func normalizeStatus(code int) int {
	if code == 1 {
		return 0
	}
	return code
}
