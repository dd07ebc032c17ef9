// Copyright © 2025 The dmypy-ls authors

// Package session owns the check lifecycle: it reconciles editor buffers
// with the source overlay, drives the engine, and hands the raw report to
// the translator. One session exists per process and at most one check is
// in flight at a time: the engine holds non-reentrant state, so
// overlapping checks queue rather than run concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmypyls/dmypyls/engine"
	"github.com/dmypyls/dmypyls/overlay"
	"github.com/dmypyls/dmypyls/report"
)

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Checking
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Checking:
		return "checking"
	default:
		return "unknown"
	}
}

// stateBox holds the lifecycle state with atomic access so State can be
// read while a check is in flight.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) set(s State) { b.v.Store(int32(s)) }
func (b *stateBox) get() State  { return State(b.v.Load()) }

// Doc is the snapshot of a document submitted for checking.
type Doc struct {
	// URI identifies the document to the editor.
	URI string

	// Path is the backing file path, empty for untitled buffers.
	Path string

	// Text is the current buffer content.
	Text string

	// FollowImports requests cross-module re-analysis (open/save events)
	// versus a strictly local re-check (change events).
	FollowImports bool
}

// Session orchestrates overlay, engine, and translator for each check.
type Session struct {
	// sem serializes checks. A plain channel rather than a mutex so state
	// transitions stay observable while a check is in flight.
	sem chan struct{}

	state stateBox

	eng    engine.Engine
	ov     *overlay.Overlay
	tracer trace.Tracer
	logf   func(format string, args ...any)
}

// New creates a session around an engine and overlay. logf receives
// operational messages (unparsed report lines, per-check timings); nil
// disables logging.
func New(eng engine.Engine, ov *overlay.Overlay, logf func(format string, args ...any)) *Session {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Session{
		sem:    make(chan struct{}, 1),
		eng:    eng,
		ov:     ov,
		tracer: otel.Tracer("github.com/dmypyls/dmypyls/session"),
		logf:   logf,
	}
	s.state.set(Uninitialized)
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return s.state.get()
}

// Check runs one full check cycle for doc and returns the diagnostics to
// publish. The returned set fully replaces any previously published set
// for the document; on any failure it is empty rather than stale, with the
// failure detail logged. Check never returns nil.
func (s *Session) Check(ctx context.Context, doc Doc) []protocol.Diagnostic {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	if s.state.get() == Uninitialized {
		s.state.set(Ready)
	}

	res, err := s.runGuarded(ctx, doc)
	if err != nil {
		s.logf("check failed for %s: %v", doc.URI, err)
		res = engine.Result{Status: 1, Stderr: err.Error()}
	}
	if res.Status != 0 {
		s.logf("checker reported failure for %s (status %d): %s%s",
			doc.URI, res.Status, res.Stderr, res.Stdout)
		return []protocol.Diagnostic{}
	}
	return report.Translate(res, doc.URI, s.logf)
}

// Forget drops the overlay override for path, so later checks of other
// documents that import it see the on-disk content again. Called when the
// editor closes a buffer, discarding any unsaved edits.
func (s *Session) Forget(path string) {
	if path == "" {
		return
	}
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	s.ov.Clear(path)
}

// Close tears the session down, releasing the engine and the overlay's
// temporary resources.
func (s *Session) Close() error {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return errors.Join(s.eng.Close(), s.ov.Close())
}

// runGuarded isolates the check cycle so a panic anywhere in overlay or
// engine code degrades to an empty publication instead of killing the
// server.
func (s *Session) runGuarded(ctx context.Context, doc Doc) (res engine.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check panicked: %v", p)
		}
	}()
	return s.run(ctx, doc)
}

func (s *Session) run(ctx context.Context, doc Doc) (engine.Result, error) {
	src := engine.Source{Path: doc.Path, FollowImports: doc.FollowImports}

	if src.Path != "" {
		if _, err := os.Stat(src.Path); err != nil {
			// The backing file is gone; clear the document's diagnostics
			// without invoking the engine.
			s.ov.Clear(src.Path)
			s.logf("skipping check, file missing: %s", src.Path)
			return engine.Result{}, nil
		}
		src.Module, src.BaseDir = engine.ResolveModule(src.Path)
		if err := s.ov.Set(src.Path, []byte(doc.Text)); err != nil {
			return engine.Result{}, err
		}
	} else {
		// Untitled buffer: the scratch file itself carries the content, no
		// shadow mapping needed.
		scratch, err := s.ov.Scratch([]byte(doc.Text))
		if err != nil {
			return engine.Result{}, err
		}
		defer s.ov.ReleaseScratch(scratch)
		src.Path = scratch
	}

	if err := s.ov.Flush(); err != nil {
		return engine.Result{}, err
	}

	s.state.set(Checking)
	defer s.state.set(Ready)

	ctx, span := s.tracer.Start(ctx, "session.check", trace.WithAttributes(
		attribute.String("document.uri", doc.URI),
		attribute.String("document.module", src.Module),
		attribute.Bool("check.follow_imports", src.FollowImports),
	))
	defer span.End()

	start := time.Now()
	res, err := s.eng.Check(ctx, src)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Int64("check.elapsed_ms", elapsed.Milliseconds()),
		attribute.Int("check.status", res.Status),
	)
	s.logf("checked %s in %s (status %d)", doc.URI, elapsed, res.Status)
	return res, err
}
