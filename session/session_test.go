// Copyright © 2025 The dmypy-ls authors

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dmypyls/dmypyls/engine"
	"github.com/dmypyls/dmypyls/overlay"
)

// fakeEngine satisfies engine.Engine with a canned check function.
type fakeEngine struct {
	check func(ctx context.Context, src engine.Source) (engine.Result, error)
	calls int
}

func (e *fakeEngine) Check(ctx context.Context, src engine.Source) (engine.Result, error) {
	e.calls++
	return e.check(ctx, src)
}

func (e *fakeEngine) Close() error { return nil }

func testSession(t *testing.T, eng engine.Engine) *Session {
	t.Helper()
	ov, err := overlay.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ov.Close() })
	return New(eng, ov, t.Logf)
}

// writeDoc creates a real backing file so the missing-file guard passes.
func writeDoc(t *testing.T, content string) (uri, path string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "mod.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return "file://" + path, path
}

const brokenSource = `def foo(bar: str) -> int:
    return "not a int"

foo(5)
`

func brokenReport(path string) string {
	return fmt.Sprintf(`%[1]s:2:12: error: Incompatible return value type (got "str", expected "int")  [return-value]
%[1]s:4:5: error: Argument 1 to "foo" has incompatible type "int"; expected "str"  [arg-type]
`, path)
}

func TestCheckEndToEnd(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")
	eng := &fakeEngine{check: func(_ context.Context, src engine.Source) (engine.Result, error) {
		return engine.Result{Stdout: brokenReport(path)}, nil
	}}
	s := testSession(t, eng)

	diags := s.Check(context.Background(), Doc{URI: uri, Path: path, Text: brokenSource})
	require.Len(t, diags, 2)

	assert.Equal(t, `Incompatible return value type (got "str", expected "int")`, diags[0].Message)
	require.NotNil(t, diags[0].Code)
	assert.Equal(t, "return-value", diags[0].Code.Value)
	require.NotNil(t, diags[0].Severity)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diags[0].Severity)

	assert.Equal(t, `Argument 1 to "foo" has incompatible type "int"; expected "str"`, diags[1].Message)
	require.NotNil(t, diags[1].Code)
	assert.Equal(t, "arg-type", diags[1].Code.Value)
	require.NotNil(t, diags[1].Severity)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diags[1].Severity)

	assert.Equal(t, Ready, s.State())
}

func TestCheckReplacementNotAccumulation(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")
	reports := []string{brokenReport(path), ""}
	eng := &fakeEngine{}
	eng.check = func(_ context.Context, _ engine.Source) (engine.Result, error) {
		return engine.Result{Stdout: reports[eng.calls-1]}, nil
	}
	s := testSession(t, eng)

	first := s.Check(context.Background(), Doc{URI: uri, Path: path, Text: brokenSource})
	assert.Len(t, first, 2)

	second := s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "def foo(bar: str) -> int:\n    return 1\n"})
	require.NotNil(t, second)
	assert.Empty(t, second)
}

func TestCheckMissingFileSkipsEngine(t *testing.T) {
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		return engine.Result{}, nil
	}}
	s := testSession(t, eng)

	path := filepath.Join(t.TempDir(), "deleted.py")
	diags := s.Check(context.Background(), Doc{URI: "file://" + path, Path: path, Text: "x = 1\n"})

	require.NotNil(t, diags)
	assert.Empty(t, diags)
	assert.Zero(t, eng.calls)
}

func TestCheckUntitledBufferUsesScratchPath(t *testing.T) {
	var seen engine.Source
	eng := &fakeEngine{check: func(_ context.Context, src engine.Source) (engine.Result, error) {
		seen = src
		return engine.Result{Stdout: src.Path + `:1:1: error: boom  [misc]` + "\n"}, nil
	}}
	s := testSession(t, eng)

	// The untitled URI never suffixes the scratch path, so the finding is
	// filtered out. What matters is that the engine saw a real on-disk
	// path and that it was released afterwards.
	diags := s.Check(context.Background(), Doc{URI: "untitled:Untitled-1", Text: "x: int = ''\n"})
	require.NotNil(t, diags)
	assert.Empty(t, diags)

	require.NotEmpty(t, seen.Path)
	_, err := os.Stat(seen.Path)
	assert.True(t, os.IsNotExist(err), "scratch path must be released after the check")
}

func TestCheckEngineFailurePublishesEmpty(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		return engine.Result{Status: 2, Stderr: "Daemon crashed!\n"}, nil
	}}
	s := testSession(t, eng)

	diags := s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})
	require.NotNil(t, diags)
	assert.Empty(t, diags)
	assert.Equal(t, Ready, s.State())
}

func TestCheckEnginePanicPublishesEmpty(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		panic("graph corrupted")
	}}
	s := testSession(t, eng)

	diags := s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})
	require.NotNil(t, diags)
	assert.Empty(t, diags)
	assert.Equal(t, Ready, s.State())
}

func TestForgetClearsOverride(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		return engine.Result{}, nil
	}}
	ov, err := overlay.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ov.Close() })
	s := New(eng, ov, nil)

	s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})
	_, ok := ov.Digest(path)
	require.True(t, ok, "check must install an override")

	s.Forget(path)
	_, ok = ov.Digest(path)
	assert.False(t, ok)
	assert.Empty(t, ov.ShadowArgs(), "later checks must not shadow the forgotten path")

	s.Forget("") // untitled buffers have no path to forget
}

func TestCheckSerialization(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")

	var mu sync.Mutex
	var inFlight, maxInFlight int
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return engine.Result{}, nil
	}}
	s := testSession(t, eng)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "checks must never overlap")
	assert.Equal(t, 4, eng.calls)
}

func TestCheckStateTransitions(t *testing.T) {
	uri, path := writeDoc(t, "import os\n")

	checking := make(chan struct{})
	release := make(chan struct{})
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		close(checking)
		<-release
		return engine.Result{}, nil
	}}
	s := testSession(t, eng)
	assert.Equal(t, Uninitialized, s.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})
	}()

	<-checking
	assert.Equal(t, Checking, s.State())
	close(release)
	<-done
	assert.Equal(t, Ready, s.State())
}

func TestCheckEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	uri, path := writeDoc(t, "import os\n")
	eng := &fakeEngine{check: func(_ context.Context, _ engine.Source) (engine.Result, error) {
		return engine.Result{}, nil
	}}
	ov, err := overlay.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ov.Close() })

	s := New(eng, ov, nil)
	s.tracer = tp.Tracer("test")

	s.Check(context.Background(), Doc{URI: uri, Path: path, Text: "x = 1\n"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.check", spans[0].Name())
}
