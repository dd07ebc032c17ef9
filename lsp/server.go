// Copyright © 2025 The dmypy-ls authors

// Package lsp implements the Language Server Protocol surface of
// dmypy-ls. It tracks open documents, runs the check session on lifecycle
// notifications, and publishes the resulting diagnostics.
package lsp

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tliron/glsp"
	glspserver "github.com/tliron/glsp/server"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/dmypyls/dmypyls/engine"
	"github.com/dmypyls/dmypyls/overlay"
	"github.com/dmypyls/dmypyls/session"
)

const (
	serverName    = "dmypy-ls"
	serverVersion = "0.2.0"
)

// Config holds server settings fixed at startup.
type Config struct {
	// Debug upgrades per-check logging to visible editor messages.
	Debug bool

	// Incremental selects the persistent dmypy daemon instead of a fresh
	// mypy run per check. Best effort: the daemon's fine-grained graph can
	// corrupt on repeated edits to one module, and warm checks reflect
	// saved file content rather than unsaved edits.
	Incremental bool

	// PythonExecutable is passed through to the checker unmodified.
	PythonExecutable string

	// WorkDir is the working directory for checker processes.
	WorkDir string

	// Flags are extra checker flags.
	Flags []string
}

// Server is the dmypy-ls language server.
type Server struct {
	handler protocol.Handler
	glspSrv *glspserver.Server
	docs    *DocumentStore
	session *session.Session
	debug   bool

	// checkMu serializes check+publish pairs so a later check cannot
	// publish between an earlier check finishing and its publication.
	checkMu sync.Mutex

	// Debouncer for didChange notifications.
	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	// Context for sending notifications (captured from latest request).
	notifyMu sync.Mutex
	notify   glsp.NotifyFunc

	// exitFn is called on the LSP exit notification. Defaults to os.Exit.
	// Overridable for testing.
	exitFn func(int)
}

// Option configures the LSP server.
type Option func(*serverConfig)

type serverConfig struct {
	eng engine.Engine
	ov  *overlay.Overlay
}

// WithEngine injects a check engine, overriding the one derived from
// Config. Used by tests and embedders with a pre-built engine.
func WithEngine(eng engine.Engine) Option {
	return func(c *serverConfig) { c.eng = eng }
}

// WithOverlay injects a pre-built source overlay instead of creating one.
func WithOverlay(ov *overlay.Overlay) Option {
	return func(c *serverConfig) { c.ov = ov }
}

// New creates a dmypy-ls server. The engine mode is fixed here for the
// life of the process.
func New(cfg Config, opts ...Option) (*Server, error) {
	var sc serverConfig
	for _, o := range opts {
		o(&sc)
	}

	ov := sc.ov
	if ov == nil {
		var err error
		ov, err = overlay.New()
		if err != nil {
			return nil, fmt.Errorf("initializing overlay: %w", err)
		}
	}

	eng := sc.eng
	if eng == nil {
		ecfg := engine.Config{
			Flags:            cfg.Flags,
			PythonExecutable: cfg.PythonExecutable,
			WorkDir:          cfg.WorkDir,
		}
		if cfg.Incremental {
			eng = engine.NewDaemon(ecfg, ov)
		} else {
			eng = engine.NewOneShot(ecfg, ov)
		}
	}

	s := &Server{
		docs:     NewDocumentStore(),
		debug:    cfg.Debug,
		debounce: make(map[string]*time.Timer),
		exitFn:   os.Exit,
	}
	s.session = session.New(eng, ov, s.logf)

	s.handler = protocol.Handler{
		Initialize: s.initialize,
		Shutdown:   s.shutdown,
		Exit:       s.exit,
		SetTrace:   s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidSave:   s.textDocumentDidSave,
		TextDocumentDidClose:  s.textDocumentDidClose,
	}

	s.glspSrv = glspserver.NewServer(&s.handler, serverName, false)
	return s, nil
}

// RunStdio starts the server using stdio transport.
func (s *Server) RunStdio() error {
	return s.glspSrv.RunStdio()
}

// RunTCP starts the server listening on the given address.
func (s *Server) RunTCP(addr string) error {
	return s.glspSrv.RunTCP(addr)
}

// initialize handles the LSP initialize request.
func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.captureNotify(ctx)

	capabilities := s.handler.CreateServerCapabilities()

	// Override text document sync to full: the session snapshots whole
	// buffers into the overlay, so incremental edits are not applied.
	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: boolPtr(false)},
	}

	version := serverVersion
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &version,
		},
	}, nil
}

// shutdown handles the LSP shutdown request, tearing down the check
// session (daemon stop, overlay temp dir removal).
func (s *Server) shutdown(_ *glsp.Context) error {
	s.debounceMu.Lock()
	for _, t := range s.debounce {
		t.Stop()
	}
	s.debounce = make(map[string]*time.Timer)
	s.debounceMu.Unlock()

	return s.session.Close()
}

// exit handles the LSP exit notification by terminating the process.
func (s *Server) exit(_ *glsp.Context) error {
	s.exitFn(0)
	return nil
}

// setTrace handles the $/setTrace notification (required by some clients).
func (s *Server) setTrace(_ *glsp.Context, _ *protocol.SetTraceParams) error {
	return nil
}

// captureNotify stores the notification function from the context for
// async use (publishing diagnostics after a debounce).
func (s *Server) captureNotify(ctx *glsp.Context) {
	s.notifyMu.Lock()
	s.notify = ctx.Notify
	s.notifyMu.Unlock()
}

// sendNotification sends a notification to the client.
func (s *Server) sendNotification(method string, params any) {
	s.notifyMu.Lock()
	fn := s.notify
	s.notifyMu.Unlock()
	if fn != nil {
		fn(method, params)
	}
}

// logf routes operational messages to the client log. With --debug the
// message is also shown in the editor, mirroring the checker's own
// verbose mode.
func (s *Server) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.sendNotification(protocol.ServerWindowLogMessage, &protocol.LogMessageParams{
		Type:    protocol.MessageTypeLog,
		Message: msg,
	})
	if s.debug {
		s.sendNotification(protocol.ServerWindowShowMessage, &protocol.ShowMessageParams{
			Type:    protocol.MessageTypeInfo,
			Message: msg,
		})
	}
}

func boolPtr(b bool) *bool {
	return &b
}
