// Copyright © 2025 The dmypy-ls authors

package lsp

import (
	"context"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/dmypyls/dmypyls/session"
)

const debounceDelay = 300 * time.Millisecond

// textDocumentDidOpen handles the textDocument/didOpen notification.
func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.captureNotify(ctx)
	doc := s.docs.Open(
		params.TextDocument.URI,
		int32(params.TextDocument.Version),
		params.TextDocument.Text,
	)
	go s.guardedCheck(doc, true)
	return nil
}

// textDocumentDidChange handles the textDocument/didChange notification.
// Change events always trigger a re-check; in incremental mode the warm
// graph reads saved content from disk, so the result may lag unsaved
// edits until the next save (see engine.Daemon).
func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.captureNotify(ctx)
	// With full sync, the last content change is the complete document.
	var content string
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			content = c.Text
		case protocol.TextDocumentContentChangeEvent:
			content = c.Text
		}
	}

	doc := s.docs.Change(
		params.TextDocument.URI,
		int32(params.TextDocument.Version),
		content,
	)

	// Debounce: delay the check to avoid thrashing during rapid edits.
	s.debounceMu.Lock()
	if t, ok := s.debounce[doc.URI]; ok {
		t.Stop()
	}
	s.debounce[doc.URI] = time.AfterFunc(debounceDelay, func() {
		if d := s.docs.Get(doc.URI); d != nil {
			s.guardedCheck(d, false)
		}
	})
	s.debounceMu.Unlock()
	return nil
}

// textDocumentDidSave handles the textDocument/didSave notification.
func (s *Server) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.captureNotify(ctx)
	// Cancel any pending debounce and check immediately.
	s.debounceMu.Lock()
	if t, ok := s.debounce[params.TextDocument.URI]; ok {
		t.Stop()
		delete(s.debounce, params.TextDocument.URI)
	}
	s.debounceMu.Unlock()

	if doc := s.docs.Get(params.TextDocument.URI); doc != nil {
		go s.guardedCheck(doc, true)
	}
	return nil
}

// textDocumentDidClose handles the textDocument/didClose notification.
func (s *Server) textDocumentDidClose(_ *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	// Cancel pending debounce.
	s.debounceMu.Lock()
	if t, ok := s.debounce[params.TextDocument.URI]; ok {
		t.Stop()
		delete(s.debounce, params.TextDocument.URI)
	}
	s.debounceMu.Unlock()

	// Drop the buffer's overlay override: closing discards unsaved edits,
	// so checks of other documents must see the on-disk content again.
	s.session.Forget(uriToPath(params.TextDocument.URI))

	// Clear diagnostics for the closed file.
	s.publish(params.TextDocument.URI, []protocol.Diagnostic{})

	s.docs.Close(params.TextDocument.URI)
	return nil
}

// guardedCheck runs a check cycle off the transport goroutine. The
// session serializes overlapping checks internally and recovers engine
// panics itself; anything caught here escaped the publish path.
func (s *Server) guardedCheck(doc *Document, followImports bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logf("check for %s panicked: %v", doc.URI, p)
		}
	}()
	s.checkAndPublish(doc, followImports)
}

// checkAndPublish runs one check for the document and publishes the
// resulting diagnostics, fully replacing the previous set for its URI.
func (s *Server) checkAndPublish(doc *Document, followImports bool) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	uri, content := doc.snapshot()
	diags := s.session.Check(context.Background(), session.Doc{
		URI:           uri,
		Path:          uriToPath(uri),
		Text:          content,
		FollowImports: followImports,
	})
	s.publish(uri, diags)
}

func (s *Server) publish(uri string, diags []protocol.Diagnostic) {
	s.sendNotification(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}
