// Copyright © 2025 The dmypy-ls authors

// Package overlay tracks in-memory buffer content that takes precedence
// over on-disk sources during a check. Each override is materialized as a
// shadow file handed to the checker via --shadow-file pairs, so the
// checker's own staleness detection sees exactly the editor's view of a
// path without the path itself being touched.
package overlay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type entry struct {
	digest [sha256.Size]byte
	data   []byte
	shadow string
}

// Overlay maps absolute source paths to authoritative buffer content.
// All methods are safe for concurrent use.
type Overlay struct {
	mu         sync.Mutex
	dir        string
	entries    map[string]*entry
	scratchSeq int
}

// New creates an overlay backed by a fresh temporary directory for shadow
// and scratch files. The directory lives until Close.
func New() (*Overlay, error) {
	dir, err := os.MkdirTemp("", "dmypy-ls-")
	if err != nil {
		return nil, fmt.Errorf("creating overlay dir: %w", err)
	}
	return &Overlay{
		dir:     dir,
		entries: make(map[string]*entry),
	}, nil
}

// Dir returns the overlay's temporary directory. Scratch files and the
// daemon status file live here.
func (o *Overlay) Dir() string {
	return o.dir
}

// Set stores text as the authoritative content for path. Setting identical
// content is a no-op: the digest is stable and the shadow file is left
// untouched so the checker's change detection does not fire.
func (o *Overlay) Set(path string, text []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	digest := sha256.Sum256(text)
	if e, ok := o.entries[path]; ok {
		if e.digest == digest {
			return nil
		}
		e.digest = digest
		e.data = append(e.data[:0], text...)
		return o.writeShadow(e)
	}

	e := &entry{
		digest: digest,
		data:   append([]byte(nil), text...),
		shadow: o.shadowPath(path),
	}
	if err := o.writeShadow(e); err != nil {
		return err
	}
	o.entries[path] = e
	return nil
}

// Clear removes the override for path so subsequent checks fall back to
// on-disk content.
func (o *Overlay) Clear(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[path]; ok {
		_ = os.Remove(e.shadow)
		delete(o.entries, path)
	}
}

// Flush re-materializes every shadow file whose on-disk bytes no longer
// match the stored content. Call it at the start of each check cycle so
// files created or deleted since the last check are re-observed.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.entries {
		current, err := os.ReadFile(e.shadow)
		if err == nil && bytes.Equal(current, e.data) {
			continue
		}
		if err := o.writeShadow(e); err != nil {
			return err
		}
	}
	return nil
}

// ShadowArgs returns the checker-visible view of the overlay as repeated
// "--shadow-file REAL SHADOW" argument pairs, ordered by real path.
func (o *Overlay) ShadowArgs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	paths := make([]string, 0, len(o.entries))
	for p := range o.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	args := make([]string, 0, 3*len(paths))
	for _, p := range paths {
		args = append(args, "--shadow-file", p, o.entries[p].shadow)
	}
	return args
}

// Digest returns the hex content digest stored for path.
func (o *Overlay) Digest(path string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[path]
	if !ok {
		return "", false
	}
	return hex.EncodeToString(e.digest[:]), true
}

// Scratch writes text to a synthetic path for a buffer with no backing
// file. The path is unique for the lifetime of the overlay and must be
// released with ReleaseScratch when the check completes.
func (o *Overlay) Scratch(text []byte) (string, error) {
	o.mu.Lock()
	o.scratchSeq++
	path := filepath.Join(o.dir, fmt.Sprintf("scratch-%d.py", o.scratchSeq))
	o.mu.Unlock()

	if err := os.WriteFile(path, text, 0o600); err != nil {
		return "", fmt.Errorf("writing scratch file: %w", err)
	}
	return path, nil
}

// ReleaseScratch disposes of a path returned by Scratch.
func (o *Overlay) ReleaseScratch(path string) {
	_ = os.Remove(path)
}

// Close removes the overlay directory and everything in it.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = make(map[string]*entry)
	return os.RemoveAll(o.dir)
}

// shadowPath derives a stable shadow file name for a real path. The name
// must not change across checks: the checker keys its incremental graph on
// the real path, and the shadow mapping has to stay consistent for its
// staleness checks to work.
func (o *Overlay) shadowPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".py"
	}
	return filepath.Join(o.dir, "shadow-"+hex.EncodeToString(sum[:8])+ext)
}

func (o *Overlay) writeShadow(e *entry) error {
	if err := os.WriteFile(e.shadow, e.data, 0o600); err != nil {
		return fmt.Errorf("writing shadow file: %w", err)
	}
	return nil
}
