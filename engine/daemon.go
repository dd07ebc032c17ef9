// Copyright © 2025 The dmypy-ls authors

package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmypyls/dmypyls/overlay"
)

// Daemon drives a persistent dmypy process. The first check performs a
// full build and leaves the daemon holding a fine-grained dependency graph
// keyed by module identity; later checks submit only the changed source
// and the daemon re-analyzes affected modules.
//
// Degradation: dmypy's fine-grained build re-reads source files from disk,
// so checks served from the warm graph reflect the last saved content of a
// buffer, not unsaved edits. The overlay's shadow mappings cover the
// initial build only. A persistent nonzero status after repeated edits to
// one module means the graph is corrupted; treat it as terminal for the
// session rather than retrying.
type Daemon struct {
	cfg        Config
	ov         *overlay.Overlay
	statusFile string
	started    bool
}

// NewDaemon creates a daemon engine. The status file lives in the
// overlay's directory and is removed on Close.
func NewDaemon(cfg Config, ov *overlay.Overlay) *Daemon {
	return &Daemon{
		cfg:        cfg,
		ov:         ov,
		statusFile: filepath.Join(ov.Dir(), "dmypy-status.json"),
	}
}

// Check submits a source to the daemon, starting it (and building the
// initial graph) on first use.
func (e *Daemon) Check(ctx context.Context, src Source) (Result, error) {
	dir := src.BaseDir
	if dir == "" {
		dir = e.cfg.WorkDir
	}

	if !e.started {
		res, err := run(ctx, dir, "dmypy", e.startArgs(src)...)
		if err == nil && res.Status == 0 {
			e.started = true
		}
		return res, err
	}
	return run(ctx, dir, "dmypy", e.recheckArgs(src)...)
}

// Close stops the daemon and removes the status file. Stop failures are
// ignored: the daemon may already be gone, and the status file removal is
// what prevents a stale handle from leaking into the next session.
func (e *Daemon) Close() error {
	if e.started {
		_, _ = run(context.Background(), e.cfg.WorkDir, "dmypy", "--status-file", e.statusFile, "stop")
		e.started = false
	}
	if err := os.Remove(e.statusFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// startArgs builds the initial full-build invocation.
func (e *Daemon) startArgs(src Source) []string {
	args := []string{"--status-file", e.statusFile, "run", "--"}
	args = append(args, e.cfg.baseFlags()...)
	args = append(args, e.ov.ShadowArgs()...)
	return append(args, src.Path)
}

// recheckArgs builds the warm-graph invocation. FollowImports selects
// between a cross-module re-analysis ("check") and a strictly local
// re-check of the updated file ("recheck --update").
func (e *Daemon) recheckArgs(src Source) []string {
	args := []string{"--status-file", e.statusFile}
	if src.FollowImports {
		return append(args, "check", src.Path)
	}
	return append(args, "recheck", "--update", src.Path)
}
