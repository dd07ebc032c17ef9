// Copyright © 2025 The dmypy-ls authors

package engine

import (
	"context"

	"github.com/dmypyls/dmypyls/overlay"
)

// OneShot spawns a fresh mypy process for every check. No state persists
// between calls beyond the overlay, so repeated checks redo whole-program
// work; this is the slow but strictly correct path.
type OneShot struct {
	cfg Config
	ov  *overlay.Overlay
}

// NewOneShot creates a one-shot engine reading buffer content from ov.
func NewOneShot(cfg Config, ov *overlay.Overlay) *OneShot {
	return &OneShot{cfg: cfg, ov: ov}
}

// Check runs mypy against the given source with the overlay's shadow
// mappings applied.
func (e *OneShot) Check(ctx context.Context, src Source) (Result, error) {
	return run(ctx, e.workDir(src), "mypy", e.args(src)...)
}

// Close is a no-op; one-shot checks leave nothing behind.
func (e *OneShot) Close() error {
	return nil
}

func (e *OneShot) args(src Source) []string {
	args := e.cfg.baseFlags()
	args = append(args, e.ov.ShadowArgs()...)
	return append(args, src.Path)
}

func (e *OneShot) workDir(src Source) string {
	if src.BaseDir != "" {
		return src.BaseDir
	}
	return e.cfg.WorkDir
}
