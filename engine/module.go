// Copyright © 2025 The dmypy-ls authors

package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveModule derives the dotted module name for a Python source file by
// crawling parent directories for package boundaries (__init__.py files).
// It returns the module name and the base directory enclosing the
// outermost package. A file outside any package resolves to its bare stem
// with its own directory as base.
func ResolveModule(path string) (module, baseDir string) {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), ".py")

	var parts []string
	if stem != "__init__" {
		parts = append(parts, stem)
	}

	for isPackage(dir) {
		parts = append([]string{filepath.Base(dir)}, parts...)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return strings.Join(parts, "."), dir
}

func isPackage(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "__init__.py"))
	return err == nil
}
