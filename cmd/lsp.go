// Copyright © 2025 The dmypy-ls authors

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmypyls/dmypyls/lsp"
)

var (
	lspStdio       bool
	lspPort        int
	lspDebug       bool
	lspChdir       string
	lspIncremental bool
	lspPython      string
	lspFlags       []string
)

var lspCmd = &cobra.Command{
	Use:   "lsp [flags]",
	Short: "Start the mypy language server",
	Long: `Start an LSP server that type-checks Python buffers with mypy.

Every open/change/save notification triggers a check of the live buffer
content; the findings replace the document's previous diagnostics. Change
events are debounced so rapid edits collapse into one check.

Engine modes (fixed at startup):
  default        A fresh mypy run per check. Slow on large projects but
                 strictly correct for unsaved edits.
  --incremental  A persistent dmypy daemon: one full build, then
                 fine-grained re-checks of changed modules. Best effort —
                 warm checks read saved file content, and the daemon's
                 graph can corrupt after repeated edits to one module, in
                 which case the session must be restarted.

Transport modes:
  --stdio      Use stdin/stdout for LSP communication (default)
  --port N     Listen for an LSP client on TCP port N

Examples:
  dmypyls lsp                                 Start with stdio transport
  dmypyls lsp --incremental --debug           Daemon mode with visible timings
  dmypyls lsp --python-executable .venv/bin/python`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		if lspChdir != "" {
			if err := os.Chdir(lspChdir); err != nil {
				fmt.Fprintf(os.Stderr, "chdir: %v\n", err)
				os.Exit(1)
			}
		}
		workDir, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
			os.Exit(1)
		}

		srv, err := lsp.New(lsp.Config{
			Debug:            lspDebug,
			Incremental:      lspIncremental,
			PythonExecutable: lspPython,
			WorkDir:          workDir,
			Flags:            lspFlags,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "lsp server error: %v\n", err)
			os.Exit(1)
		}

		if !lspStdio && lspPort > 0 {
			addr := fmt.Sprintf("localhost:%d", lspPort)
			log.Printf("dmypyls listening on %s", addr)
			if err := srv.RunTCP(addr); err != nil {
				fmt.Fprintf(os.Stderr, "lsp server error: %v\n", err)
				os.Exit(1)
			}
		} else {
			if err := srv.RunStdio(); err != nil {
				fmt.Fprintf(os.Stderr, "lsp server error: %v\n", err)
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(lspCmd)

	lspCmd.Flags().BoolVar(&lspStdio, "stdio", false,
		"Use stdin/stdout for LSP communication (default behavior)")
	lspCmd.Flags().IntVar(&lspPort, "port", 0,
		"TCP port for LSP server (use instead of --stdio)")
	lspCmd.Flags().BoolVar(&lspDebug, "debug", false,
		"Show per-check timings and raw checker output in the editor")
	lspCmd.Flags().StringVar(&lspChdir, "chdir", "",
		"Change to this directory before starting")
	lspCmd.Flags().BoolVar(&lspIncremental, "incremental", false,
		"Keep a dmypy daemon between checks (best effort, see long help)")
	lspCmd.Flags().StringVar(&lspPython, "python-executable", "",
		"Interpreter forwarded to mypy for stub resolution")
	lspCmd.Flags().StringArrayVar(&lspFlags, "mypy-flag", nil,
		"Extra mypy flag (may be repeated)")
}
