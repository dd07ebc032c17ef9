// Copyright © 2025 The dmypy-ls authors

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dmypyls",
	Short: "dmypyls — mypy language server",
	Long: `dmypyls bridges the mypy type checker and any LSP-capable editor. It
receives document open/change/save notifications, checks the live buffer
content, and publishes mypy's findings as position-anchored diagnostics.

Getting started:
  dmypyls lsp                  Start the language server on stdio
  dmypyls lsp --incremental    Reuse a dmypy daemon between checks
  dmypyls check file.py        Type-check files from the command line

The server needs mypy on PATH (and dmypy for --incremental). A virtualenv
interpreter can be forwarded with --python-executable so third-party stubs
resolve against the project environment.

More information:
  mypy documentation:  https://mypy.readthedocs.io`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dmypyls.yaml)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".dmypyls" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".dmypyls")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
