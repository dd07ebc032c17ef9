// Copyright © 2025 The dmypy-ls authors

package main

import "github.com/dmypyls/dmypyls/cmd"

func main() {
	cmd.Execute()
}
