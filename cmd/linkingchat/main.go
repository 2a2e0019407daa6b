// Package main is the entry point for the linkingchat CLI.
package main

import (
	"os"

	"github.com/linkingchat/linkingchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
