// Package main provides the entry point for the txcache CLI.
package main

import (
	"github.com/colthorp/txcache/internal/cli"
)

func main() {
	cli.Execute()
}
