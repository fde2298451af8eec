// cmd/ledgerctl/main.go

// Package main is the ledgerctl command line client.
package main

import (
	"os"

	"lendingledger/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
