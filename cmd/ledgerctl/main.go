package main

import (
	"os"

	"github.com/odyssey-erp/ledger/cmd/ledgerctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
