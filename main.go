package main

import "fx-ledger/internal/cli"

func main() {
	cli.Execute()
}
