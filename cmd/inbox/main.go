// cmd/inbox/main.go

package main

import "github.com/imadgeboyega/tradelink-inbox/internal/cli"

func main() {
	cli.Execute()
}
