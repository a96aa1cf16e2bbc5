// Command indicator-feed serves paginated stock indicator streams and
// browses them from the terminal.
//
// Usage:
//
//	indicator-feed serve
//	indicator-feed browse AAPL --max-pages 3
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
