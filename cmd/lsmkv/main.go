// Command lsmkv is a cobra-based CLI and REPL over the store facade,
// replacing lsm-go's hand-rolled flag.FlagSet switch.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
