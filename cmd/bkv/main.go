// Command bkv is the command-line front end for the backup engine: it
// loads a declarative set configuration, then drives a backup,
// directory listing, or restore against whichever backend the named set
// is bound to.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
