// Conductor keeps AI-assisted coding sessions on scope and on track.
package main

import (
	"fmt"
	"os"

	"github.com/swamp-dev/conductor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
