// Command tally is the point-of-sale shift and settlement tool for
// food-cart fleets. Devices work offline against a local embedded store
// and reconcile with the remote store opportunistically.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
