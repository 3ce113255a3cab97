// supportstub is a development stand-in for the portal's messaging backend.
// It speaks the same REST and real-time contract as production so the client
// can be exercised end to end on a laptop.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
