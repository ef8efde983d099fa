// Command studio is the terminal front end of pystudio: it edits, runs and
// manages the files of a persisted session.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
