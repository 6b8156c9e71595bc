package main

import (
	"fmt"
	"os"
)

func main() {
	err := rootCmd.Execute()
	closeLog()
	if err != nil {
		if line := errorLine(err); line != "" {
			fmt.Fprintln(os.Stderr, line)
		}
		os.Exit(1)
	}
}
