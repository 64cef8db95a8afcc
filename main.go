package main

import (
	"os"

	"github.com/adalundhe/rsyncwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
