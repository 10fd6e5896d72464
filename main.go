package main

import (
	"fmt"
	"os"

	"github.com/turku/storage-agent/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
