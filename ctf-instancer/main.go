package main

import (
	"fmt"
	"os"

	"github.com/kavos113/quickctf/ctf-instancer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
