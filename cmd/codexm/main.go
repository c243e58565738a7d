package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/codexm/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "codexm:", err)
		os.Exit(1)
	}
}
