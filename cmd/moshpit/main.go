package main

import (
	"fmt"
	"os"
)

func main() {
	registerActions()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
