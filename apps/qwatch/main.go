package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/qwatch/apps/qwatch/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qwatch crashed: %v\n", r)
			if os.Getenv("QWATCH_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
