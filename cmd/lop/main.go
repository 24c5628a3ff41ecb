package main

import (
	"fmt"
	"os"

	"github.com/kodaed/lop/cmd/lop/app"
)

func main() {
	if err := app.NewLopCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
