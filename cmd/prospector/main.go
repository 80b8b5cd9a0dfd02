package main

import (
	"context"
	"fmt"
	"os"

	prospector "ghostshell/app/prospector"
)

func main() {
	if err := prospector.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if prospector.IsValidationError(err) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
