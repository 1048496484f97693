// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

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
