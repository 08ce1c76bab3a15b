package main

import (
	"os"

	"github.com/AlloPay/accountd/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
