package main

import (
	"os"

	"github.com/msto63/conversa/cmd/conversa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
