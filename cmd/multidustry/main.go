package main

import (
	"log"

	"github.com/MichaAI/multidustry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
