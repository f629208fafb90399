package main

import (
	"log"

	tool "github.com/draftpulse/contest-payments/internal/tools/seed"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
