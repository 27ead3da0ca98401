package main

import (
	"log"

	"github.com/tech-arch1tect/twofactor"
)

func main() {
	app, err := twofactor.New()
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	app.Run()
}
