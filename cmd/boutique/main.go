package main

import (
	"log"

	"boutique/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("boutique failed: %v", err)
	}
}
