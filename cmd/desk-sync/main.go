package main

import (
	"log"

	"github.com/psds-microservice/desk-sync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
