// Package main is the entry point of statute-agent.
package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/kart-io/statute-agent/internal/retrieval"
)

func main() {
	retrieval.NewApp().Run()
}
