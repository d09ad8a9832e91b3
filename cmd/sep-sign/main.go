// Package main is the entry point for the sep-sign application.
// It generates device-bound P-256 keys, with optional access policy
// controls, and signs data with them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/JackOfMostTrades/sep-sign/internal/api/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], cli.Options{
		Use:            "sep-sign",
		PolicyControls: true,
	})
	stop()
	os.Exit(code)
}

// init sets up any necessary initialization before main runs.
func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// stdout carries the result only
	log.SetOutput(os.Stderr)
}
