// Package main is the entry point for the sep-sign-basic application,
// the variant of sep-sign without access policy flags. Every key it
// generates uses the default policy.
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
	code := cli.Execute(ctx, os.Args[1:], cli.Options{Use: "sep-sign-basic"})
	stop()
	os.Exit(code)
}

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.SetOutput(os.Stderr)
}
