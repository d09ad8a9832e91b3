// Package cli parses a sep-sign command line and runs it.
//
// The command prints exactly one line on stdout: the JSON result on success,
// or a diagnostic on failure. Logs never go to stdout.
package cli
