// Package app sequences a sep-sign invocation: availability check, key
// generation or import, signing, and the JSON result.
package app
