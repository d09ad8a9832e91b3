// Package authn answers the user authentication prompts raised by key providers.
package authn
