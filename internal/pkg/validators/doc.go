// Package validators holds custom go-playground/validator functions used by settings structs.
package validators
