// Package config provides functionality for loading and validating the settings of a sep-sign invocation.
//
// Settings are built from defaults and overridden from the environment. Each
// section (logging, key provider, authentication) validates itself with
// struct tags so a misconfiguration is reported before any device is touched.
package config
