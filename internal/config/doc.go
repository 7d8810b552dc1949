// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings needed by the batch runner while keeping
// configuration details separate from execution logic.
package config
