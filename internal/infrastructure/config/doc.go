// Package config loads service configuration from environment variables
// with sensible defaults for local development.
package config
