// Package config loads the GraphChat runtime configuration from a JSON
// file, layers .env files and environment variable overrides on top, and
// fills in defaults so the server can start with no configuration at all.
package config
