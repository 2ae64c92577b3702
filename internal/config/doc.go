// Package config loads forq's configuration. Values resolve in three layers:
// built-in defaults, an optional JSON file, then FORQ_* environment
// variables, with later layers winning.
package config
