// Package client implements the forq CLI's client-side commands. They talk
// to a running forq server over its HTTP API, so the CLI works against any
// reachable deployment without touching the data directory.
package client
