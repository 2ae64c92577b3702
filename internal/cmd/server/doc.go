// Package serverrun exposes the shared Run entrypoint the CLI uses to start
// the forq server: broker, worker registry, and HTTP API, with lifecycle and
// graceful shutdown handled in one place.
//
// Example:
//
//	cfg, _ := config.Load("")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
