package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the forq client, registering
// the queue command group. Used by tests; the binary builds its own root so
// it can add server commands too.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "forq",
		Short: "forq client commands",
	}
	root.AddCommand(NewQueueCommand(baseURL))
	return root
}
