package cli

import (
	"github.com/spf13/cobra"

	"github.com/ehsaniara/flowq/internal/modes"
	"github.com/ehsaniara/flowq/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the flowq daemon",
		Long: `Run the queue daemon: resource monitor, dispatcher workers and the
gRPC health endpoint. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetGlobalMode("server")
			return modes.RunServer(opts.cfg)
		},
	}
}
