package main

import (
	"github.com/spf13/cobra"

	utils "clipflow/internal"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		utils.Shutdown(err.Error())
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "clipflow",
		Short:         "Chunked video upload, HLS transcoding and tier-gated playback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(
		serve,
		newMigrateCommand(),
		newReclaimCommand(),
		newSessionsCommand(),
		newCheckCommand(),
		newTokenCommand(),
	)
	return root
}
