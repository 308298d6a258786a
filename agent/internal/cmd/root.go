package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for nexus-agent.
// When invoked without a subcommand in a TTY, it uses smart default logic:
// daemon running → show status, no config → init wizard, otherwise → start
// as a background daemon. Without a TTY it runs the agent in the foreground.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "nexus-agent",
		Short:         "Nexus agent — hosts PTY sessions for a remote terminal relay",
		Long:          "Nexus agent spawns and owns PTY sessions on this host and streams them to a Nexus hub.",
		RunE:          runDefault,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
