// Package cli wires the zeus command tree: the long-running daemons
// (coordinator, listener, allocator), the standalone runner, and the admin
// groups over users, repos and builds.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/build"
)

// New assembles the zeus root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:          build.Slug,
		Short:        "Zeus CI executes declarative build pipelines in ephemeral containers",
		Version:      build.Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("sqlalchemy-protocol", "", "database protocol (sqlite, postgres)")
	cmd.PersistentFlags().String("sqlalchemy-protocol-args", "", "database connection string")
	cmd.PersistentFlags().String("config-dir", "", "directory to load config.yml from")

	cmd.AddCommand(
		CmdCoordinator(),
		CmdListener(),
		CmdAllocator(),
		CmdRun(),
		CmdUsers(),
		CmdRepos(),
		CmdBuilds(),
	)
	return cmd
}
