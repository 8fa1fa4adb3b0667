package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/persistence"
)

// withStore loads config, opens the store and runs fn against it.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *persistence.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(headers)
	return t
}

// CmdUsers is the admin group over user records.
func CmdUsers() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Administer users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				users, err := store.ListUsers(ctx)
				if err != nil {
					return err
				}
				t := newTable("Username", "Container Limit", "Share Env (forks)", "Share Env (branches)")
				for _, u := range users {
					t.AppendRow(table.Row{u.Username, u.ContainerLimit, u.ShareEnvWithForks, u.ShareEnvWithBranches})
				}
				t.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-token <username> <token>",
		Short: "Store a user's SCM access token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				return store.SetUserToken(ctx, args[0], args[1])
			})
		},
	})

	return cmd
}

// CmdRepos is the admin group over repo records.
func CmdRepos() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Administer repositories",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all repositories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				repos, err := store.ListRepos(ctx)
				if err != nil {
					return err
				}
				t := newTable("Name", "SCM", "Owner")
				for _, r := range repos {
					t.AppendRow(table.Row{r.Name, r.SCM, r.Username})
				}
				t.Render()
				return nil
			})
		},
	})

	envvars := &cobra.Command{
		Use:   "envvars <repo>",
		Short: "Add or list a repository's environment bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				additions, _ := cmd.Flags().GetStringArray("add")
				for _, addition := range additions {
					var entry map[string]string
					if err := json.Unmarshal([]byte(addition), &entry); err != nil {
						return fmt.Errorf("parse env var %q: %w", addition, err)
					}
					for k, v := range entry {
						if err := store.AddRepoEnvVar(ctx, args[0], k, v); err != nil {
							return err
						}
					}
				}

				if list, _ := cmd.Flags().GetBool("list"); list {
					repo, err := store.GetRepo(ctx, args[0])
					if err != nil {
						return err
					}
					for _, binding := range repo.ShellEnv() {
						fmt.Fprintln(os.Stdout, binding)
					}
				}
				return nil
			})
		},
	}
	envvars.Flags().StringArray("add", nil, `binding to append, as JSON ({"KEY": "value"})`)
	envvars.Flags().Bool("list", false, "list env vars")
	cmd.AddCommand(envvars)

	return cmd
}

// CmdBuilds is the admin group over build records.
func CmdBuilds() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "Administer builds",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all builds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				builds, err := store.ListBuilds(ctx)
				if err != nil {
					return err
				}
				t := newTable("ID", "Repo", "Ref", "Commit", "Status")
				for _, b := range builds {
					t.AppendRow(table.Row{b.ID, b.RepoName, b.Ref, b.Commit, b.Status.String()})
				}
				t.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a finished build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *persistence.Store) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid build id %q", args[0])
				}
				build, err := store.GetBuild(ctx, id)
				if err != nil {
					return err
				}
				if !build.Status.Terminal() {
					return fmt.Errorf("build %d is %s; only finished builds can be retried", id, build.Status)
				}
				return store.UpdateBuildStatus(ctx, id, models.StatusCreated)
			})
		},
	})

	return cmd
}
