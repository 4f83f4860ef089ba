package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceer-lab/ceer/internal/app/seed"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
)

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create users and teams from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			pool, repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			log := commonLogger()
			seeder := seed.New(user.New(repo, log), team.New(repo, repo, log), repo, log)
			res, err := seeder.Apply(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users: %d created, %d skipped\nteams: %d created, %d skipped\n",
				res.UsersCreated, res.UsersSkipped, res.TeamsCreated, res.TeamsSkipped)
			return nil
		},
	}
}
