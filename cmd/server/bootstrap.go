package main

import (
	"github.com/spf13/cobra"
)

func newBootstrapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the treasury account with its initial float",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			deps, err := a.buildEconomy(ctx, db)
			if err != nil {
				return err
			}
			defer deps.close()

			acct, created, err := deps.svc.BootstrapTreasury(ctx)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "treasury ready",
				"created", created,
				"balance", acct.Balance,
			)
			return nil
		},
	}
}
