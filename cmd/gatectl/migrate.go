package main

import (
	"fmt"

	"github.com/Egham-7/token-gate/internal/services/apikey"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.db.Migrate(); err != nil {
				return err
			}
			if err := apikey.Migrate(a.db.DB); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", a.db.DriverName())
			return nil
		},
	}
}

func newMigrateAccountsCmd(a *app) *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "migrate-accounts",
		Short: "Convert legacy accounts to the metered layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			total := 0
			for {
				n, err := a.ledger.MigrateLegacyAccounts(cmd.Context(), batch)
				if err != nil {
					return err
				}
				total += n
				if n < batch {
					break
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrated %d accounts\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "accounts converted per transaction")

	return cmd
}
