package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/spf13/cobra"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage metered accounts",
	}

	cmd.AddCommand(
		newAccountCreateCmd(a),
		newAccountShowCmd(a),
		newAccountUpgradeCmd(a),
		newAccountAddTokensCmd(a),
	)

	return cmd
}

func newAccountCreateCmd(a *app) *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an account with the tier's daily allowance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseTier(tier)
			if err != nil {
				return err
			}
			account, err := a.ledger.CreateAccount(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), a.ledger, account)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", string(models.TierFree), "free, verified or premium")

	return cmd
}

func newAccountShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print an account's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := a.ledger.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), a.ledger, account)
			return nil
		},
	}
}

func newAccountUpgradeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <id> <tier>",
		Short: "Move an account to another tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseTier(args[1])
			if err != nil {
				return err
			}
			account, err := a.ledger.UpgradeTier(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), a.ledger, account)
			return nil
		},
	}
}

func newAccountAddTokensCmd(a *app) *cobra.Command {
	var (
		paid        float64
		description string
	)

	cmd := &cobra.Command{
		Use:   "add-tokens <id> <amount>",
		Short: "Credit purchased tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			var opts []ledger.TxOption
			if description != "" {
				opts = append(opts, ledger.WithDescription(description))
			}
			account, err := a.ledger.AddTokens(cmd.Context(), args[0], amount, paid, opts...)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), a.ledger, account)
			return nil
		},
	}
	cmd.Flags().Float64Var(&paid, "paid", 0, "amount paid, recorded on the transaction")
	cmd.Flags().StringVar(&description, "description", "", "transaction description")

	return cmd
}

func printAccount(w io.Writer, l *ledger.Service, account *models.Account) {
	snap := l.Snapshot(account)
	_, _ = fmt.Fprintf(w, "%s\ttier=%s\ttotal=%d\tdaily=%d\tpurchased=%d\n",
		account.ID, snap.Tier, snap.TokensRemaining, snap.DailyRemaining, snap.PurchasedTokens)
}
