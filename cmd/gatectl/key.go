package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/spf13/cobra"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue and revoke API keys",
	}

	cmd.AddCommand(
		newKeyIssueCmd(a),
		newKeyListCmd(a),
		newKeyRevokeCmd(a),
	)

	return cmd
}

func newKeyIssueCmd(a *app) *cobra.Command {
	var (
		name    string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue <owner>",
		Short: "Issue a key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.APIKeyCreateRequest{OwnerID: args[0], Name: name}
			if expires > 0 {
				req.ExpiresAt = time.Now().UTC().Add(expires)
			}
			key, err := a.keys.CreateAPIKey(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", key.ID, key.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "default", "label shown in listings")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "lifetime of the key, zero for none")

	return cmd
}

func newKeyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <owner>",
		Short: "List an owner's keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.keys.ListAPIKeys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, k := range keys {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tactive=%t\n", k.ID, k.Name, k.KeyPreview, k.IsActive)
			}
			return nil
		},
	}
}

func newKeyRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <owner> <id>",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("key id: %w", err)
			}
			if err := a.keys.RevokeAPIKey(cmd.Context(), args[0], uint(id)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "revoked %d\n", id)
			return nil
		},
	}
}
