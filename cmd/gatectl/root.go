package main

import (
	"errors"
	"fmt"

	"github.com/Egham-7/token-gate/internal/config"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/database"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("config has no database section")

type app struct {
	db     *database.DB
	ledger *ledger.Service
	keys   *apikey.Service
}

func (a *app) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func wireApp(configPath string) (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database == nil {
		return nil, errNoDatabase
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.New(*cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ledgerSvc := ledger.NewService(db.DB,
		ledger.WithLocation(loc),
		ledger.WithDefaultTier(cfg.Ledger.DefaultTier),
		ledger.WithLazyMigration(cfg.Ledger.LazyMigrationEnabled()),
	)

	return &app{
		db:     db,
		ledger: ledgerSvc,
		keys:   apikey.NewService(db.DB, ledgerSvc),
	}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "gatectl",
		Short:         "Administer token-gate accounts, keys and schema",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			wired, err := wireApp(configPath)
			if err != nil {
				return err
			}
			*a = *wired
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.Close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(
		newMigrateCmd(a),
		newMigrateAccountsCmd(a),
		newAccountCmd(a),
		newKeyCmd(a),
	)

	return rootCmd
}
