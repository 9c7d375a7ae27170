package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shop-assist/internal/adapters/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Create the inbox_users, conversations and chat_messages tables if they do not exist.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := connectMariaDB(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.NewMariaDBRepository(db, log.Logger).Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Str("database", cfg.DB.Database).Msg("schema applied")
		return nil
	},
}
