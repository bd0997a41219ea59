package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/voxtally/voxtally/voxtally"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable VOXTALLY_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable VOXTALLY_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := voxtally.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()

		var monthlyRows int64
		if err = db.WithContext(ctx).Model(
			&voxtally.VoiceActivityMonthly{},
		).Count(&monthlyRows).Error; err != nil {
			log.Fatalf("Error counting monthly activity rows: %v", err)
		}

		var totalRows int64
		if err = db.WithContext(ctx).Model(
			&voxtally.VoiceActivityTotal{},
		).Count(&totalRows).Error; err != nil {
			log.Fatalf("Error counting total activity rows: %v", err)
		}

		fmt.Fprintf(
			out,
			"Database ready (%d monthly rows, %d users tracked).\n",
			monthlyRows,
			totalRows,
		)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
