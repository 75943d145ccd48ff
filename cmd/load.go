package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/Manali-J/monji/monji"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	loadBatches   int
	loadBatchSize int
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load trivia questions from the Open Trivia Database",
	Long: "Fetches question batches from opentdb.com and inserts them, " +
		"skipping questions that already exist. Safe to re-run.",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		logger := slog.New(
			tint.NewHandler(
				os.Stdout, &tint.Options{Level: cfg.LogLevel},
			),
		)

		db, err := monji.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		client := monji.NewOTDBClient(cfg.HTTPClient, logger)
		added, err := monji.LoadQuestions(
			ctx,
			monji.NewDatabase(db, logger, cfg.DatabaseType == "postgres"),
			client,
			loadBatches,
			loadBatchSize,
		)
		if err != nil {
			log.Fatalf("Error loading questions (added %d): %v", added, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d questions\n", added)
	},
}

func init() {
	loadCmd.Flags().IntVar(
		&loadBatches,
		"batches",
		1,
		"Maximum number of batches to fetch",
	)
	loadCmd.Flags().IntVar(
		&loadBatchSize,
		"batch-size",
		monji.DefaultOTDBBatchSize,
		"Questions to request per batch (max 50)",
	)
	rootCmd.AddCommand(loadCmd)
}
