package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outcomed/internal/anchors"
	"github.com/fyrsmithlabs/outcomed/internal/embeddings"
	"github.com/fyrsmithlabs/outcomed/internal/store"
	"github.com/fyrsmithlabs/outcomed/internal/vectorstore"
)

var seedFile string

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML anchors file (defaults to the built-in set)")
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed-anchors",
	Short: "Embed and store outcome anchors",
	Long: `Embed anchor descriptions with the configured provider and store them.
Anchors that already exist are skipped, so the command can be re-run.
External vector indexes are refreshed afterwards.

File format:
  anchors:
    - description: "Demo booking: Calendly Trigger, Google Calendar"
      metric_key: meeting_booked
      language: en
      tenant_id: acme   # optional, global when empty`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, _, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	entries, err := loadEntries(seedFile)
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	st, err := store.Open(startCtx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return err
	}
	defer embedder.Close()

	rep, err := anchors.NewSeeder(embedder, st, logger).Seed(ctx, entries)
	if err != nil {
		return err
	}

	idx, err := vectorstore.New(ctx, cfg.VectorStore, st, embedder.Dimension(), logger)
	if err != nil {
		return err
	}
	defer idx.Close()
	if _, err := vectorstore.Mirror(ctx, st, idx, logger); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d anchors (%d inserted, %d already present)\n",
		len(entries), rep.Inserted, rep.Existing)
	return nil
}

func loadEntries(path string) ([]anchors.Entry, error) {
	if path == "" {
		return anchors.Default()
	}
	return anchors.Load(path)
}
