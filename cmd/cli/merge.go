package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-practice-stats/internal/aggregator"
	"github.com/kurihiro0119/github-practice-stats/internal/checkpoint"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

var (
	resetCollection bool
	fromFiles       []string
	outDir          string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the stored snapshots into one dataset",
	Long: `Fold every snapshot of the collection, oldest first, into one dataset and
write it to repo_stats_data_[<max>,<min>]_DB_COMPLETED.json. Snapshots whose
date ranges overlap the dataset are rejected and reported.

Checkpoint files given with --from-files are stored in the collection first.
--reset drops the collection before anything is stored.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().BoolVar(&resetCollection, "reset", false, "drop the collection before merging")
	mergeCmd.Flags().StringSliceVar(&fromFiles, "from-files", nil, "checkpoint files to store before merging")
	mergeCmd.Flags().StringVar(&outDir, "out", "", "directory of the merged file (default CHECKPOINT_DIR)")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := getStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if resetCollection {
		if err := store.Reset(ctx); err != nil {
			return err
		}
		logger.WithField("collection", cfg.Collection).Warn("collection reset")
	}

	for _, path := range fromFiles {
		snap, err := checkpoint.Load(path)
		if err != nil {
			return err
		}
		doc := &domain.SnapshotDocument{
			ID:        uuid.New().String(),
			Snapshot:  snap,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.InsertSnapshot(ctx, doc); err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		logger.WithFields(logrus.Fields{"file": path, "repos": len(snap.Repositories)}).Info("checkpoint stored")
	}

	result, err := aggregator.NewAggregator(store).Dataset(ctx)
	if err != nil {
		return err
	}

	if outDir == "" {
		outDir = cfg.CheckpointDir
	}
	writer, err := checkpoint.NewWriter(outDir)
	if err != nil {
		return err
	}
	path, err := writer.WriteNamed(checkpoint.MergedFileName(result.Snapshot), result.Snapshot)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(struct {
			File      string                        `json:"file"`
			Documents int                           `json:"documents"`
			Repos     int                           `json:"repos"`
			Total     int                           `json:"totalRepoCount"`
			Rejected  []aggregator.RejectedDocument `json:"rejected"`
		}{path, result.Documents, len(result.Snapshot.Repositories), result.Snapshot.TotalRepoCount, result.Rejected})
	}

	fmt.Printf("\nMerged %d documents of %s\n\n", result.Documents, cfg.Collection)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Documents", fmt.Sprintf("%d", result.Documents)})
	table.Append([]string{"Accepted", fmt.Sprintf("%d", result.Documents-len(result.Rejected))})
	table.Append([]string{"Rejected", fmt.Sprintf("%d", len(result.Rejected))})
	table.Append([]string{"Repositories", fmt.Sprintf("%d", len(result.Snapshot.Repositories))})
	table.Append([]string{"Total Repositories", fmt.Sprintf("%d", result.Snapshot.TotalRepoCount)})
	table.Append([]string{"Output", path})
	table.Render()

	if len(result.Rejected) > 0 {
		fmt.Println("\nRejected documents (overlapping date ranges):")
		rejected := tablewriter.NewWriter(os.Stdout)
		rejected.SetHeader([]string{"Document", "Date Ranges"})
		for _, r := range result.Rejected {
			ranges := make([]string, 0, len(r.DateRanges))
			for _, dr := range r.DateRanges {
				ranges = append(ranges, dr.String())
			}
			rejected.Append([]string{r.ID, strings.Join(ranges, " ")})
		}
		rejected.Render()
	}
	return nil
}
