package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-practice-stats/internal/aggregator"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/pkg/client"
)

var (
	remote bool
	topN   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show statistics of the merged dataset",
	Long:  `Display statistics of the merged dataset, read from the store or, with --remote, from the API server.`,
}

var showSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the dataset summary",
	Args:  cobra.NoArgs,
	RunE:  runShowSummary,
}

var showReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Show the most updated repositories",
	Args:  cobra.NoArgs,
	RunE:  runShowRepos,
}

var showLanguagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "Show the most popular languages",
	Args:  cobra.NoArgs,
	RunE:  languagesRunner(domain.LanguageFilterAll),
}

var showTDDCmd = &cobra.Command{
	Use:   "tdd",
	Short: "Show the most popular languages of test-driven repositories",
	Args:  cobra.NoArgs,
	RunE:  languagesRunner(domain.LanguageFilterTDD),
}

var showTDDDevOpsCmd = &cobra.Command{
	Use:   "tdd-devops",
	Short: "Show the most popular languages of test-driven DevOps repositories",
	Args:  cobra.NoArgs,
	RunE:  languagesRunner(domain.LanguageFilterTDDDevOps),
}

var showRepoCmd = &cobra.Command{
	Use:   "repo [owner/name]",
	Short: "Show the merged record of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRepo,
}

func init() {
	showCmd.PersistentFlags().BoolVar(&remote, "remote", false, "read from the API server (API_ENDPOINT)")
	showCmd.PersistentFlags().IntVar(&topN, "top", 0, "number of entries (default TOP_N)")

	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showSummaryCmd)
	showCmd.AddCommand(showReposCmd)
	showCmd.AddCommand(showLanguagesCmd)
	showCmd.AddCommand(showTDDCmd)
	showCmd.AddCommand(showTDDDevOpsCmd)
	showCmd.AddCommand(showRepoCmd)
}

// statsReader is the part of the aggregator the show commands read
type statsReader interface {
	Summary(ctx context.Context) (*domain.Summary, error)
	TopUpdatedRepos(ctx context.Context, limit int) ([]domain.RepoStat, error)
	TopLanguages(ctx context.Context, filter domain.LanguageFilter, limit int) ([]domain.LanguageStat, error)
	Repository(ctx context.Context, key string) (*domain.RepositoryRecord, error)
}

// remoteStats reads statistics from the API server
type remoteStats struct {
	client *client.Client
}

func (r *remoteStats) Summary(context.Context) (*domain.Summary, error) {
	return r.client.GetSummary()
}

func (r *remoteStats) TopUpdatedRepos(_ context.Context, limit int) ([]domain.RepoStat, error) {
	return r.client.GetUpdatedRepos(limit)
}

func (r *remoteStats) TopLanguages(_ context.Context, filter domain.LanguageFilter, limit int) ([]domain.LanguageStat, error) {
	return r.client.GetLanguages(filter, limit)
}

func (r *remoteStats) Repository(_ context.Context, key string) (*domain.RepositoryRecord, error) {
	owner, name, _ := strings.Cut(key, "/")
	return r.client.GetRepository(owner, name)
}

// openStats returns the statistics source selected by --remote, the entry
// limit and a cleanup function
func openStats(ctx context.Context) (statsReader, int, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, 0, nil, err
	}
	limit := cfg.TopN
	if topN > 0 {
		limit = topN
	}

	if remote {
		return &remoteStats{client: client.NewClient(cfg.APIEndpoint)}, limit, func() {}, nil
	}

	store, err := getStorage(ctx, cfg)
	if err != nil {
		return nil, 0, nil, err
	}
	return aggregator.NewAggregator(store), limit, func() { store.Close() }, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(part, whole int) string {
	if whole == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", float64(part)*100/float64(whole))
}

func runShowSummary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	stats, _, closeFn, err := openStats(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := stats.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to get summary: %w", err)
	}

	if outputJSON {
		return printJSON(summary)
	}

	fmt.Printf("\nDataset Summary\n")
	fmt.Printf("Date Range: %s to %s\n\n", formatDay(summary.MinDate), formatDay(summary.MaxDate))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value", "Share"})
	table.Append([]string{"Population (repositories searched)", fmt.Sprintf("%d", summary.PopulationCount), ""})
	table.Append([]string{"Sample (repositories recorded)", fmt.Sprintf("%d", summary.SampleCount), percent(summary.SampleCount, summary.PopulationCount)})
	table.Append([]string{"TDD", fmt.Sprintf("%d", summary.TDDCount), percent(summary.TDDCount, summary.SampleCount)})
	table.Append([]string{"TDD + DevOps", fmt.Sprintf("%d", summary.TDDDevOpsCount), percent(summary.TDDDevOpsCount, summary.SampleCount)})
	table.Append([]string{"Episodes", fmt.Sprintf("%d", summary.Episodes), ""})
	table.Render()

	return nil
}

func runShowRepos(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	stats, limit, closeFn, err := openStats(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	repos, err := stats.TopUpdatedRepos(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to get repositories: %w", err)
	}

	if outputJSON {
		return printJSON(repos)
	}

	fmt.Printf("\nTop %d Most Updated Repositories\n\n", limit)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Repository", "Commits In Range", "Total Commits"})
	for i, r := range repos {
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			r.Repo,
			fmt.Sprintf("%d", r.CommitsInRange),
			fmt.Sprintf("%d", r.TotalCommits),
		})
	}
	table.Render()

	return nil
}

func languagesRunner(filter domain.LanguageFilter) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		stats, limit, closeFn, err := openStats(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		langs, err := stats.TopLanguages(ctx, filter, limit)
		if err != nil {
			return fmt.Errorf("failed to get languages: %w", err)
		}

		if outputJSON {
			return printJSON(langs)
		}

		title := map[domain.LanguageFilter]string{
			domain.LanguageFilterAll:       "All Repositories",
			domain.LanguageFilterTDD:       "TDD Repositories",
			domain.LanguageFilterTDDDevOps: "TDD + DevOps Repositories",
		}[filter]
		fmt.Printf("\nTop %d Languages: %s\n\n", limit, title)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"#", "Language", "Repositories", "Bytes"})
		for i, l := range langs {
			table.Append([]string{
				fmt.Sprintf("%d", i+1),
				l.Language,
				fmt.Sprintf("%d", l.RepoCount),
				fmt.Sprintf("%d", l.TotalBytes),
			})
		}
		table.Render()

		return nil
	}
}

func runShowRepo(cmd *cobra.Command, args []string) error {
	key := args[0]
	if owner, name, ok := strings.Cut(key, "/"); !ok || owner == "" || name == "" {
		return fmt.Errorf("repository must be given as owner/name, got %q", key)
	}

	ctx := context.Background()
	stats, _, closeFn, err := openStats(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := stats.Repository(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get repository: %w", err)
	}

	if outputJSON {
		return printJSON(rec)
	}

	ranges := make([]string, 0, len(rec.DateRanges))
	for _, r := range rec.DateRanges {
		ranges = append(ranges, r.String())
	}

	fmt.Printf("\nRepository: %s\n\n", key)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"TDD", fmt.Sprintf("%t", rec.IsTDD)})
	table.Append([]string{"DevOps", fmt.Sprintf("%t", rec.IsDevOps)})
	table.Append([]string{"Commits In Range", fmt.Sprintf("%d", rec.CommitsInRange)})
	table.Append([]string{"Total Commits", fmt.Sprintf("%d", rec.TotalCommits)})
	table.Append([]string{"Date Ranges", strings.Join(ranges, " ")})
	table.Render()

	if len(rec.Languages) > 0 {
		names := make([]string, 0, len(rec.Languages))
		for name := range rec.Languages {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return rec.Languages[names[i]] > rec.Languages[names[j]] })

		langs := tablewriter.NewWriter(os.Stdout)
		langs.SetHeader([]string{"Language", "Bytes"})
		for _, name := range names {
			langs.Append([]string{name, fmt.Sprintf("%d", rec.Languages[name])})
		}
		langs.Render()
	}
	return nil
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return domain.FormatDay(t)
}
