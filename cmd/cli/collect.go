package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-practice-stats/internal/checkpoint"
	"github.com/kurihiro0119/github-practice-stats/internal/collector"
	"github.com/kurihiro0119/github-practice-stats/internal/config"
	"github.com/kurihiro0119/github-practice-stats/internal/credentials"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
	"github.com/kurihiro0119/github-practice-stats/internal/logging"
	"github.com/kurihiro0119/github-practice-stats/internal/partition"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
	"github.com/kurihiro0119/github-practice-stats/internal/worker"
)

var (
	startDate       string
	numDays         int
	numWorkers      int
	consumerID      string
	credentialsName string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect data from GitHub",
	Long: `Split the collection window into one task per worker and run the workers
in this process. Every completed task is stored as one document.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Publish collection tasks to the work queue",
	Long:  `Split the collection window into one task per worker and publish the tasks to the work queue.`,
	Args:  cobra.NoArgs,
	RunE:  runProduce,
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run collection tasks received from the work queue",
	Long: `Receive collection tasks from the work queue and run them one at a time.
A task is acknowledged once it completes or fails.`,
	Args: cobra.NoArgs,
	RunE: runConsume,
}

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Show the GitHub API quota",
	Long:  `Display the remaining GraphQL, REST and search quota of a token.`,
	Args:  cobra.NoArgs,
	RunE:  runRateLimit,
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage worker tokens",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set [handle]",
	Short: "Store a token in the OS keyring",
	Long:  `Read a GitHub token from stdin and store it in the OS keyring under the given credentials handle (e.g. worker-1).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsSet,
}

func init() {
	for _, cmd := range []*cobra.Command{collectCmd, produceCmd} {
		cmd.Flags().StringVar(&startDate, "start", "", "most recent day to collect (YYYY-MM-DD, default yesterday)")
		cmd.Flags().IntVar(&numDays, "days", 0, "number of days to collect (overrides NUM_DAYS)")
		cmd.Flags().IntVar(&numWorkers, "workers", 0, "number of workers (overrides WORKERS)")
	}
	consumeCmd.Flags().StringVar(&consumerID, "consumer-id", "", "stable consumer name for the redis queue (default hostname)")
	rateLimitCmd.Flags().StringVar(&credentialsName, "credentials", "", "credentials handle whose token is checked (default GITHUB_TOKEN)")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(rateLimitCmd)
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
}

// loadCollectionConfig applies the collection flags and validates the result
func loadCollectionConfig() (*config.Config, *logrus.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if startDate != "" {
		cfg.StartDate = startDate
	}
	if numDays > 0 {
		cfg.NumDays = numDays
	}
	if numWorkers > 0 {
		cfg.Workers = numWorkers
	}
	if err := cfg.ValidateCollection(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

// buildTasks partitions the configured window
func buildTasks(cfg *config.Config) ([]domain.CollectionTask, error) {
	start, err := cfg.StartDay(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	createdBefore, err := cfg.CreatedBeforeDay()
	if err != nil {
		return nil, err
	}
	return partition.Partition(start, cfg.NumDays, cfg.Workers, partition.Options{
		CreatedBefore: createdBefore,
		PageSize:      cfg.PageSize,
	})
}

// taskRunner runs collection tasks against GitHub
type taskRunner struct {
	cfg         *config.Config
	logger      logrus.FieldLogger
	resolver    *credentials.Resolver
	checkpoints *checkpoint.Writer
	store       storage.Storage
}

func newTaskRunner(cfg *config.Config, logger logrus.FieldLogger, store storage.Storage) (*taskRunner, error) {
	checkpoints, err := checkpoint.NewWriter(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	return &taskRunner{
		cfg:         cfg,
		logger:      logger,
		resolver:    credentials.NewResolver(cfg.GitHubToken, cfg.UseKeyring),
		checkpoints: checkpoints,
		store:       store,
	}, nil
}

// run executes one task with its own logger writing to the worker's log file
func (r *taskRunner) run(ctx context.Context, task domain.CollectionTask) error {
	token, err := r.resolver.Resolve(task.Credentials)
	if err != nil {
		return fmt.Errorf("worker %d: %w", task.WorkerID, err)
	}
	source, err := collector.NewGitHubSource(collector.SourceConfig{
		Token:      token,
		GraphQLURL: r.cfg.GitHubGraphQLURL,
		RESTURL:    r.cfg.GitHubAPIURL,
		Timeout:    r.cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("worker %d: %w", task.WorkerID, err)
	}

	logger, err := logging.New(r.cfg.LogLevel)
	if err != nil {
		return err
	}
	logFile, err := logging.TeeToFile(logger, r.checkpoints.Dir(), logging.WorkerLogName(task.WorkerID, domain.FormatDay(task.StartDate)))
	if err != nil {
		return err
	}
	defer logFile.Close()

	taskLogger := logger.WithFields(logrus.Fields{"task": task.ID, "worker": task.WorkerID})
	if quota, err := source.RateLimits(ctx); err != nil {
		taskLogger.WithError(err).Warn("failed to read rate limits")
	} else {
		taskLogger.WithFields(logrus.Fields{
			"graphql_remaining": quota.GraphQL.Remaining,
			"core_remaining":    quota.Core.Remaining,
		}).Info("starting task")
	}

	fetcher := collector.NewFetcher(collector.FetcherConfig{
		MaxAttempts: r.cfg.MaxAttempts,
		RetryDelay:  r.cfg.RetryDelay,
		Limiter:     collector.NewRateLimiter(r.cfg.RequestsPerSecond),
		Logger:      taskLogger,
	})
	w := worker.New(source, fetcher, r.checkpoints, r.store, worker.Config{
		MaxRecordsPerDay:  r.cfg.MaxRecordsPerDay,
		MaxCommitPages:    r.cfg.MaxCommitPages,
		RateLimitPause:    r.cfg.RateLimitPause,
		ExcludedLanguages: worker.DefaultExcludedLanguages,
	}, taskLogger)

	snap, err := w.Run(ctx, task)
	if err != nil {
		if apperrors.IsFetchFailed(err) {
			r.logger.WithFields(logrus.Fields{
				"worker":         task.WorkerID,
				"checkpoint_dir": r.checkpoints.Dir(),
			}).Warn("worker gave up on the data source, resume from its ERROR checkpoint")
		}
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"worker": task.WorkerID,
		"repos":  len(snap.Repositories),
		"total":  snap.TotalRepoCount,
	}).Info("worker finished")
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadCollectionConfig()
	if err != nil {
		return err
	}
	tasks, err := buildTasks(cfg)
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

	runner, err := newTaskRunner(cfg, logger, store)
	if err != nil {
		return err
	}

	fmt.Printf("Collecting %d days from %s with %d workers\n", cfg.NumDays, domain.FormatDay(tasks[0].StartDate), len(tasks))
	fmt.Printf("Collection: %s (%s)\n", cfg.Collection, cfg.StorageType)

	// A failed worker does not stop the others
	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			if err := runner.run(ctx, task); err != nil {
				logger.WithError(err).WithField("worker", task.WorkerID).Error("worker failed")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("collection incomplete: %w", err)
	}

	fmt.Println("Data collection complete!")
	return nil
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadCollectionConfig()
	if err != nil {
		return err
	}
	tasks, err := buildTasks(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	q, err := getQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	if err := q.Publish(ctx, tasks...); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(tasks)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Worker", "Task", "Start", "End", "Days", "Credentials"})
	for _, task := range tasks {
		table.Append([]string{
			fmt.Sprintf("%d", task.WorkerID),
			task.ID,
			domain.FormatDay(task.StartDate),
			domain.FormatDay(task.EndDate()),
			fmt.Sprintf("%d", task.Days),
			task.Credentials,
		})
	}
	table.Render()
	return nil
}

func runConsume(cmd *cobra.Command, args []string) error {
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

	runner, err := newTaskRunner(cfg, logger, store)
	if err != nil {
		return err
	}

	q, err := getQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	logger.WithField("queue", cfg.QueueType).Info("waiting for tasks")
	return q.Consume(ctx, runner.run)
}

func runRateLimit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := credentials.NewResolver(cfg.GitHubToken, cfg.UseKeyring).Resolve(credentialsName)
	if err != nil {
		return err
	}
	source, err := collector.NewGitHubSource(collector.SourceConfig{
		Token:      token,
		GraphQLURL: cfg.GitHubGraphQLURL,
		RESTURL:    cfg.GitHubAPIURL,
		Timeout:    cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	quota, err := source.RateLimits(context.Background())
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(quota)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Resource", "Limit", "Remaining", "Reset"})
	for _, row := range []struct {
		name string
		rate collector.Rate
	}{
		{"graphql", quota.GraphQL},
		{"core", quota.Core},
		{"search", quota.Search},
	} {
		table.Append([]string{
			row.name,
			fmt.Sprintf("%d", row.rate.Limit),
			fmt.Sprintf("%d", row.rate.Remaining),
			row.rate.Reset.Local().Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	handle := args[0]

	fmt.Fprintf(os.Stderr, "Token for %s: ", handle)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read token: %w", err)
	}

	if err := credentials.NewResolver("", true).Store(handle, strings.TrimSpace(line)); err != nil {
		return err
	}
	fmt.Printf("Stored token for %s (%s takes precedence when set)\n", handle, credentials.EnvVar(handle))
	return nil
}
