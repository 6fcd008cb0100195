package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dupmill/internal/config"
	"dupmill/internal/credentials"
	"dupmill/internal/logger"
	"dupmill/internal/metrics"
	"dupmill/internal/policy"
	"dupmill/internal/producer"
	"dupmill/internal/progress"
	"dupmill/internal/queue"
	"dupmill/internal/retrier"
	"dupmill/internal/state"
	"dupmill/internal/storage"
	"dupmill/internal/worker"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "dupmill",
	Short: "Cross-provider object duplication mill",
	Long:  `A concurrent, resumable object duplication service that keeps content in sync across storage providers, run as a periodic producer of duplication tasks and a pool of workers that reconcile them.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("policy-file", "", "duplication policy YAML file")
	rootCmd.PersistentFlags().String("credentials-file", "", "storage credentials YAML file")

	produceCmd.Flags().String("producer-id", "", "producer identity, used to key persisted morsel state")
	produceCmd.Flags().String("state-file", "", "morsel checkpoint database file")
	produceCmd.Flags().Int("max-task-queue-size", 0, "stop enumerating once the task queue holds this many tasks")
	produceCmd.Flags().Duration("frequency", 0, "how often to run the producer loop; 0 runs once and exits")
	produceCmd.Flags().String("inclusion-list", "", "file of account[/spaceId] patterns to include")
	produceCmd.Flags().String("exclusion-list", "", "file of account[/spaceId] patterns to exclude")
	produceCmd.Flags().String("scratch-dir", "", "scratch directory for temporary files")
	produceCmd.Flags().String("task-queue-name", "", "durable task queue database file")

	workCmd.Flags().String("task-queue-name", "", "durable task queue database file")
	workCmd.Flags().Int("concurrency", 0, "number of concurrent workers")
	workCmd.Flags().Duration("visibility-timeout", 0, "task visibility timeout while a worker holds it")
	workCmd.Flags().Duration("poll-interval", 0, "how often each worker polls the queue when idle")
	workCmd.Flags().Int("retries", 0, "maximum attempts, including the first, for each storage operation within one task reconciliation")
	workCmd.Flags().Int("retry-backoff-ms", 0, "initial retry backoff in milliseconds")
	workCmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on")

	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(workCmd)
}

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Enumerate spaces and content and enqueue duplication tasks",
	RunE:  runProduce,
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Drain the task queue and reconcile duplication tasks",
	RunE:  runWork,
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	credRepo := credentials.NewFileRepo(cfg.Producer.CredentialsFile)
	factory := storage.NewFactory(credRepo)

	policyProvider := policy.NewYAMLProvider(cfg.Policy.File)
	filter, err := policy.NewFilter(cfg.Producer.InclusionList, cfg.Producer.ExclusionList)
	if err != nil {
		return fmt.Errorf("failed to load account/space filter: %w", err)
	}

	taskQueue, err := queue.NewSQLiteQueue(cfg.Queue.Name)
	if err != nil {
		return fmt.Errorf("failed to open task queue: %w", err)
	}

	stateStore, err := state.NewSQLiteStore(cfg.Producer.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open morsel state store: %w", err)
	}

	metricsCollector := metrics.New()

	p := &producer.Producer{
		ProducerID:       cfg.Producer.ProducerID,
		Policy:           policyProvider,
		Filter:           filter,
		Providers:        factory,
		Queue:            taskQueue,
		State:            stateStore,
		MaxTaskQueueSize: cfg.Producer.MaxTaskQueueSize,
		Logger:           log,
		ScratchDir:       cfg.Producer.ScratchDir,
		Metrics:          metricsCollector,
	}

	ctx, cancel := shutdownContext()
	defer cancel()

	go func() {
		log.Info("starting metrics server", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsCollector.StartServer(cfg.Metrics.Addr); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	if cfg.Producer.Frequency <= 0 {
		return p.Run(ctx)
	}

	ticker := time.NewTicker(cfg.Producer.Frequency)
	defer ticker.Stop()

	if err := p.Run(ctx); err != nil {
		log.Error("producer run failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("producer stopping on shutdown signal")
			return nil
		case <-ticker.C:
			if err := p.Run(ctx); err != nil {
				log.Error("producer run failed", zap.Error(err))
			}
		}
	}
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	credRepo := credentials.NewFileRepo(cfg.Producer.CredentialsFile)
	factory := storage.NewFactory(credRepo)

	taskQueue, err := queue.NewSQLiteQueue(cfg.Queue.Name)
	if err != nil {
		return fmt.Errorf("failed to open task queue: %w", err)
	}

	metricsCollector := metrics.New()

	poolConfig := worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		PollInterval:      cfg.Worker.PollInterval,
		Retrier: retrier.Config{
			MaxAttempts:     cfg.Worker.Retries,
			InitialInterval: time.Duration(cfg.Worker.RetryBackoffMs) * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}

	pool := worker.NewPool(cfg.Worker.Concurrency, poolConfig, taskQueue, factory, metricsCollector, log)

	ctx, cancel := shutdownContext()
	defer cancel()

	var wg sync.WaitGroup
	pool.Start(ctx, &wg)

	go func() {
		log.Info("starting metrics server", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsCollector.StartServer(cfg.Metrics.Addr); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	var display *progress.Display
	if progress.IsTerminalSupported() {
		display = progress.NewDisplay(metricsCollector.GetProgressTracker(), 2*time.Second)
		display.Start()
		log.Info("progress display enabled")
	}

	go sampleQueueDepth(ctx, taskQueue, metricsCollector, 2*time.Second, log)

	<-ctx.Done()
	log.Info("worker pool stopping on shutdown signal")
	wg.Wait()

	if display != nil {
		display.Stop()
	}

	return nil
}

// sampleQueueDepth periodically records the queue's advisory size and
// refreshes the progress tracker's notion of total work: tasks already
// processed plus whatever is currently enqueued, since the queue is
// filled continuously and has no fixed total known up front.
func sampleQueueDepth(ctx context.Context, q queue.TaskQueue, m *metrics.Collector, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := q.Size(ctx)
			if err != nil {
				log.Warn("failed to sample task queue size", zap.Error(err))
				continue
			}
			m.SetQueueDepth(size)

			processed := m.GetProgressTracker().GetStatus().ProcessedTasks
			m.SetTotalTasks(processed + int64(size))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
