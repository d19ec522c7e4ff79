package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/httputil"
	"github.com/SpencerMonger/PropScraper-sub000/logging"
	"github.com/SpencerMonger/PropScraper-sub000/scanner"
	"github.com/SpencerMonger/PropScraper-sub000/scheduler"
	"github.com/SpencerMonger/PropScraper-sub000/scraper"
	"github.com/SpencerMonger/PropScraper-sub000/services"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
	syncengine "github.com/SpencerMonger/PropScraper-sub000/sync"
	"github.com/SpencerMonger/PropScraper-sub000/workers"
)

const usage = `Usage: propsync <command> [flags]

Commands:
  status          Show tier schedule and last runs
  run-tier N      Run one tier now (--force waits if another tier is running)
  run-scheduled   Run every tier that is due
  daemon          Run continuously, checking for due tiers
  process-queue   Drain the scrape queue without scanning
  queue-stats     Show queue counts by status
  retry-failed    Requeue failed entries with attempts left
  cleanup         Delete old completed queue entries
  history         List recent runs (--tier, --limit)
  summary         Aggregate runs per tier (--days)
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	logFile, err := logging.Setup("sync.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	app := buildApp(store, cfg)
	defer app.detail.Close()

	if err := dispatch(ctx, command, args, app, cfg); err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

type app struct {
	store     storage.Store
	queue     *services.QueueService
	worker    *workers.QueueWorker
	detail    scraper.Detail
	scheduler *scheduler.Scheduler
}

func buildApp(store storage.Store, cfg *config.Config) *app {
	client := httputil.NewClient(cfg.UserAgent, cfg.BaseURL, cfg.RequestTimeout)

	manifest := services.NewManifestService(store, cfg)
	diff := services.NewDiffService(store, client, cfg)
	queue := services.NewQueueService(store, cfg)
	canonical := services.NewCanonicalService(store)

	detail := scraper.NewDetailScraper(cfg)
	worker := workers.NewQueueWorker(store, queue, canonical, detail)
	sc := scanner.NewManifestScanner(client, manifest)

	orchestrator := syncengine.NewTierOrchestrator(store, sc, manifest, diff, queue, worker, cfg)
	sched := scheduler.New(store, orchestrator, cfg)

	return &app{
		store:     store,
		queue:     queue,
		worker:    worker,
		detail:    detail,
		scheduler: sched,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return store, nil
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return store, nil
}

func dispatch(ctx context.Context, command string, args []string, app *app, cfg *config.Config) error {
	switch command {
	case "status":
		return cmdStatus(ctx, app)
	case "run-tier":
		return cmdRunTier(ctx, args, app)
	case "run-scheduled":
		_, err := app.scheduler.RunScheduled(ctx)
		return err
	case "daemon":
		return cmdDaemon(ctx, args, app, cfg)
	case "process-queue":
		return cmdProcessQueue(ctx, args, app)
	case "queue-stats":
		return cmdQueueStats(ctx, app)
	case "retry-failed":
		return cmdRetryFailed(ctx, args, app)
	case "cleanup":
		return cmdCleanup(ctx, app)
	case "history":
		return cmdHistory(ctx, args, app)
	case "summary":
		return cmdSummary(ctx, args, app)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdStatus(ctx context.Context, app *app) error {
	statuses, err := app.scheduler.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Tier schedule:")
	for _, st := range statuses {
		state := "idle"
		if st.IsRunning {
			state = "RUNNING"
		} else if st.IsDue {
			state = "due"
		}
		last := "never"
		if st.LastSuccess != nil {
			last = st.LastSuccess.Format("2006-01-02 15:04")
		}
		next := "now"
		if st.NextRun != nil && st.NextRun.After(time.Now()) {
			next = st.NextRun.Format("2006-01-02 15:04")
		}
		fmt.Printf("  %d. %-18s every %-5s last %-17s next %-17s [%s]\n",
			st.Level, st.Name, st.Frequency, last, next, state)
	}

	stats, err := app.queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Queue: %d pending, %d in progress, %d failed\n",
		stats.Pending, stats.InProgress, stats.Failed)
	return nil
}

func cmdRunTier(ctx context.Context, args []string, app *app) error {
	fs := flag.NewFlagSet("run-tier", flag.ExitOnError)
	force := fs.Bool("force", false, "wait for a running tier instead of failing fast")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: run-tier <level> [--force]")
	}
	var level int
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &level); err != nil {
		return fmt.Errorf("invalid tier level %q", fs.Arg(0))
	}

	result, err := app.scheduler.RunSingle(ctx, level, *force)
	if err != nil {
		return err
	}
	fmt.Printf("Tier %d run %d: %d new, %d price changes, %d removed, %d scraped (%d failed) in %s\n",
		result.TierLevel, result.RunID, result.NewFound, result.PriceChanges,
		result.RemovalsConfirmed, result.Scraped, result.Failed, result.Duration.Round(time.Second))
	return nil
}

func cmdDaemon(ctx context.Context, args []string, app *app, cfg *config.Config) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	interval := fs.Duration("interval", 5*time.Minute, "how often to check for due tiers")
	fs.Parse(args)

	if cfg.CronSpec != "" {
		c, err := app.scheduler.StartCron(ctx, cfg.CronSpec)
		if err != nil {
			return err
		}
		defer c.Stop()
		<-ctx.Done()
		log.Println("Shutting down...")
		return nil
	}

	err := app.scheduler.RunContinuous(ctx, *interval, 0)
	if err == context.Canceled {
		log.Println("Shutting down...")
		return nil
	}
	return err
}

func cmdProcessQueue(ctx context.Context, args []string, app *app) error {
	fs := flag.NewFlagSet("process-queue", flag.ExitOnError)
	maxItems := fs.Int("max-items", 0, "stop after this many entries (0 = drain fully)")
	batchSize := fs.Int("batch-size", 10, "entries claimed per batch")
	rateLimit := fs.Duration("rate-limit", 3*time.Second, "delay between scrapes")
	fs.Parse(args)

	result, err := app.worker.Drain(ctx, *maxItems, *batchSize, *rateLimit)
	if result != nil {
		fmt.Printf("Processed %d: %d succeeded, %d failed in %s\n",
			result.Processed, result.Succeeded, result.Failed, result.Duration.Round(time.Second))
	}
	return err
}

func cmdQueueStats(ctx context.Context, app *app) error {
	stats, err := app.queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Queue (%d total):\n", stats.Total())
	fmt.Printf("  pending:     %d\n", stats.Pending)
	fmt.Printf("  in progress: %d\n", stats.InProgress)
	fmt.Printf("  completed:   %d\n", stats.Completed)
	fmt.Printf("  failed:      %d\n", stats.Failed)
	fmt.Printf("  cancelled:   %d\n", stats.Cancelled)
	return nil
}

func cmdRetryFailed(ctx context.Context, args []string, app *app) error {
	fs := flag.NewFlagSet("retry-failed", flag.ExitOnError)
	maxAttempts := fs.Int("max-attempts", 3, "skip entries with this many attempts")
	limit := fs.Int("limit", 500, "max entries to requeue")
	fs.Parse(args)

	n, err := app.queue.RetryFailed(ctx, *maxAttempts, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d failed entries\n", n)
	return nil
}

func cmdCleanup(ctx context.Context, app *app) error {
	n, err := app.queue.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d old queue entries\n", n)
	return nil
}

func cmdHistory(ctx context.Context, args []string, app *app) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	tier := fs.Int("tier", 0, "filter by tier level (0 = all)")
	limit := fs.Int("limit", 20, "max runs to show")
	fs.Parse(args)

	runs, err := app.store.ListRuns(ctx, *tier, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	for _, run := range runs {
		duration := ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("#%-5d T%d %-10s %s  pages=%d new=%d price=%d removed=%d scraped=%d %s\n",
			run.ID, run.TierLevel, run.Status, run.StartedAt.Format("2006-01-02 15:04"),
			run.PagesScanned, run.NewFound, run.PriceChanges, run.RemovalsConfirmed,
			run.Scraped, duration)
		if run.ErrorSummary != "" {
			fmt.Printf("        error: %s\n", run.ErrorSummary)
		}
	}
	return nil
}

func cmdSummary(ctx context.Context, args []string, app *app) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	days := fs.Int("days", 7, "window in days")
	fs.Parse(args)

	summaries, err := app.store.SummarizeRuns(ctx, *days)
	if err != nil {
		return err
	}
	fmt.Printf("Last %d days:\n", *days)
	for _, s := range summaries {
		last := "never"
		if s.LastRunAt != nil {
			last = s.LastRunAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("  T%d: %d runs (%d failed), %d pages, %d new, %d price changes, %d removed, %d scraped, last %s\n",
			s.TierLevel, s.Runs, s.Failures, s.PagesScanned, s.NewFound,
			s.PriceChanges, s.RemovalsConfirmed, s.Scraped, last)
	}
	return nil
}

// maskConnectionString hides the password when logging a database URL.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
