package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/PartnerCenter/internal/config"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
	"github.com/TobiSchelling/PartnerCenter/internal/scheduler"
	"github.com/TobiSchelling/PartnerCenter/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "partnercenter",
	Short:   "Sales-opportunity alerts from your contacts' posts",
	Long:    "Partner Center classifies posts of tracked business contacts and alerts you about sales opportunities.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; real environment variables still apply.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return errors.Wrap(err, "loading config")
		}

		logging.Init(cfg.Logging.Level, os.Stderr)
		if verbose {
			logging.SetVerbose()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(historyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("partnercenter", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/partnercenter/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return errors.Wrap(err, "creating config directory")
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return errors.Wrap(err, "writing config")
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose a notification channel, LLM provider, and storage.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats(ctx)
		if err != nil {
			return errors.Wrap(err, "getting stats")
		}

		fmt.Printf("Storage: %s\n\n", cfg.Storage.Driver)
		fmt.Println("Accounts:")
		fmt.Printf("  Users: %d\n", stats.Users)
		fmt.Printf("  Profiles: %d (%d alerting)\n", stats.Profiles, stats.AlertableProfiles)
		fmt.Println("\nPosts:")
		fmt.Printf("  Total collected: %d\n", stats.TotalPosts)
		fmt.Printf("  Classified: %d\n", stats.ClassifiedPosts)
		fmt.Printf("  Sales opportunities: %d\n", stats.Opportunities)
		fmt.Printf("  Notified: %d\n", stats.NotifiedPosts)
		fmt.Println("\nDeliveries:")
		fmt.Printf("  Sent: %d\n", stats.DeliveriesSent)
		fmt.Printf("  Failed: %d\n", stats.DeliveriesFailed)
		fmt.Printf("\nChannel: %s (limit %d per %s per recipient)\n",
			cfg.Notifications.Channel, cfg.Notifications.RateLimit.Cap, cfg.Notifications.RateLimit.Window)
		return nil
	},
}

// --- sync command ---

var (
	syncUser int64
	dryRun   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync: collect -> fetch -> select -> deliver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if dryRun {
			if syncUser == 0 {
				return errors.New("--dry-run needs --user")
			}
			printResult(pipeline.BuildPreview(cfg, store).DryRun(ctx, syncUser))
			return nil
		}

		pipe, err := pipeline.Build(ctx, cfg, store, pipeline.NewLimiter(cfg))
		if err != nil {
			return err
		}

		if syncUser != 0 {
			printResult(pipe.Sync(ctx, syncUser))
			return nil
		}

		results, err := pipe.SyncAll(ctx)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No user has a profile with notifications enabled and a recipient set.")
		}
		for _, r := range results {
			printResult(r)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64VarP(&syncUser, "user", "u", 0, "Sync only this user (default: every user with alertable profiles)")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without classifying or sending")
}

func printResult(r *pipeline.Result) {
	fmt.Printf("\nUser %d (run %s)\n", r.UserID, r.RunID)
	for i, step := range r.Steps {
		fmt.Printf("  Step %d/%d: %s\n", i+1, len(r.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("    Error: %v\n", step.Err)
		} else {
			fmt.Printf("    %s\n", step.Summary)
		}
	}
	if r.RunID != "dry-run" {
		fmt.Printf("  %d posts sent in %d messages\n", r.Sent, r.Messages)
	}
	if len(r.Errors) > 0 {
		errs := append([]string(nil), r.Errors...)
		sort.Strings(errs)
		fmt.Printf("  %d errors:\n", len(errs))
		for _, e := range errs {
			fmt.Printf("    - %s\n", e)
		}
	}
}

// --- serve command ---

var (
	servePort   int
	noScheduler bool
	workers     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server, the sync scheduler, and its workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pipe, err := pipeline.Build(ctx, cfg, store, pipeline.NewLimiter(cfg))
		if err != nil {
			return err
		}

		bus := scheduler.NewBus()
		defer bus.Close()
		worker := scheduler.NewWorker(bus, pipe, workers)

		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		srv, err := server.New(store, bus, worker)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error { return server.Serve(gctx, srv, port) })
		if !noScheduler {
			sched := scheduler.NewScheduler(store, bus, cfg.Scheduler.Interval)
			g.Go(func() error { return sched.Run(gctx) })
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default: server.port from config)")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Only sync when requested through the API")
	serveCmd.Flags().IntVar(&workers, "workers", 4, "Maximum concurrent syncs")
}

func openStore(ctx context.Context) (database.Store, error) {
	return pipeline.OpenStore(ctx, cfg)
}
