// Package main is the entry point for the catalog indexer. It loads a JSON
// array of posts into the feed catalog database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onnwee/bentofeed/internal/config"
	"github.com/onnwee/bentofeed/internal/jobs"
	"github.com/onnwee/bentofeed/internal/middleware"
	"github.com/onnwee/bentofeed/internal/post"
)

const importTimeout = 5 * time.Minute

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file")
	input := flag.String("file", "-", "JSON file with an array of posts (- for stdin)")
	dryRun := flag.Bool("dry-run", false, "validate the input without writing")
	flag.Parse()

	if *help {
		fmt.Println("Bento Catalog Indexer")
		fmt.Println()
		fmt.Println("Usage: indexer [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	logger := middleware.NewLogger(envOf(cfg))
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *input, *dryRun, logger); err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func envOf(cfg *config.Config) string {
	if cfg == nil {
		return config.DefaultEnv
	}
	return cfg.Env
}

func run(ctx context.Context, cfg *config.Config, input string, dryRun bool, logger *slog.Logger) error {
	posts, err := readPosts(input)
	if err != nil {
		return err
	}
	logger.Info("decoded catalog batch", "posts", len(posts), "dry_run", dryRun)
	if dryRun {
		return nil
	}

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required to import")
	}
	dialect, err := post.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	db, err := post.OpenDB(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := post.NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	runner := jobs.NewRunner(nil, logger)
	return runner.RunOnce(ctx, jobs.Job{
		Type:    jobs.JobTypeCatalogImport,
		Timeout: importTimeout,
		Run: func(ctx context.Context) error {
			n, err := post.Import(ctx, repo, posts)
			logger.Info("imported posts", "written", n, "total", len(posts))
			return err
		},
	})
}

func readPosts(input string) ([]post.Post, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", input, err)
		}
		defer f.Close()
		r = f
	}
	return post.DecodeBatch(r)
}
