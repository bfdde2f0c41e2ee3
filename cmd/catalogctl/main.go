// catalogctl maintains the event catalog: schema, imports and embedding backfills.
//
// Usage:
//
//	catalogctl migrate
//	catalogctl import -file events.yaml
//	catalogctl backfill [-force] [-limit N] [-workers N]
//	catalogctl version
//
// Configuration is read like the API server's, from config/$ENV.yaml.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/app"
	"github.com/ZaineBoulbahaim/Streamevents/internal/config"
	logpkg "github.com/ZaineBoulbahaim/Streamevents/internal/logger"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	"github.com/ZaineBoulbahaim/Streamevents/internal/usecase/backfill"
	"github.com/ZaineBoulbahaim/Streamevents/internal/usecase/catalogimport"
	"github.com/ZaineBoulbahaim/Streamevents/internal/version"
)

const usage = `usage: catalogctl <command> [flags]

commands:
  migrate    create the catalog schema (postgres)
  import     load events from a YAML file
  backfill   compute missing embeddings
  version    print build information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "catalogctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "version":
		_, err := fmt.Fprintln(out, "catalogctl", version.String())
		return err
	case "migrate":
		return withStorage(ctx, func(env *environment) error {
			return env.storage.Migrate(ctx)
		})
	case "import":
		return runImport(ctx, args, out)
	case "backfill":
		return runBackfill(ctx, args, out)
	case "-h", "--help", "help":
		_, err := fmt.Fprint(out, usage)
		return err
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

type importFlags struct {
	file string
}

func runImport(ctx context.Context, args []string, out io.Writer) error {
	var f importFlags
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.StringVar(&f.file, "file", "events.yaml", "YAML file with an events list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(f.file))
	if err != nil {
		return fmt.Errorf("read %s: %w", f.file, err)
	}

	return withStorage(ctx, func(env *environment) error {
		if err := env.storage.Migrate(ctx); err != nil {
			return err
		}
		res, err := catalogimport.New(env.storage.Catalog, env.logger).Import(ctx, data)
		if err != nil {
			return err
		}
		return writeReport(out, res)
	})
}

type backfillFlags struct {
	force   bool
	limit   int
	workers int
}

func runBackfill(ctx context.Context, args []string, out io.Writer) error {
	var f backfillFlags
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.BoolVar(&f.force, "force", false, "re-embed every item, not only those lacking an embedding")
	fs.IntVar(&f.limit, "limit", 0, "process at most N items (0 = all)")
	fs.IntVar(&f.workers, "workers", backfill.DefaultWorkers, "items embedded concurrently")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.limit < 0 {
		return fmt.Errorf("-limit must not be negative, got %d", f.limit)
	}

	return withStorage(ctx, func(env *environment) error {
		metrics.RegisterEmbeddingMetrics()

		handle := app.NewEmbeddingHandle(env.cfg, env.storage.KV, env.logger)
		initCtx, cancel := context.WithTimeout(ctx, time.Duration(env.cfg.Embedding.InitTimeoutSec)*time.Second)
		err := handle.Init(initCtx)
		cancel()
		if err != nil {
			return err
		}

		rep, err := backfill.New(env.storage.Catalog, handle, env.logger).Run(ctx, backfill.Options{
			Force:   f.force,
			Limit:   f.limit,
			Workers: f.workers,
		})
		if err != nil {
			return err
		}
		return writeReport(out, rep)
	})
}

type environment struct {
	cfg     config.Config
	logger  *zap.Logger
	storage *app.Storage
}

// withStorage loads configuration, opens the catalog store and runs fn against it.
func withStorage(ctx context.Context, fn func(env *environment) error) error {
	envName := config.GetEnv()
	cfg, err := config.Load(envName)
	if err != nil {
		return err
	}

	logger, err := logpkg.NewLogger(envName, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	storage, err := app.OpenStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	return fn(&environment{cfg: cfg, logger: logger, storage: storage})
}

func writeReport(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
