// Command cindex builds the trigram index that csearch queries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/redis"
)

const usage = `usage: cindex [flags] [path...]

cindex prepares the trigram index used by csearch. The index is the file
named by -index, $CSEARCHINDEX, or the nearest .csearchindex in the current
directory or its parents, falling back to $HOME/.csearchindex.

With no paths, cindex re-indexes the roots recorded in the existing index.
-add merges the given paths into the existing index, replacing anything
previously indexed under them. -resume continues a build or -add that
was interrupted.

`

type flags struct {
	configPath string
	indexPath  string
	add        bool
	resume     bool
	list       bool
	reset      bool
	allFiles   bool
	extensions string
	workers    int
	verbose    bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to YAML config file")
	flag.StringVar(&f.indexPath, "index", "", "index file to write")
	flag.BoolVar(&f.add, "add", false, "add paths to the existing index")
	flag.BoolVar(&f.resume, "resume", false, "resume an interrupted build")
	flag.BoolVar(&f.list, "list", false, "list indexed roots and exit")
	flag.BoolVar(&f.reset, "reset", false, "discard the index and any interrupted build")
	flag.BoolVar(&f.allFiles, "a", false, "index all files, not just known source extensions")
	flag.StringVar(&f.extensions, "e", "", "additional comma-separated extensions to index")
	flag.IntVar(&f.workers, "workers", 0, "parallel build partitions (overrides config)")
	flag.BoolVar(&f.verbose, "verbose", false, "log progress")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(f, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "cindex: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(f flags, args []string) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if f.verbose {
		level = "info"
	}
	logger.Setup(level, cfg.Logging.Format)

	explicit := f.indexPath
	if explicit == "" {
		explicit = cfg.Index.Path
	}
	indexPath, err := config.ResolveIndexPath(explicit, true)
	if err != nil {
		return err
	}

	if f.list {
		return listRoots(indexPath)
	}
	if f.reset {
		if err := reset(cfg, indexPath); err != nil {
			return err
		}
		if len(args) == 0 {
			return nil
		}
	}
	if f.add && f.resume {
		return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "-add and -resume are mutually exclusive")
	}

	roots, err := chooseRoots(cfg, indexPath, f, args)
	if err != nil {
		return err
	}
	opts, err := indexer.OptionsFromConfig(cfg, indexPath, roots)
	if err != nil {
		return err
	}
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	opts.Metrics = metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *pkgredis.Client
	if cfg.Redis.Enabled {
		if rdb, err = pkgredis.NewClient(cfg.Redis); err != nil {
			slog.Warn("candidate cache unreachable; cached results of older builds will expire by TTL", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		checker.Register("index_dir", func(context.Context) error {
			_, err := os.Stat(filepath.Dir(indexPath))
			return err
		})
		if cfg.Kafka.Enabled {
			checker.RegisterOptional("kafka", func(ctx context.Context) error {
				return kafka.Ping(ctx, cfg.Kafka)
			})
		}
		if rdb != nil {
			checker.RegisterOptional("redis", rdb.Ping)
		}
		shutdown := metrics.StartServer(cfg.Metrics.Port, middleware.Timeout(3*time.Second)(checker.Handler()))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	b, err := indexer.NewBuilder(opts)
	if err != nil {
		return err
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		b.WithPublisher(producer)
	}

	var (
		ix  *index.Index
		rep *indexer.Report
	)
	switch {
	case f.resume:
		ix, rep, err = b.Resume(ctx)
	default:
		filter := ingestion.DefaultFilter().WithExtensions(f.extensions)
		filter.AllFiles = f.allFiles
		var paths []string
		paths, err = ingestion.Collect(ctx, roots, filter)
		if err != nil {
			return err
		}
		slog.Info("collected files", "roots", roots, "files", len(paths))
		if f.add {
			ix, rep, err = b.Add(ctx, paths)
		} else {
			ix, rep, err = b.Build(ctx, paths)
		}
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "cindex: interrupted; run cindex -resume to continue")
		return err
	}
	if apperrors.RequiresCleanRestart(err) {
		return fmt.Errorf("%w (run cindex -reset and build again)", err)
	}
	if err != nil {
		return err
	}
	defer ix.Close()

	// Cached candidate sets are keyed by build ID, so entries for the
	// replaced index can never hit again; drop them now instead of waiting
	// out the TTL.
	if rdb != nil {
		if err := cache.New(rdb, cfg.Redis).Invalidate(ctx); err != nil {
			slog.Warn("candidate cache invalidation failed", "error", err)
		}
	}

	fmt.Fprintf(os.Stderr, "cindex: indexed %d files (%d trigrams, %d skipped) into %s in %s\n",
		rep.Documents, rep.Trigrams, rep.Skipped, rep.IndexPath, rep.Duration.Round(time.Millisecond))
	return nil
}

// chooseRoots picks the roots to index: the arguments, else the roots of
// an interrupted build when resuming, else the roots already indexed.
func chooseRoots(cfg *config.Config, indexPath string, f flags, args []string) ([]string, error) {
	if len(args) > 0 {
		return ingestion.NormalizeRoots(args)
	}
	if f.resume {
		opts, err := indexer.OptionsFromConfig(cfg, indexPath, nil)
		if err != nil {
			return nil, err
		}
		return indexer.PendingRoots(opts)
	}
	ix, err := index.Open(indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "no paths given and no existing index to refresh")
	}
	if err != nil {
		return nil, err
	}
	defer ix.Close()
	if len(ix.Roots()) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "no paths given and the index records no roots")
	}
	return ingestion.NormalizeRoots(ix.Roots())
}

func listRoots(indexPath string) error {
	ix, err := index.Open(indexPath)
	if err != nil {
		return err
	}
	defer ix.Close()
	for _, r := range ix.Roots() {
		fmt.Println(r)
	}
	return nil
}

func reset(cfg *config.Config, indexPath string) error {
	opts, err := indexer.OptionsFromConfig(cfg, indexPath, nil)
	if err != nil {
		return err
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = indexPath + ".build"
	}
	for _, p := range []string{indexPath, scratch, indexPath + ".add"} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	slog.Info("index reset", "index", indexPath)
	return nil
}
