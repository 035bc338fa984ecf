// Command csearch prints the lines of indexed files that match a regular
// expression.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/grep"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/redis"
)

const usage = `usage: csearch [flags] regexp

csearch behaves like grep over all indexed files, searching for regexp,
an RE2 (nearly PCRE) regular expression. It consults the index built by
cindex to skip files that cannot match.

`

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		indexPath  = flag.String("index", "", "index file to search")
		ignoreCase = flag.Bool("i", false, "case-insensitive search")
		lineNums   = flag.Bool("n", false, "print line numbers")
		filesOnly  = flag.Bool("l", false, "print only the names of matching files")
		count      = flag.Bool("c", false, "print only a count of matching lines per file")
		pathFilter = flag.String("f", "", "search only files whose path matches this regexp")
		verbose    = flag.Bool("verbose", false, "print the planned query and candidate count")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(apperrors.ExitUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	logger.Setup(level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := searcher.Request{Pattern: flag.Arg(0), CaseInsensitive: *ignoreCase}
	if *pathFilter != "" {
		req.PathFilter, err = regexp.Compile(*pathFilter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "csearch: invalid -f pattern: %v\n", err)
			os.Exit(apperrors.ExitUsage)
		}
	}
	opts := grep.Options{LineNumbers: *lineNums, FilesOnly: *filesOnly, Count: *count}

	code := run(ctx, cfg, *indexPath, req, opts, *verbose)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, explicit string, req searcher.Request, opts grep.Options, verbose bool) int {
	// Compile first so a bad pattern is reported without touching the index.
	re, err := grep.Compile(req.Pattern, req.CaseInsensitive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		return apperrors.ExitCode(err)
	}

	if explicit == "" {
		explicit = cfg.Index.Path
	}
	path, err := config.ResolveIndexPath(explicit, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		return apperrors.ExitCode(err)
	}
	ix, err := index.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		return apperrors.ExitNotFound
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		return apperrors.ExitCode(err)
	}
	defer ix.Close()

	sopts := searcher.Options{
		Metrics:       metrics.New(prometheus.DefaultRegisterer),
		MaxCandidates: cfg.Search.MaxCandidates,
	}
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("candidate cache unavailable, searching without it", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer client.Close()
			sopts.Cache = cache.New(client, cfg.Redis)
		}
	}
	s := searcher.New(ix, sopts)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	g := grep.New(re, out, opts)

	res, _, err := s.Search(ctx, req, g)
	if res != nil && verbose {
		fmt.Fprintf(os.Stderr, "query: %s\n", res.Query)
		fmt.Fprintf(os.Stderr, "candidates: %d of %d documents", res.Selected, ix.DocumentCount())
		if res.Cached {
			fmt.Fprint(os.Stderr, " (cached)")
		}
		fmt.Fprintln(os.Stderr)
	}
	if res != nil && res.Truncated {
		fmt.Fprintf(os.Stderr, "csearch: searched only the first %d candidates\n", len(res.Candidates))
	}
	if err != nil {
		out.Flush()
		fmt.Fprintf(os.Stderr, "csearch: %v\n", err)
		return apperrors.ExitCode(err)
	}
	if !g.Matched {
		return apperrors.ExitNoMatch
	}
	return apperrors.ExitOK
}
