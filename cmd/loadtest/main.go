// Command loadtest runs searches from many goroutines against one open index
// and reports throughput and latency percentiles.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

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

type Config struct {
	Concurrency int
	Duration    time.Duration
	Patterns    []string
	// Grep also scans every candidate file, not just the index.
	Grep bool
}

var defaultPatterns = []string{
	`func \w+\(`,
	`TODO`,
	`(?i)error`,
	`return nil, err`,
	`package main`,
	`import \(`,
	`ctx context\.Context`,
	`for .* range`,
	`fmt\.Errorf\("`,
	`http\.Handler`,
	`[A-Z][a-z]+Config`,
	`sync\.Mutex`,
	`0x[0-9a-f]{8}`,
	`defer \w+\.Close\(\)`,
	`select \{`,
}

type Stats struct {
	totalQueries atomic.Int64
	errorCount   atomic.Int64
	cacheHits    atomic.Int64
	zeroResults  atomic.Int64
	candidates   atomic.Int64
	matches      atomic.Int64
	latencies    []time.Duration
	latenciesMu  sync.Mutex
}

func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, 0, 100000)}
}

func (s *Stats) RecordQuery(duration time.Duration, res *searcher.Result, matches int, err error) {
	s.totalQueries.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if res.Cached {
		s.cacheHits.Add(1)
	}
	if len(res.Candidates) == 0 {
		s.zeroResults.Add(1)
	}
	s.candidates.Add(int64(len(res.Candidates)))
	s.matches.Add(int64(matches))

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	indexPath := flag.String("index", "", "index file to search")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	patternFile := flag.String("patterns", "", "file of patterns, one per line (default: built-in set)")
	grepFiles := flag.Bool("grep", false, "grep candidate files as well as selecting them")
	flag.Parse()

	if err := run(*configPath, *indexPath, *patternFile, Config{
		Concurrency: *concurrency,
		Duration:    *duration,
		Grep:        *grepFiles,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(configPath, explicit, patternFile string, cfg Config) error {
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup("error", appCfg.Logging.Format)

	cfg.Patterns = defaultPatterns
	if patternFile != "" {
		if cfg.Patterns, err = readPatterns(patternFile); err != nil {
			return err
		}
	}
	if explicit == "" {
		explicit = appCfg.Index.Path
	}
	path, err := config.ResolveIndexPath(explicit, false)
	if err != nil {
		return err
	}
	ix, err := index.Open(path)
	if err != nil {
		return err
	}
	defer ix.Close()

	opts := searcher.Options{
		Metrics:       metrics.New(prometheus.NewRegistry()),
		MaxCandidates: appCfg.Search.MaxCandidates,
	}
	cacheMode := "disabled"
	if appCfg.Redis.Enabled {
		client, err := pkgredis.NewClient(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to candidate cache: %w", err)
		}
		defer client.Close()
		opts.Cache = cache.New(client, appCfg.Redis)
		cacheMode = appCfg.Redis.Addr
	}
	s := searcher.New(ix, opts)

	fmt.Println("=== Code Search Load Test ===")
	fmt.Printf("Index:       %s (%d documents, %d trigrams)\n", path, ix.DocumentCount(), ix.TrigramCount())
	fmt.Printf("Cache:       %s\n", cacheMode)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Patterns:    %d unique\n", len(cfg.Patterns))
	fmt.Printf("Grep:        %t\n", cfg.Grep)
	fmt.Println()

	stats := runLoadTest(s, cfg)
	return printReport(stats, cfg.Duration)
}

func readPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if p := strings.TrimSpace(sc.Text()); p != "" && !strings.HasPrefix(p, "#") {
			patterns = append(patterns, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "%s contains no patterns", path)
	}
	return patterns, nil
}

func runLoadTest(s *searcher.Searcher, cfg Config) *Stats {
	stats := NewStats()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			patternIdx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				pattern := cfg.Patterns[patternIdx%len(cfg.Patterns)]
				patternIdx++
				req := searcher.Request{Pattern: pattern}

				start := time.Now()
				res, matches, err := searchOnce(ctx, s, req, cfg.Grep)
				duration := time.Since(start)
				if ctx.Err() != nil {
					return
				}
				stats.RecordQuery(duration, res, matches, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func searchOnce(ctx context.Context, s *searcher.Searcher, req searcher.Request, withGrep bool) (*searcher.Result, int, error) {
	if !withGrep {
		res, err := s.Candidates(ctx, req)
		return res, 0, err
	}
	re, err := grep.Compile(req.Pattern, req.CaseInsensitive)
	if err != nil {
		return nil, 0, err
	}
	return s.Search(ctx, req, grep.New(re, io.Discard, grep.Options{Count: true}))
}

func printReport(stats *Stats, duration time.Duration) error {
	total := stats.totalQueries.Load()
	errors := stats.errorCount.Load()
	ok := total - errors

	fmt.Println("=== Results ===")
	fmt.Printf("Total Queries:   %d\n", total)
	fmt.Printf("Successful:      %d\n", ok)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Cache Hits:      %d\n", stats.cacheHits.Load())
	fmt.Printf("Zero Candidates: %d\n", stats.zeroResults.Load())

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		qps := float64(total) / duration.Seconds()
		fmt.Printf("Queries/sec:     %.2f\n", qps)
	}
	if ok > 0 {
		fmt.Printf("Avg Candidates:  %.1f\n", float64(stats.candidates.Load())/float64(ok))
		if m := stats.matches.Load(); m > 0 {
			fmt.Printf("Avg Matches:     %.1f\n", float64(m)/float64(ok))
		}
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", mean(latencies))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", stddev(latencies))
	}

	if ok == 0 {
		return fmt.Errorf("no queries completed successfully")
	}
	return nil
}

func mean(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum / time.Duration(len(latencies))
}

func stddev(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	avg := float64(mean(latencies))
	var sumSquared float64
	for _, l := range latencies {
		diff := float64(l) - avg
		sumSquared += diff * diff
	}
	return time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
