// Package searcher ties the search path together: it plans a pattern,
// selects candidate documents from the index (through the optional candidate
// cache), filters them by path, and greps the survivors.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/grep"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/tracing"
)

// Options configures a Searcher. All fields are optional.
type Options struct {
	Cache         *cache.CandidateCache
	Metrics       *metrics.Metrics
	MaxCandidates int
}

// Searcher answers regexp searches against one open index. It is safe for
// concurrent use.
type Searcher struct {
	ix            *index.Index
	cache         *cache.CandidateCache
	metrics       *metrics.Metrics
	maxCandidates int
	logger        *slog.Logger
}

func New(ix *index.Index, opts Options) *Searcher {
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	return &Searcher{
		ix:            ix,
		cache:         opts.Cache,
		metrics:       m,
		maxCandidates: opts.MaxCandidates,
		logger:        logger.WithComponent("searcher"),
	}
}

// Request is one search.
type Request struct {
	Pattern         string
	CaseInsensitive bool
	// PathFilter, when set, drops candidates whose path does not match.
	PathFilter *regexp.Regexp
}

// Candidate is a document that may match.
type Candidate struct {
	ID   uint32
	Path string
}

// Result describes the candidate selection for a request.
type Result struct {
	Query      *query.Query
	Candidates []Candidate
	// Selected is the candidate count before path filtering and truncation.
	Selected  int
	Truncated bool
	Cached    bool
	Elapsed   time.Duration
}

// Candidates plans req and returns the documents that may match it, in
// ascending ID order. An invalid pattern fails before the index is touched.
func (s *Searcher) Candidates(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "candidates")
	defer span.End()

	q, err := query.Plan(req.Pattern, req.CaseInsensitive)
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	span.SetAttr("query", q.String())

	evaluate := func() ([]uint32, error) {
		return executor.Evaluate(ctx, q, s.ix)
	}
	var ids []uint32
	cacheStatus := "disabled"
	cached := false
	if s.cache != nil {
		key := cache.Key(s.ix.BuildID(), req.CaseInsensitive, req.Pattern)
		ids, cached, err = s.cache.GetOrCompute(ctx, key, evaluate)
		cacheStatus = "miss"
		if cached {
			cacheStatus = "hit"
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	} else {
		ids, err = evaluate()
	}
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("evaluating %s: %w", q, err)
	}

	res := &Result{Query: q, Selected: len(ids), Cached: cached}
	for _, id := range ids {
		path, err := s.ix.PathOf(id)
		if err != nil {
			s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("resolving document %d: %w", id, err)
		}
		if req.PathFilter != nil && !req.PathFilter.MatchString(path) {
			continue
		}
		if s.maxCandidates > 0 && len(res.Candidates) >= s.maxCandidates {
			res.Truncated = true
			break
		}
		res.Candidates = append(res.Candidates, Candidate{ID: id, Path: path})
	}
	res.Elapsed = time.Since(start)
	span.SetAttr("cache", cacheStatus)
	span.SetAttr("selected", res.Selected)

	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(res.Elapsed.Seconds())
	s.metrics.SearchCandidateCount.Observe(float64(len(res.Candidates)))
	if res.Truncated {
		s.logger.Warn("candidate list truncated", "pattern", req.Pattern, "selected", res.Selected, "max_candidates", s.maxCandidates)
	}
	s.logger.Debug("candidates selected",
		"pattern", req.Pattern,
		"query", q.String(),
		"selected", res.Selected,
		"candidates", len(res.Candidates),
		"cache", cacheStatus,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// Search selects candidates for req and greps each with g. Files that can
// no longer be read are logged and skipped. It returns the candidate result
// and the total number of matching lines.
func (s *Searcher) Search(ctx context.Context, req Request, g *grep.Grep) (*Result, int, error) {
	ctx, span := tracing.Start(ctx, "search")
	span.SetAttr("pattern", req.Pattern)
	defer func() {
		span.End()
		span.Log(ctx, s.logger)
	}()

	res, err := s.Candidates(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	_, grepSpan := tracing.Start(ctx, "grep")
	defer grepSpan.End()
	total := 0
	for _, c := range res.Candidates {
		if err := ctx.Err(); err != nil {
			return res, total, err
		}
		n, err := g.File(c.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable candidate", "path", c.Path, "error", err)
			continue
		}
		total += n
	}
	grepSpan.SetAttr("files", len(res.Candidates))
	grepSpan.SetAttr("lines", total)
	resultType := "hit"
	if total == 0 {
		resultType = "zero_result"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	return res, total, nil
}
