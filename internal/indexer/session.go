package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/posting"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

const shardExt = ".csh"

// Session builds one index from an ordered run of documents. Document IDs
// are assigned densely from 0 in the order AddDocument accepts them. A
// Session is not safe for concurrent use.
type Session struct {
	opts    Options
	store   *checkpoint.Store
	pathLog *checkpoint.PathLog
	acc     *posting.Accumulator
	ext     *trigram.Extractor
	buildID uuid.UUID

	paths     []string
	committed map[string]struct{}
	shards    []string
	sinceCP   int
	closed    bool

	m      *metrics.Metrics
	logger *slog.Logger
}

// Begin starts a fresh session, discarding any scratch state left by an
// earlier build at the same location.
func Begin(opts Options) (*Session, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(opts.ScratchDir); err != nil {
		return nil, fmt.Errorf("clearing scratch directory: %w", err)
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	pl, err := checkpoint.CreatePathLog(filepath.Join(opts.ScratchDir, checkpoint.PathLogName))
	if err != nil {
		return nil, err
	}
	buildID := opts.BuildID
	if buildID == uuid.Nil {
		buildID = uuid.New()
	}
	s := newSession(opts, buildID, pl)
	s.logger.Info("build session started",
		"scratch_dir", opts.ScratchDir,
		"memory_budget", opts.MemoryBudget,
		"codec", opts.Codec,
	)
	return s, nil
}

// Resume continues the session checkpointed in opts.ScratchDir. It fails with
// ErrCheckpointNotFound when there is nothing to resume,
// ErrIncompatibleCheckpoint when the checkpoint was written with different
// content-affecting options, and ErrMissingShard when a recorded shard is
// gone. The last two mean the build must start over.
func Resume(opts Options) (*Session, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	store := checkpoint.NewStore(opts.ScratchDir)
	p, err := store.Load()
	if err != nil {
		return nil, err
	}
	if p.Fingerprint != opts.fingerprint() {
		return nil, apperrors.New(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "build options changed since the checkpoint was written")
	}
	if err := store.VerifyShards(p); err != nil {
		return nil, err
	}
	buildID, err := uuid.Parse(p.BuildID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "bad build id %q", p.BuildID)
	}
	if err := removeStrayShards(opts.ScratchDir, p.Shards); err != nil {
		return nil, err
	}
	pl, paths, err := checkpoint.OpenPathLog(filepath.Join(opts.ScratchDir, checkpoint.PathLogName), p.PathLogSize, p.PathCount)
	if err != nil {
		return nil, err
	}

	s := newSession(opts, buildID, pl)
	s.store = store
	s.paths = paths
	s.shards = append(s.shards, p.Shards...)
	s.logger.Info("build session resumed",
		"scratch_dir", opts.ScratchDir,
		"next_doc_id", len(paths),
		"shards", len(p.Shards),
		"checkpoint_age", time.Since(p.SavedAt).Round(time.Second),
	)
	return s, nil
}

func newSession(opts Options, buildID uuid.UUID, pl *checkpoint.PathLog) *Session {
	return &Session{
		opts:    opts,
		store:   checkpoint.NewStore(opts.ScratchDir),
		pathLog: pl,
		acc:     posting.New(),
		ext:     trigram.NewExtractor(opts.Limits),
		buildID: buildID,
		m:       opts.Metrics,
		logger:  slog.Default().With("component", "build-session", "build_id", buildID),
	}
}

// removeStrayShards deletes shards flushed after the last checkpoint; their
// documents are not committed and will be added again.
func removeStrayShards(dir string, keep []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing scratch directory: %w", err)
	}
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, shardExt) && !strings.HasSuffix(name, shardExt+".tmp") {
			continue
		}
		if _, ok := kept[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("removing stray shard %s: %w", name, err)
		}
	}
	return nil
}

// BuildID identifies the index this session will produce.
func (s *Session) BuildID() uuid.UUID {
	return s.buildID
}

// DocumentCount returns the number of documents accepted so far.
func (s *Session) DocumentCount() int {
	return len(s.paths)
}

// Committed reports whether path was already accepted, so a resumed driver
// can skip it.
func (s *Session) Committed(path string) bool {
	if s.committed == nil {
		s.committed = make(map[string]struct{}, len(s.paths))
		for _, p := range s.paths {
			s.committed[p] = struct{}{}
		}
	}
	_, ok := s.committed[path]
	return ok
}

// AddDocument extracts the trigrams of content and assigns path the next
// document ID. Content that exceeds the extraction limits is skipped: it
// gets no ID and the returned error wraps ErrDocumentSkipped.
func (s *Session) AddDocument(path string, content []byte) (uint32, error) {
	if s.closed {
		return 0, fmt.Errorf("build session is closed")
	}
	if uint64(len(s.paths)) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("document limit reached")
	}
	trigrams, err := s.ext.Extract(content)
	if err != nil {
		return 0, s.skip(path, err)
	}

	id := uint32(len(s.paths))
	if err := s.pathLog.Append(path); err != nil {
		return 0, err
	}
	s.paths = append(s.paths, path)
	if s.committed != nil {
		s.committed[path] = struct{}{}
	}
	s.acc.Add(id, trigrams)
	s.m.DocsIndexedTotal.Inc()
	s.logger.Debug("document added", "doc_id", id, "path", path, "trigrams", len(trigrams))

	if s.acc.Size() >= s.opts.MemoryBudget {
		if err := s.Flush(); err != nil {
			return id, err
		}
	}
	s.sinceCP++
	if s.opts.CheckpointEvery > 0 && s.sinceCP >= s.opts.CheckpointEvery {
		if err := s.Checkpoint(); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (s *Session) skip(path string, cause error) error {
	reason := "other"
	switch {
	case errors.Is(cause, trigram.ErrFileTooLong):
		reason = "file_too_long"
	case errors.Is(cause, trigram.ErrLineTooLong):
		reason = "line_too_long"
	case errors.Is(cause, trigram.ErrTooManyTrigrams):
		reason = "too_many_trigrams"
	case errors.Is(cause, errBinary):
		reason = "binary"
	case errors.Is(cause, os.ErrNotExist), errors.Is(cause, os.ErrPermission):
		reason = "unreadable"
	}
	s.m.DocsSkippedTotal.WithLabelValues(reason).Inc()
	s.logger.Warn("document skipped", "path", path, "reason", reason, "error", cause)
	return fmt.Errorf("%s: %w: %w", path, apperrors.ErrDocumentSkipped, cause)
}

// Flush spills the accumulator to a new shard. A shard is recorded only
// once it has been renamed into place.
func (s *Session) Flush() error {
	if s.acc.Empty() {
		return nil
	}
	name := fmt.Sprintf("shard-%06d%s", len(s.shards), shardExt)
	pairs := s.acc.Pairs()
	info, err := shard.Write(filepath.Join(s.opts.ScratchDir, name), s.opts.Codec, s.acc.ForEach)
	if err != nil {
		s.m.ShardFlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("flushing shard %s: %w", name, err)
	}
	s.shards = append(s.shards, name)
	s.acc.Reset()
	s.m.ShardFlushesTotal.WithLabelValues("success").Inc()
	s.m.ShardBytesWritten.Add(float64(info.Bytes))
	s.logger.Info("shard flushed",
		"shard", name,
		"trigrams", info.Groups,
		"pairs", pairs,
		"bytes", info.Bytes,
		"docs", len(s.paths),
	)
	return nil
}

// Checkpoint flushes the accumulator and durably records progress. After
// it returns, Resume restarts from exactly this point.
func (s *Session) Checkpoint() error {
	if s.closed {
		return fmt.Errorf("build session is closed")
	}
	if err := s.Flush(); err != nil {
		s.m.CheckpointsTotal.WithLabelValues("error").Inc()
		return err
	}
	size, count, err := s.pathLog.Sync()
	if err != nil {
		s.m.CheckpointsTotal.WithLabelValues("error").Inc()
		return err
	}
	err = s.store.Save(&checkpoint.Progress{
		BuildID:     s.buildID.String(),
		Fingerprint: s.opts.fingerprint(),
		NextDocID:   uint32(count),
		PathCount:   count,
		PathLogSize: size,
		Shards:      append([]string(nil), s.shards...),
		Roots:       s.opts.Roots,
	})
	if err != nil {
		s.m.CheckpointsTotal.WithLabelValues("error").Inc()
		return err
	}
	s.sinceCP = 0
	s.m.CheckpointsTotal.WithLabelValues("success").Inc()
	s.logger.Info("checkpoint written", "next_doc_id", count, "shards", len(s.shards))
	return nil
}

// Finalize flushes, merges every shard into the index at opts.IndexPath and
// removes the scratch directory. The returned index is open; the caller
// closes it.
func (s *Session) Finalize(ctx context.Context) (*index.Index, error) {
	if s.closed {
		return nil, fmt.Errorf("build session is closed")
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	start := time.Now()

	w, err := index.Create(s.opts.IndexPath, index.WriterOptions{
		BuildID: s.buildID,
		Roots:   s.opts.Roots,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range s.paths {
		if _, err := w.AddPath(p); err != nil {
			w.Abort()
			return nil, err
		}
	}
	shardPaths := make([]string, len(s.shards))
	for i, name := range s.shards {
		shardPaths[i] = filepath.Join(s.opts.ScratchDir, name)
	}
	emitted := 0
	err = shard.MergeFiles(shardPaths, func(t trigram.T, docs []uint32) error {
		emitted++
		if emitted%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return w.AddPosting(t, docs)
	})
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("merging shards: %w", err)
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}
	s.m.MergeDuration.WithLabelValues("shards").Observe(time.Since(start).Seconds())

	ix, err := index.Open(s.opts.IndexPath)
	if err != nil {
		return nil, err
	}
	s.m.IndexDocuments.Set(float64(ix.DocumentCount()))
	s.m.IndexTrigrams.Set(float64(ix.TrigramCount()))
	s.logger.Info("build session finalized",
		"index", s.opts.IndexPath,
		"documents", ix.DocumentCount(),
		"trigrams", ix.TrigramCount(),
		"shards", len(s.shards),
		"merge_ms", time.Since(start).Milliseconds(),
	)
	s.cleanup()
	return ix, nil
}

// Close releases open files but keeps the scratch directory so the session
// can be resumed from its last checkpoint.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pathLog.Close()
}

// Abort discards the session and its scratch directory.
func (s *Session) Abort() error {
	if !s.closed {
		s.closed = true
		s.pathLog.Close()
	}
	if err := os.RemoveAll(s.opts.ScratchDir); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	s.logger.Info("build session aborted")
	return nil
}

func (s *Session) cleanup() {
	s.closed = true
	if err := s.pathLog.Close(); err != nil {
		s.logger.Error("failed to close path log", "error", err)
	}
	if err := os.RemoveAll(s.opts.ScratchDir); err != nil {
		s.logger.Error("failed to remove scratch directory", "dir", s.opts.ScratchDir, "error", err)
	}
}
