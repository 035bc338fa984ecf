package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
)

const (
	planFile    = "plan.json"
	inputsFile  = "inputs.log"
	binarySniff = 8 << 10
)

// errBinary marks content that looks like a binary file.
var errBinary = errors.New("binary content")

// plan records how a build was partitioned so that Resume sees the same
// input order and partition boundaries as the interrupted run.
type plan struct {
	Version      int      `json:"version"`
	BuildID      string   `json:"build_id"`
	Fingerprint  string   `json:"fingerprint"`
	Workers      int      `json:"workers"`
	Inputs       int      `json:"inputs"`
	InputLogSize int64    `json:"input_log_size"`
	Roots        []string `json:"roots"`
	// Add marks a build that is merged into the existing index once done.
	Add       bool      `json:"add,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Report summarises a finished build.
type Report struct {
	BuildID    uuid.UUID
	IndexPath  string
	Documents  int
	Trigrams   int
	Skipped    int
	Partitions int
	Duration   time.Duration
	// Errors collects one error per skipped document, each wrapping
	// ErrDocumentSkipped.
	Errors *multierror.Error
}

// Err returns the skipped-document errors, or nil.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

// Builder reads files and drives one Session per partition of the input.
type Builder struct {
	opts      Options
	limiter   *rate.Limiter
	publisher Publisher
	logger    *slog.Logger
}

func NewBuilder(opts Options) (*Builder, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	b := &Builder{
		opts:   opts,
		logger: logger.WithComponent("builder"),
	}
	if opts.ReadBytesPerSec > 0 {
		burst := int(min(opts.ReadBytesPerSec, 1<<30))
		b.limiter = rate.NewLimiter(rate.Limit(opts.ReadBytesPerSec), burst)
	}
	return b, nil
}

// WithPublisher sends an IndexCompleteEvent after every successful build.
func (b *Builder) WithPublisher(p Publisher) *Builder {
	b.publisher = p
	return b
}

func (b *Builder) fingerprint() string {
	return fmt.Sprintf("%s/%d", b.opts.fingerprint(), b.opts.Workers)
}

// Build indexes paths, in order, into opts.IndexPath. Unreadable, binary
// and over-limit files are skipped and reported in the Report. On context
// cancellation every partition checkpoints and the context error is
// returned; Resume continues from there.
func (b *Builder) Build(ctx context.Context, paths []string) (*index.Index, *Report, error) {
	pl, err := b.begin(paths, false)
	if err != nil {
		return nil, nil, err
	}
	return b.run(ctx, pl, paths, false)
}

// begin clears the scratch directory and records the inputs and plan.
func (b *Builder) begin(paths []string, add bool) (*plan, error) {
	root := b.opts.ScratchDir
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("clearing scratch directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	log, err := checkpoint.CreatePathLog(filepath.Join(root, inputsFile))
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := log.Append(p); err != nil {
			log.Close()
			return nil, err
		}
	}
	size, count, err := log.Sync()
	if cerr := log.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	pl := &plan{
		Version:      checkpoint.FormatVersion,
		BuildID:      uuid.NewString(),
		Fingerprint:  b.fingerprint(),
		Workers:      b.opts.Workers,
		Inputs:       count,
		InputLogSize: size,
		Roots:        b.opts.Roots,
		Add:          add,
		CreatedAt:    time.Now().UTC(),
	}
	if err := checkpoint.WriteJSON(filepath.Join(root, planFile), pl); err != nil {
		return nil, err
	}
	return pl, nil
}

// Resume continues an interrupted Build or Add.
func (b *Builder) Resume(ctx context.Context) (*index.Index, *Report, error) {
	root := b.opts.ScratchDir
	var pl plan
	err := checkpoint.ReadJSON(filepath.Join(root, planFile), &pl)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, apperrors.Newf(apperrors.ErrCheckpointNotFound, apperrors.ExitNotFound, "no interrupted build in %s", root)
	}
	if err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "reading build plan: %v", err)
	}
	target := b
	if pl.Add {
		target = b.addBuilder()
	}
	if pl.Version != checkpoint.FormatVersion || pl.Fingerprint != target.fingerprint() {
		return nil, nil, apperrors.New(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "build options changed since the interrupted build")
	}
	log, paths, err := checkpoint.OpenPathLog(filepath.Join(root, inputsFile), pl.InputLogSize, pl.Inputs)
	if err != nil {
		return nil, nil, err
	}
	if err := log.Close(); err != nil {
		return nil, nil, err
	}
	b.logger.Info("resuming build", "build_id", pl.BuildID, "inputs", len(paths), "add", pl.Add)
	if !pl.Add {
		return b.run(ctx, &pl, paths, true)
	}
	added, rep, err := target.run(ctx, &pl, paths, true)
	if err != nil {
		return nil, nil, err
	}
	existing, err := index.Open(b.opts.IndexPath)
	if errors.Is(err, os.ErrNotExist) {
		existing, err = nil, nil
	}
	if err != nil {
		added.Close()
		return nil, nil, err
	}
	return b.mergeAdded(ctx, existing, added, rep)
}

// PendingRoots returns the roots of the interrupted build in the scratch
// directory opts points at, so that it can be resumed without repeating
// them.
func PendingRoots(opts Options) ([]string, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	var pl plan
	err = checkpoint.ReadJSON(filepath.Join(opts.ScratchDir, planFile), &pl)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.ErrCheckpointNotFound, apperrors.ExitNotFound, "no interrupted build in %s", opts.ScratchDir)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "reading build plan: %v", err)
	}
	return pl.Roots, nil
}

type partition struct {
	n     int
	paths []string
	opts  Options
	ix    *index.Index
	errs  *multierror.Error
}

func (b *Builder) partitions(pl *plan, paths []string) ([]*partition, error) {
	buildID, err := uuid.Parse(pl.BuildID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "bad build id %q", pl.BuildID)
	}
	n := min(pl.Workers, max(len(paths), 1))
	parts := make([]*partition, n)
	for i := range parts {
		lo, hi := i*len(paths)/n, (i+1)*len(paths)/n
		opts := b.opts
		opts.BuildID = buildID
		opts.ScratchDir = filepath.Join(b.opts.ScratchDir, fmt.Sprintf("part-%03d", i))
		if n > 1 {
			opts.IndexPath = filepath.Join(b.opts.ScratchDir, fmt.Sprintf("part-%03d.ix", i))
		}
		parts[i] = &partition{n: i, paths: paths[lo:hi], opts: opts}
	}
	return parts, nil
}

func (b *Builder) run(ctx context.Context, pl *plan, paths []string, resume bool) (*index.Index, *Report, error) {
	start := time.Now()
	parts, err := b.partitions(pl, paths)
	if err != nil {
		return nil, nil, err
	}
	b.logger.Info("build started",
		"build_id", pl.BuildID,
		"inputs", len(paths),
		"partitions", len(parts),
		"resume", resume,
	)

	ctx = logger.WithBuildID(ctx, pl.BuildID)
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		g.Go(func() error {
			return b.runPartition(gctx, part, resume)
		})
	}
	err = g.Wait()
	defer func() {
		if len(parts) > 1 {
			for _, part := range parts {
				if part.ix != nil {
					part.ix.Close()
				}
			}
		}
	}()
	if err != nil {
		if ctx.Err() != nil {
			b.logger.Info("build interrupted; resume to continue", "build_id", pl.BuildID)
		}
		return nil, nil, err
	}

	ix := parts[0].ix
	if len(parts) > 1 {
		srcs := make([]*index.Index, len(parts))
		for i, part := range parts {
			srcs[i] = part.ix
		}
		mergeStart := time.Now()
		ix, err = index.MergeAll(b.opts.IndexPath, srcs, index.MergeOptions{
			BuildID: srcs[0].BuildID(),
			Roots:   b.opts.Roots,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("merging partitions: %w", err)
		}
		b.opts.Metrics.MergeDuration.WithLabelValues("partitions").Observe(time.Since(mergeStart).Seconds())
		b.opts.Metrics.IndexDocuments.Set(float64(ix.DocumentCount()))
		b.opts.Metrics.IndexTrigrams.Set(float64(ix.TrigramCount()))
	}
	if err := os.RemoveAll(b.opts.ScratchDir); err != nil {
		b.logger.Error("failed to remove scratch directory", "dir", b.opts.ScratchDir, "error", err)
	}

	rep := &Report{
		BuildID:    ix.BuildID(),
		IndexPath:  b.opts.IndexPath,
		Documents:  ix.DocumentCount(),
		Trigrams:   ix.TrigramCount(),
		Partitions: len(parts),
		Duration:   time.Since(start),
	}
	for _, part := range parts {
		if part.errs != nil {
			rep.Errors = multierror.Append(rep.Errors, part.errs.Errors...)
		}
	}
	if rep.Errors != nil {
		rep.Skipped = len(rep.Errors.Errors)
	}
	b.logger.Info("build complete",
		"build_id", rep.BuildID,
		"documents", rep.Documents,
		"trigrams", rep.Trigrams,
		"skipped", rep.Skipped,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	b.publishComplete(ctx, rep)
	return ix, rep, nil
}

func (b *Builder) runPartition(ctx context.Context, part *partition, resume bool) error {
	log := logger.FromContext(ctx).With("component", "builder", "partition", part.n)
	if resume {
		if _, err := os.Stat(part.opts.ScratchDir); errors.Is(err, os.ErrNotExist) {
			// Finished before the interruption if the index carries this build's ID.
			if ix, err := index.Open(part.opts.IndexPath); err == nil {
				if ix.BuildID() == part.opts.BuildID {
					part.ix = ix
					log.Info("partition already complete")
					return nil
				}
				ix.Close()
			}
		}
	}

	var (
		s   *Session
		err error
	)
	if resume {
		s, err = Resume(part.opts)
		if errors.Is(err, apperrors.ErrCheckpointNotFound) {
			s, err = Begin(part.opts)
		}
	} else {
		s, err = Begin(part.opts)
	}
	if err != nil {
		return fmt.Errorf("partition %d: %w", part.n, err)
	}

	for _, p := range part.paths {
		if ctx.Err() != nil {
			return b.suspend(ctx, s, log)
		}
		if resume && s.Committed(p) {
			continue
		}
		content, err := b.readFile(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return b.suspend(ctx, s, log)
			}
			part.errs = multierror.Append(part.errs, s.skip(p, err))
			continue
		}
		if _, err := s.AddDocument(p, content); err != nil {
			if errors.Is(err, apperrors.ErrDocumentSkipped) {
				part.errs = multierror.Append(part.errs, err)
				continue
			}
			s.Close()
			return fmt.Errorf("partition %d: %w", part.n, err)
		}
	}

	ix, err := s.Finalize(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return b.suspend(ctx, s, log)
		}
		s.Close()
		return fmt.Errorf("partition %d: %w", part.n, err)
	}
	part.ix = ix
	return nil
}

// suspend checkpoints s so the build can be resumed, then reports the
// cancellation.
func (b *Builder) suspend(ctx context.Context, s *Session, log *slog.Logger) error {
	if err := s.Checkpoint(); err != nil {
		log.Error("checkpoint on cancellation failed", "error", err)
	}
	s.Close()
	return ctx.Err()
}

// readFile reads path subject to the file length limit, the read rate limit
// and binary detection.
func (b *Builder) readFile(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file")
	}
	if limit := b.opts.Limits.MaxFileLen; limit > 0 && fi.Size() > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", trigram.ErrFileTooLong, fi.Size(), limit)
	}
	if err := b.wait(ctx, int(fi.Size())); err != nil {
		return nil, err
	}
	// A file that shrank since Stat is read as it is now.
	buf := make([]byte, fi.Size())
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	b.opts.Metrics.BytesReadTotal.Add(float64(len(buf)))
	if bytes.IndexByte(buf[:min(len(buf), binarySniff)], 0) >= 0 {
		return nil, errBinary
	}
	return buf, nil
}

// wait blocks until n bytes may be read, in steps no larger than the burst.
func (b *Builder) wait(ctx context.Context, n int) error {
	if b.limiter == nil {
		return nil
	}
	burst := b.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		if err := b.limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// Add indexes paths into a separate index and merges it after the existing
// one at opts.IndexPath. Documents of the existing index that lie under the
// new roots are replaced. Without an existing index it is a plain Build.
// An interrupted Add is continued by Resume like any other build.
func (b *Builder) Add(ctx context.Context, paths []string) (*index.Index, *Report, error) {
	existing, err := index.Open(b.opts.IndexPath)
	if errors.Is(err, os.ErrNotExist) {
		return b.Build(ctx, paths)
	}
	if err != nil {
		return nil, nil, err
	}

	sub := b.addBuilder()
	pl, err := sub.begin(paths, true)
	if err != nil {
		existing.Close()
		return nil, nil, err
	}
	added, rep, err := sub.run(ctx, pl, paths, false)
	if err != nil {
		existing.Close()
		return nil, nil, err
	}
	return b.mergeAdded(ctx, existing, added, rep)
}

// addBuilder builds into a side index next to opts.IndexPath, sharing the
// scratch directory so that Resume finds an interrupted Add.
func (b *Builder) addBuilder() *Builder {
	sub := *b
	sub.opts.IndexPath = b.opts.IndexPath + ".add"
	sub.publisher = nil
	return &sub
}

// mergeAdded shadow-merges added after existing into opts.IndexPath and
// removes the side index. existing may be nil.
func (b *Builder) mergeAdded(ctx context.Context, existing, added *index.Index, rep *Report) (*index.Index, *Report, error) {
	srcs := []*index.Index{added}
	if existing != nil {
		defer existing.Close()
		srcs = []*index.Index{existing, added}
	}
	defer func() {
		added.Close()
		os.Remove(b.opts.IndexPath + ".add")
	}()

	start := time.Now()
	merged, err := index.MergeAll(b.opts.IndexPath, srcs, index.MergeOptions{Shadow: true})
	if err != nil {
		return nil, nil, fmt.Errorf("merging added paths: %w", err)
	}
	b.opts.Metrics.MergeDuration.WithLabelValues("add").Observe(time.Since(start).Seconds())
	rep.BuildID = merged.BuildID()
	rep.IndexPath = b.opts.IndexPath
	rep.Documents = merged.DocumentCount()
	rep.Trigrams = merged.TrigramCount()
	rep.Duration += time.Since(start)
	b.publishComplete(ctx, rep)
	return merged, rep, nil
}
