package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// NormalizeRoots makes roots absolute and clean, checks that each exists,
// sorts them and drops any root nested inside another.
func NormalizeRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	var bad []string
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", r, err))
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", r, err))
			continue
		}
		out = append(out, abs)
	}
	if len(bad) > 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "invalid roots: %s", strings.Join(bad, "; "))
	}
	slices.Sort(out)
	out = slices.Compact(out)

	w := 0
	for _, r := range out {
		if w > 0 && within(r, out[w-1]) {
			continue
		}
		out[w] = r
		w++
	}
	return out[:w], nil
}

// within reports whether path lies inside dir.
func within(path, dir string) bool {
	if dir == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// Walk calls fn for every accepted regular file under roots, in lexical
// order within each root. Roots should come from NormalizeRoots. Entries
// that cannot be read are logged and skipped.
func Walk(ctx context.Context, roots []string, f Filter, fn func(path string) error) error {
	logger := slog.Default().With("component", "walker")
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if path == root {
					return err
				}
				logger.Warn("skipping unreadable entry", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path != root && skipName(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !f.Accept(path) {
				logger.Debug("filtered", "path", path)
				return nil
			}
			return fn(path)
		})
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return err
			}
			return fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return nil
}

// Collect returns the accepted files under roots in walk order.
func Collect(ctx context.Context, roots []string, f Filter) ([]string, error) {
	var paths []string
	err := Walk(ctx, roots, f, func(path string) error {
		paths = append(paths, path)
		return nil
	})
	return paths, err
}
