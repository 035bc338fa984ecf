// Package checkpoint persists build-session progress so an interrupted build
// can resume without re-reading committed documents.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

const (
	FileName      = "checkpoint.json"
	FormatVersion = 1
)

// Progress is everything a session needs to continue. Shards are file names
// relative to the store directory. The committed paths live in the path log;
// PathCount and PathLogSize mark the durable prefix of that log.
type Progress struct {
	Version     int       `json:"version"`
	BuildID     string    `json:"build_id"`
	Fingerprint string    `json:"fingerprint"`
	NextDocID   uint32    `json:"next_doc_id"`
	PathCount   int       `json:"path_count"`
	PathLogSize int64     `json:"path_log_size"`
	Shards      []string  `json:"shards"`
	Roots       []string  `json:"roots"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store reads and writes the checkpoint file in a scratch directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "checkpoint"),
	}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path() string {
	return filepath.Join(s.dir, FileName)
}

// Save atomically replaces the checkpoint with p.
func (s *Store) Save(p *Progress) error {
	if uint64(p.NextDocID) != uint64(p.PathCount) {
		return fmt.Errorf("checkpoint: next doc id %d does not match %d committed paths", p.NextDocID, p.PathCount)
	}
	p.Version = FormatVersion
	p.SavedAt = time.Now().UTC()
	if err := WriteJSON(s.path(), p); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved",
		"dir", s.dir,
		"next_doc_id", p.NextDocID,
		"shards", len(p.Shards),
	)
	return nil
}

// Load reads the checkpoint. A missing file is ErrCheckpointNotFound; an
// unreadable or inconsistent one is ErrIncompatibleCheckpoint.
func (s *Store) Load() (*Progress, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.ErrCheckpointNotFound, apperrors.ExitNotFound, "no checkpoint in %s", s.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "parsing checkpoint: %v", err)
	}
	if p.Version != FormatVersion {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "checkpoint version %d, want %d", p.Version, FormatVersion)
	}
	if uint64(p.NextDocID) != uint64(p.PathCount) {
		return nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "checkpoint next doc id %d does not match %d paths", p.NextDocID, p.PathCount)
	}
	return &p, nil
}

// Remove deletes the checkpoint file if present.
func (s *Store) Remove() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}

// VerifyShards checks that every shard named by p exists in the store
// directory.
func (s *Store) VerifyShards(p *Progress) error {
	for _, name := range p.Shards {
		if _, err := os.Stat(filepath.Join(s.dir, name)); err != nil {
			return apperrors.Newf(apperrors.ErrMissingShard, apperrors.ExitRestart, "shard %s: %v", name, err)
		}
	}
	return nil
}

// WriteJSON atomically writes v as JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	return nil
}
