// Package indexer builds trigram indexes: a Session accumulates one ordered
// run of documents with bounded memory and checkpoints, and a Builder drives
// partitioned sessions in parallel and merges their results.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
)

// Options configures a build.
type Options struct {
	// IndexPath is where the finished index is written.
	IndexPath string
	// ScratchDir holds shards, checkpoints and partition state. Defaults to
	// IndexPath + ".build".
	ScratchDir      string
	MemoryBudget    int64
	CheckpointEvery int
	Codec           shard.Codec
	Limits          trigram.Limits
	Roots           []string
	// BuildID is recorded in the index header. A fresh ID is generated
	// when unset.
	BuildID         uuid.UUID
	Workers         int
	ReadBytesPerSec int64
	Metrics         *metrics.Metrics
}

// OptionsFromConfig maps the build section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, indexPath string, roots []string) (Options, error) {
	codec, err := shard.ParseCodec(cfg.Build.ShardCodec)
	if err != nil {
		return Options{}, err
	}
	// The scratch directory is wiped on a fresh build, so a configured
	// location only ever hosts a per-index subdirectory.
	scratch := ""
	if cfg.Build.ScratchDir != "" {
		scratch = filepath.Join(cfg.Build.ScratchDir, filepath.Base(indexPath)+".build")
	}
	return Options{
		IndexPath:       indexPath,
		ScratchDir:      scratch,
		MemoryBudget:    cfg.Build.MemoryBudget,
		CheckpointEvery: cfg.Build.CheckpointEvery,
		Codec:           codec,
		Limits: trigram.Limits{
			MaxFileLen:  cfg.Build.MaxFileLen,
			MaxLineLen:  cfg.Build.MaxLineLen,
			MaxTrigrams: cfg.Build.MaxTrigrams,
		},
		Roots:           roots,
		Workers:         cfg.Build.Workers,
		ReadBytesPerSec: cfg.Build.ReadBytesPerSec,
	}, nil
}

func (o Options) withDefaults() (Options, error) {
	if o.IndexPath == "" {
		return o, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "index path is required")
	}
	if o.ScratchDir == "" {
		o.ScratchDir = o.IndexPath + ".build"
	}
	if o.MemoryBudget <= 0 {
		o.MemoryBudget = 64 << 20
	}
	if o.CheckpointEvery < 0 {
		o.CheckpointEvery = 0
	}
	if o.Codec == "" {
		o.Codec = shard.CodecLZ4
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Discard()
	}
	return o, nil
}

// fingerprint identifies the options that change the contents of an index.
// Memory budget, codec and checkpoint interval only change how the build
// gets there, so they are left out.
func (o Options) fingerprint() string {
	data, _ := json.Marshal(struct {
		Version uint32         `json:"version"`
		Limits  trigram.Limits `json:"limits"`
		Roots   []string       `json:"roots"`
		Index   string         `json:"index"`
	}{index.Version, o.Limits, o.Roots, filepath.Clean(o.IndexPath)})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
