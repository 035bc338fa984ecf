package indexer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/resilience"
)

// Publisher delivers build notifications. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// IndexCompleteEvent is published after an index has been renamed into
// place. Consumers use BuildID to invalidate state derived from older
// builds.
type IndexCompleteEvent struct {
	BuildID     string    `json:"build_id"`
	IndexPath   string    `json:"index_path"`
	Roots       []string  `json:"roots"`
	Documents   int       `json:"documents"`
	Trigrams    int       `json:"trigrams"`
	Skipped     int       `json:"skipped"`
	Partitions  int       `json:"partitions"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

func (b *Builder) publishComplete(ctx context.Context, rep *Report) {
	if b.publisher == nil {
		return
	}
	ev := IndexCompleteEvent{
		BuildID:     rep.BuildID.String(),
		IndexPath:   rep.IndexPath,
		Roots:       b.opts.Roots,
		Documents:   rep.Documents,
		Trigrams:    rep.Trigrams,
		Skipped:     rep.Skipped,
		Partitions:  rep.Partitions,
		DurationMs:  rep.Duration.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	err := resilience.Retry(ctx, "publish-index-complete", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return b.publisher.Publish(ctx, kafka.Event{Key: ev.BuildID, Value: ev})
	})
	// The index is already in place; a lost notification is not a build
	// failure.
	if err != nil {
		b.logger.Warn("index complete event not delivered", "build_id", ev.BuildID, "error", err)
	}
}
