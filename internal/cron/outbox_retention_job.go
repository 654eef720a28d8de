package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultMaxAttempts     = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error)
}

type deadLetterPruner interface {
	DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Events      publishedEventPruner
	DeadLetters deadLetterPruner
	// Retention applies to published or exhausted outbox rows.
	Retention time.Duration
	// DLQRetention applies to dead letters, which operators may still need to replay.
	DLQRetention time.Duration
	MaxAttempts  int
}

// outboxRetentionJob prunes delivered outbox rows and old dead letters in one
// transaction. Unpublished rows below the attempt limit are never touched.
type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	events       publishedEventPruner
	deadLetters  deadLetterPruner
	retention    time.Duration
	dlqRetention time.Duration
	maxAttempts  int
	now          func() time.Time
}

func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Events == nil:
		return nil, errors.New("outbox repository required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository required")
	}
	return &outboxRetentionJob{
		logg:         p.Logger,
		db:           p.DB,
		events:       p.Events,
		deadLetters:  p.DeadLetters,
		retention:    positiveOr(p.Retention, defaultOutboxRetention),
		dlqRetention: positiveOr(p.DLQRetention, defaultDLQRetention),
		maxAttempts:  positiveOr(p.MaxAttempts, defaultMaxAttempts),
		now:          time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox_retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.maxAttempts); err != nil {
			return fmt.Errorf("prune outbox events: %w", err)
		}
		if deadLetters, err = j.deadLetters.DeleteBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dlq_cutoff":           dlqCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
