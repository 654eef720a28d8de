package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

const (
	resultPublished  = "published"
	resultRetry      = "retry"
	resultDeadLetter = "dead_letter"
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type brokerPinger interface {
	Ping(context.Context) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	CountPending(ctx context.Context) (int64, error)
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	Metrics    *metrics.Domain
	DB         txRunner
	Broker     brokerPinger
	Topics     topicPublishers
	Events     eventStore
	DeadLetter deadLetterStore
	Registry   eventResolver
}

// Relay drains outbox_events into Pub/Sub. Rows are locked per batch so
// several relays can run side by side.
type Relay struct {
	logg         *logger.Logger
	metrics      *metrics.Domain
	db           txRunner
	broker       brokerPinger
	topics       topicPublishers
	events       eventStore
	deadLetter   deadLetterStore
	registry     eventResolver
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case p.Topics == nil:
		return nil, errors.New("topic publishers are required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetter == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		logg:         p.Logger,
		metrics:      p.Metrics,
		db:           p.DB,
		broker:       p.Broker,
		topics:       p.Topics,
		events:       p.Events,
		deadLetter:   p.DeadLetter,
		registry:     p.Registry,
		batchSize:    p.Config.BatchSize,
		maxAttempts:  p.Config.MaxAttempts,
		pollInterval: time.Duration(p.Config.PollIntervalMS) * time.Millisecond,
		now:          time.Now,
	}
	if r.batchSize <= 0 {
		r.batchSize = fallbackBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = fallbackMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = fallbackPoll
	}
	return r, nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// the next one; errors back off exponentially up to backoffCeiling.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.broker.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	delay := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := r.drainOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			delay = min(delay*2, backoffCeiling)
		case handled > 0:
			delay = r.pollInterval
			continue
		default:
			delay = r.pollInterval
			r.reportPending(ctx)
		}

		if err := sleepCtx(ctx, withJitter(delay)); err != nil {
			return err
		}
	}
}

// drainOnce relays one batch inside a single transaction and returns how
// many rows it touched.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := r.events.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range batch {
			if err := r.relay(ctx, tx, event); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

// relay publishes a single row and records the outcome. Only bookkeeping
// failures are returned; publish failures are written back to the row.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetterRow(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err)
	}
	topic := resolved.Descriptor.Topic

	pubErr := r.publish(ctx, event, resolved)
	if pubErr == nil {
		if err := r.events.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.metrics.OutboxRelay(resultPublished)
		r.logg.Info(r.logg.WithFields(ctx, logFields(event, topic)), "outbox event published")
		return nil
	}

	var terminal registry.NonRetryableError
	if errors.As(pubErr, &terminal) {
		return r.deadLetterRow(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		return r.deadLetterRow(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	fields := logFields(event, topic)
	fields["attempt_count"] = event.AttemptCount + 1
	fields["error"] = pubErr.Error()
	r.logg.Warn(r.logg.WithFields(ctx, fields), "outbox publish failed, will retry")
	if err := r.events.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	r.metrics.OutboxRelay(resultRetry)
	return nil
}

// deadLetterRow copies the row into outbox_dlq and stops further attempts.
func (r *Relay) deadLetterRow(
	ctx context.Context,
	tx *gorm.DB,
	event models.OutboxEvent,
	topic string,
	reason enums.OutboxDLQErrorReason,
	cause error,
) error {
	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      r.now().UTC(),
	}
	if err := r.deadLetter.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}

	fields := logFields(event, topic)
	fields["error_reason"] = string(reason)
	fields["error"] = message
	r.logg.Warn(r.logg.WithFields(ctx, fields), "outbox event moved to dlq")
	r.metrics.OutboxRelay(resultDeadLetter)
	return nil
}

func (r *Relay) reportPending(ctx context.Context) {
	pending, err := r.events.CountPending(ctx)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "count pending outbox rows")
		return
	}
	r.metrics.SetOutboxPending(pending)
}

func logFields(event models.OutboxEvent, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}
