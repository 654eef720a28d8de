package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
)

func TestOutboxRetentionPrunesDeliveredAndDeadRows(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	client := dbtest.Open(t, dbtest.OutboxEvents, dbtest.OutboxDLQ)
	published := now.Add(-40 * 24 * time.Hour)

	oldPublished := seedEvent(t, client, now.Add(-40*24*time.Hour), &published, 0)
	oldExhausted := seedEvent(t, client, now.Add(-40*24*time.Hour), nil, 3)
	oldPending := seedEvent(t, client, now.Add(-40*24*time.Hour), nil, 1)
	recentPublished := seedEvent(t, client, now.Add(-time.Hour), &published, 0)
	staleDLQ := seedDeadLetter(t, client, now.Add(-100*24*time.Hour))
	freshDLQ := seedDeadLetter(t, client, now.Add(-24*time.Hour))

	job := newRetentionJob(t, client, OutboxRetentionJobParams{
		Retention:    30 * 24 * time.Hour,
		DLQRetention: 90 * 24 * time.Hour,
		MaxAttempts:  3,
	})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for id, want := range map[uuid.UUID]bool{
		oldPublished:    false,
		oldExhausted:    false,
		oldPending:      true,
		recentPublished: true,
	} {
		if got := exists(t, client, &models.OutboxEvent{}, "id = ?", id); got != want {
			t.Fatalf("event %s: expected present=%v", id, want)
		}
	}
	if exists(t, client, &models.OutboxDLQ{}, "event_id = ?", staleDLQ) {
		t.Fatal("expected stale dead letter pruned")
	}
	if !exists(t, client, &models.OutboxDLQ{}, "event_id = ?", freshDLQ) {
		t.Fatal("expected fresh dead letter kept")
	}
}

func TestOutboxRetentionRollsBackOnFailure(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	client := dbtest.Open(t, dbtest.OutboxEvents, dbtest.OutboxDLQ)
	published := now.Add(-40 * 24 * time.Hour)
	id := seedEvent(t, client, published, &published, 0)

	job := newRetentionJob(t, client, OutboxRetentionJobParams{})
	job.deadLetters = failingPruner{}
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !exists(t, client, &models.OutboxEvent{}, "id = ?", id) {
		t.Fatal("expected event delete rolled back with the failed dlq prune")
	}
}

func TestOutboxRetentionRequiresDependencies(t *testing.T) {
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected missing db to be rejected")
	}
}

func newRetentionJob(t *testing.T, client *db.Client, p OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	p.Logger = logger.Nop()
	p.DB = client
	p.Events = outbox.NewRepository(client.DB())
	p.DeadLetters = outbox.NewDLQRepository(client.DB())
	job, err := NewOutboxRetentionJob(p)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job.(*outboxRetentionJob)
}

func seedEvent(t *testing.T, client *db.Client, created time.Time, published *time.Time, attempts int) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventStockLevelChanged,
		AggregateType: enums.AggregateStockRecord,
		AggregateID:   uuid.NewString(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     created,
		PublishedAt:   published,
		AttemptCount:  attempts,
	}
	if err := client.DB().Create(&row).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return row.ID
}

func seedDeadLetter(t *testing.T, client *db.Client, failedAt time.Time) uuid.UUID {
	t.Helper()
	eventID := uuid.New()
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return outbox.NewDLQRepository(client.DB()).InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "in_1",
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			FailedAt:      failedAt,
		})
	})
	if err != nil {
		t.Fatalf("seed dlq: %v", err)
	}
	return eventID
}

func exists(t *testing.T, client *db.Client, model any, query string, arg any) bool {
	t.Helper()
	var n int64
	if err := client.DB().Model(model).Where(query, arg).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n > 0
}

type failingPruner struct{}

func (failingPruner) DeleteBefore(context.Context, *gorm.DB, time.Time) (int64, error) {
	return 0, errors.New("dlq locked")
}
