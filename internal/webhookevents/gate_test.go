package webhookevents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/stockflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newGate(t *testing.T, opts ...GateOption) Gate {
	t.Helper()
	client := dbtest.Open(t, dbtest.WebhookEvents)
	g, err := NewGate(NewRepository(client.DB()), logger.Nop(), opts...)
	require.NoError(t, err)
	return g
}

func TestGetOrCreate_SecondDeliveryIsNotNew(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	first, isNew, err := g.GetOrCreate(ctx, enums.WebhookProviderStripe, "evt_1", "invoice.paid", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.False(t, first.Processed)

	second, isNew, err := g.GetOrCreate(ctx, enums.WebhookProviderStripe, "evt_1", "invoice.paid", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreate_Validation(t *testing.T) {
	g := newGate(t)

	_, _, err := g.GetOrCreate(context.Background(), enums.WebhookProviderSquare, "  ", "x", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, _, err = g.GetOrCreate(context.Background(), enums.WebhookProvider("paypal"), "evt", "x", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestProcess_RunsHandlerOnce(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	var calls int32
	delivery := Delivery{
		Provider:        enums.WebhookProviderSquare,
		ExternalEventID: "sq_evt_9",
		EventType:       "inventory.count.updated",
		Payload:         []byte(`{}`),
	}
	handle := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	outcome, err := g.Process(ctx, delivery, handle)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = g.Process(ctx, delivery, handle)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	page, err := g.ListFailed(ctx, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestProcess_HandlerFailureIsRecorded(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	delivery := Delivery{
		Provider:        enums.WebhookProviderStripe,
		ExternalEventID: "evt_fail",
		EventType:       "invoice.paid",
		Payload:         []byte(`{"id":"evt_fail"}`),
	}

	outcome, err := g.Process(ctx, delivery, func(context.Context) error {
		return errors.New("order not found")
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	page, err := g.ListFailed(ctx, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	item := page.Items[0]
	assert.True(t, item.Processed)
	require.NotNil(t, item.Success)
	assert.False(t, *item.Success)
	require.NotNil(t, item.ErrorMessage)
	assert.Equal(t, "order not found", *item.ErrorMessage)
	assert.NotNil(t, item.ProcessedAt)

	// a redelivery of a failed event is still treated as a duplicate
	outcome, err = g.Process(ctx, delivery, func(context.Context) error {
		t.Fatal("handler must not run again")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestListFailed_IncludesUnfinishedAndPaginates(t *testing.T) {
	clock := &tickingClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	g := newGate(t, WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, isNew, err := g.GetOrCreate(ctx, enums.WebhookProviderStripe, id, "invoice.paid", nil)
		require.NoError(t, err)
		require.True(t, isNew)
	}
	done, _, err := g.GetOrCreate(ctx, enums.WebhookProviderStripe, "evt_ok", "invoice.paid", nil)
	require.NoError(t, err)
	require.NoError(t, g.MarkProcessed(ctx, done.ID, true, ""))

	first, err := g.ListFailed(ctx, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "evt_c", first.Items[0].ExternalEventID)
	assert.Equal(t, "evt_b", first.Items[1].ExternalEventID)
	require.NotEmpty(t, first.NextCursor)

	second, err := g.ListFailed(ctx, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "evt_a", second.Items[0].ExternalEventID)
	assert.Empty(t, second.NextCursor)

	_, err = g.ListFailed(ctx, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
