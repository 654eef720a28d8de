package deadletters

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/stockflow-backend/api/responses"
	"github.com/angelmondragon/stockflow-backend/api/validators"
	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/pagination"
)

// Lister reads dead-lettered outbox rows.
type Lister interface {
	ListRecent(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
}

// Entry is the admin view of one dead-lettered event.
type Entry struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Reason        string          `json:"reason"`
	Error         *string         `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failedAt"`
	Payload       json.RawMessage `json:"payload"`
}

// List returns the newest dead letters. ?reason narrows to max_attempts or non_retryable.
func List(store Lister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reason := enums.OutboxDLQErrorReason(strings.TrimSpace(r.URL.Query().Get("reason")))
		if reason != "" && !reason.IsValid() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reason must be max_attempts or non_retryable"))
			return
		}

		rows, err := store.ListRecent(ctx, reason, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead letters"))
			return
		}
		out := make([]Entry, 0, len(rows))
		for _, row := range rows {
			out = append(out, Entry{
				EventID:       row.EventID.String(),
				EventType:     string(row.EventType),
				AggregateType: string(row.AggregateType),
				AggregateID:   row.AggregateID,
				Reason:        string(row.ErrorReason),
				Error:         row.ErrorMessage,
				Attempts:      row.AttemptCount,
				FailedAt:      row.FailedAt,
				Payload:       row.Payload,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
