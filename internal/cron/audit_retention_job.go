package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

type mutationPruner interface {
	PruneMutations(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditRetentionJobParams struct {
	Logger    *logger.Logger
	Ledger    mutationPruner
	Retention time.Duration
}

// NewAuditRetentionJob prunes stock_mutations older than Retention. A zero
// retention keeps the audit trail forever and the job becomes a no-op.
func NewAuditRetentionJob(params AuditRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	return &auditRetentionJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		retention: params.Retention,
		now:       time.Now,
	}, nil
}

type auditRetentionJob struct {
	logg      *logger.Logger
	ledger    mutationPruner
	retention time.Duration
	now       func() time.Time
}

func (j *auditRetentionJob) Name() string { return "audit_retention" }

func (j *auditRetentionJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		j.logg.Debug(ctx, "audit retention disabled")
		return nil
	}
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.ledger.PruneMutations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "audit retention cleanup complete")
	return nil
}
