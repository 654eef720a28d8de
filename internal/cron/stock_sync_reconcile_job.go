package cron

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

const (
	defaultReconcileBatch    = 100
	defaultReconcileParallel = 4
)

type syncFailureLister interface {
	ListSyncFailures(ctx context.Context, after uuid.UUID, limit int) ([]models.StockRecord, error)
}

type externalSyncer interface {
	SyncToExternal(ctx context.Context, productID uuid.UUID) bool
}

type StockSyncReconcileJobParams struct {
	Logger    *logger.Logger
	Ledger    syncFailureLister
	Syncer    externalSyncer
	BatchSize int
	Parallel  int
}

// NewStockSyncReconcileJob retries every enabled product whose last push failed.
func NewStockSyncReconcileJob(params StockSyncReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("stock syncer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = defaultReconcileParallel
	}
	return &stockSyncReconcileJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		syncer:   params.Syncer,
		batch:    batch,
		parallel: parallel,
	}, nil
}

type stockSyncReconcileJob struct {
	logg     *logger.Logger
	ledger   syncFailureLister
	syncer   externalSyncer
	batch    int
	parallel int
}

func (j *stockSyncReconcileJob) Name() string { return "stock_sync_reconcile" }

// Run pages through failures by product id so records that fail again are not
// revisited within the same run.
func (j *stockSyncReconcileJob) Run(ctx context.Context) error {
	var recovered, failed int64
	after := uuid.Nil
	for {
		rows, err := j.ledger.ListSyncFailures(ctx, after, j.batch)
		if err != nil {
			return fmt.Errorf("list sync failures: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.parallel)
		for _, row := range rows {
			productID := row.ProductID
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if j.syncer.SyncToExternal(gctx, productID) {
					atomic.AddInt64(&recovered, 1)
				} else {
					atomic.AddInt64(&failed, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("stock sync reconcile: %w", err)
		}

		after = rows[len(rows)-1].ProductID
		if len(rows) < j.batch {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"recovered": recovered,
		"failed":    failed,
	}), "stock sync reconcile complete")
	return nil
}
