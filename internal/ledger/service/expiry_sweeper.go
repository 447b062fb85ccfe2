package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
)

// ExpirySweeper periodically marks lots whose expiry date has passed as
// EXPIRED. The sweep only moves status; quantities and the movement log are
// untouched, so an expired lot still shows up as destruction-eligible with
// its full stock.
type ExpirySweeper struct {
	db        *database.DB
	stockRepo *repository.StockItemRepository
	publisher *events.AuditPublisher
	interval  time.Duration
	logger    *logger.Logger
	cancel    context.CancelFunc
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(
	db *database.DB,
	stockRepo *repository.StockItemRepository,
	publisher *events.AuditPublisher,
	interval time.Duration,
	log *logger.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{
		db:        db,
		stockRepo: stockRepo,
		publisher: publisher,
		interval:  interval,
		logger:    log,
	}
}

// Start starts the sweeper in a background goroutine. A sweep runs
// immediately, then on every tick.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry sweeper stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop stops the sweeper goroutine
func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ExpirySweeper) runSweep(ctx context.Context) {
	expired, err := s.Sweep(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if len(expired) > 0 {
		s.logger.Info().Int("expired_count", len(expired)).Msg("expiry sweep completed")
	}
}

// Sweep marks every lot past its expiry date as EXPIRED and returns the
// lots it moved. Lots in quarantine or a terminal state are left alone.
func (s *ExpirySweeper) Sweep(ctx context.Context, asOf time.Time) ([]*repository.StockItem, error) {
	var expired []*repository.StockItem

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		candidates, err := s.stockRepo.ListExpiryCandidates(ctx, tx, asOf)
		if err != nil {
			return err
		}

		for _, item := range candidates {
			status, err := item.Status.Apply(domain.EventExpire)
			if err != nil {
				s.logger.Warn().
					Str("stock_item_id", item.ID).
					Str("status", string(item.Status)).
					Msg("skipping expiry candidate in non-expirable status")
				continue
			}
			if err := s.stockRepo.UpdateQuantityStatus(ctx, tx, item.ID, item.CurrentQuantity, status); err != nil {
				return err
			}
			item.Status = status
			expired = append(expired, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, item := range expired {
		s.publisher.LedgerEvent(ctx, messaging.EventStockItemExpired, item)
		s.publisher.AuditFact(ctx, "stock_item.expired", "stock_item", item.ID, item.StudyID,
			nil, map[string]string{"status": string(item.Status)})
	}
	return expired, nil
}
