package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
)

// DestructionService resolves destruction eligibility and records batch
// destructions.
type DestructionService struct {
	db           *database.DB
	stockRepo    *repository.StockItemRepository
	movementRepo *repository.MovementRepository
	batchRepo    *repository.DestructionBatchRepository
	publisher    *events.AuditPublisher
	logger       *logger.Logger
}

// NewDestructionService creates a new destruction service
func NewDestructionService(
	db *database.DB,
	stockRepo *repository.StockItemRepository,
	movementRepo *repository.MovementRepository,
	batchRepo *repository.DestructionBatchRepository,
	publisher *events.AuditPublisher,
	log *logger.Logger,
) *DestructionService {
	return &DestructionService{
		db:           db,
		stockRepo:    stockRepo,
		movementRepo: movementRepo,
		batchRepo:    batchRepo,
		publisher:    publisher,
		logger:       log,
	}
}

// ListEligible returns the destruction candidates of a study: expired lots
// first, then lots with at least one patient return. A lot qualifying both
// ways appears once, as expired.
func (s *DestructionService) ListEligible(ctx context.Context, f repository.EligibilityFilter) ([]*repository.EligibleItem, error) {
	expired, err := s.stockRepo.ListExpired(ctx, f)
	if err != nil {
		return nil, err
	}

	returned, err := s.stockRepo.ListReturnedForDestruction(ctx, f)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(expired))
	for _, item := range expired {
		seen[item.ID] = true
	}

	eligible := expired
	for _, item := range returned {
		if !seen[item.ID] {
			eligible = append(eligible, item)
		}
	}
	return eligible, nil
}

// DestructionBatchResult is the outcome of a batch destruction.
type DestructionBatchResult struct {
	Batch     *repository.DestructionBatch `json:"batch"`
	Movements []*repository.Movement       `json:"movements"`
}

// CreateBatch destroys a client-approved selection of lots in one
// transaction. Any failing line rolls back the whole batch, so a batch
// certificate never covers a destruction that did not happen.
func (s *DestructionService) CreateBatch(ctx context.Context, req domain.DestructionBatchRequest) (*DestructionBatchResult, error) {
	act := actingUser(ctx)

	destructionDate := time.Now().UTC()
	if req.DestructionDate != nil {
		destructionDate = *req.DestructionDate
	}

	var result DestructionBatchResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		count, err := s.batchRepo.CountByStudy(ctx, tx, req.StudyID)
		if err != nil {
			return err
		}

		total := 0
		for _, line := range req.Items {
			total += line.Quantity
		}

		batch := &repository.DestructionBatch{
			StudyID:             req.StudyID,
			BatchNumber:         fmt.Sprintf("DB-%04d", count+1),
			Method:              req.Method,
			DestructionDate:     destructionDate,
			DestructionLocation: req.DestructionLocation,
			WitnessName:         req.WitnessName,
			WitnessFunction:     req.WitnessFunction,
			Notes:               req.Notes,
			ItemCount:           len(req.Items),
			TotalQuantity:       total,
			CreatedBy:           act.ID,
			CreatedByName:       &act.Name,
		}
		if err := s.batchRepo.Create(ctx, tx, batch); err != nil {
			return err
		}

		movements := make([]*repository.Movement, 0, len(req.Items))
		for _, line := range req.Items {
			lineResult, err := applyDestruction(ctx, tx, s.stockRepo, s.movementRepo, act, destructionParams{
				StockItemID:     line.StockItemID,
				Quantity:        line.Quantity,
				Method:          req.Method,
				BatchID:         &batch.ID,
				WitnessName:     req.WitnessName,
				WitnessFunction: req.WitnessFunction,
				MovementDate:    destructionDate,
				Notes:           req.Notes,
			})
			if err != nil {
				return err
			}
			if lineResult.StockItem.StudyID != req.StudyID {
				return errors.BadRequest("stock item does not belong to the study")
			}
			movements = append(movements, lineResult.Movement)
		}

		result = DestructionBatchResult{Batch: batch, Movements: movements}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", result.Batch.ID).
		Str("batch_number", result.Batch.BatchNumber).
		Int("item_count", result.Batch.ItemCount).
		Int("total_quantity", result.Batch.TotalQuantity).
		Msg("destruction batch recorded")

	s.publisher.LedgerEvent(ctx, messaging.EventDestructionBatchCreated, result.Batch)
	s.publisher.AuditFact(ctx, "destruction.batch_created", "destruction_batch",
		result.Batch.ID, result.Batch.StudyID, nil, result.Batch)

	return &result, nil
}

// GetBatch returns a destruction batch with its movements.
func (s *DestructionService) GetBatch(ctx context.Context, id string) (*DestructionBatchResult, error) {
	batch, err := s.batchRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	movements, err := s.movementRepo.ListByDestructionBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	return &DestructionBatchResult{Batch: batch, Movements: movements}, nil
}

// ListBatches lists the destruction batches of a study.
func (s *DestructionService) ListBatches(ctx context.Context, studyID string) ([]*repository.DestructionBatch, error) {
	return s.batchRepo.ListByStudy(ctx, studyID)
}
