// Package service implements the ledger business logic. Every stock
// mutation runs as a single transaction: lock the stock item row, validate
// against the current state, write the new quantity and status, append the
// movement. The movement log and the stock item can therefore never
// disagree.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/pkg/actor"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
)

// MovementService records stock movements
type MovementService struct {
	db           *database.DB
	stockRepo    *repository.StockItemRepository
	movementRepo *repository.MovementRepository
	publisher    *events.AuditPublisher
	logger       *logger.Logger
}

// NewMovementService creates a new movement service
func NewMovementService(
	db *database.DB,
	stockRepo *repository.StockItemRepository,
	movementRepo *repository.MovementRepository,
	publisher *events.AuditPublisher,
	log *logger.Logger,
) *MovementService {
	return &MovementService{
		db:           db,
		stockRepo:    stockRepo,
		movementRepo: movementRepo,
		publisher:    publisher,
		logger:       log,
	}
}

// MovementResult is the outcome of a recorded movement: the appended log
// line and the stock item as it stands after the movement.
type MovementResult struct {
	Movement  *repository.Movement  `json:"movement"`
	StockItem *repository.StockItem `json:"stock_item"`
}

func actingUser(ctx context.Context) *actor.Actor {
	if act := actor.FromContext(ctx); act != nil {
		return act
	}
	return actor.SystemActor()
}

// Reception records a physical delivery. Deliveries of a batch already on
// the shelf merge into the existing lot; a new batch opens a new lot.
func (s *MovementService) Reception(ctx context.Context, req domain.ReceptionRequest) (*MovementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	act := actingUser(ctx)
	var result MovementResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var before int
		item, err := s.stockRepo.FindByBatchForUpdate(ctx, tx, req.StudyID, req.Item, req.BatchNumber)
		switch {
		case err == nil:
			before = item.CurrentQuantity
			if err := s.stockRepo.AddReceivedQuantity(ctx, tx, item.ID, req.Quantity); err != nil {
				return err
			}
			item.InitialQuantity += req.Quantity
			item.CurrentQuantity += req.Quantity
		case errors.Is(err, errors.ErrNotFound):
			item = &repository.StockItem{
				StudyID:           req.StudyID,
				MedicationID:      req.Item.MedicationID,
				EquipmentID:       req.Item.EquipmentID,
				BatchNumber:       req.BatchNumber,
				InitialQuantity:   req.Quantity,
				CurrentQuantity:   req.Quantity,
				Status:            domain.StatusAvailable,
				ExpiryDate:        req.ExpiryDate,
				ManufacturingDate: req.ManufacturingDate,
				ReceptionDate:     req.MovementDate,
				StorageLocation:   req.StorageLocation,
			}
			if err := s.stockRepo.Create(ctx, tx, item); err != nil {
				return err
			}
		default:
			return err
		}

		after := before + req.Quantity

		movement := &repository.Movement{
			StudyID:         req.StudyID,
			StockItemID:     item.ID,
			MovementType:    domain.MovementReception,
			Quantity:        req.Quantity,
			QuantityBefore:  before,
			QuantityAfter:   after,
			MovementDate:    req.MovementDate,
			Notes:           req.Notes,
			PerformedBy:     act.ID,
			PerformedByName: &act.Name,
		}
		if err := s.movementRepo.Insert(ctx, tx, movement); err != nil {
			return err
		}

		result = MovementResult{Movement: movement, StockItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, &result)
	return &result, nil
}

// Dispensation hands units to a patient. Only AVAILABLE lots dispense, and
// a lot past its expiry date never does, whatever its recorded status.
func (s *MovementService) Dispensation(ctx context.Context, req domain.DispensationRequest) (*MovementResult, error) {
	act := actingUser(ctx)
	var result MovementResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		item, err := s.stockRepo.GetForUpdate(ctx, tx, req.StockItemID)
		if err != nil {
			return err
		}

		if !item.Status.Dispensable() {
			return errors.InvalidState(string(domain.MovementDispensation), string(item.Status))
		}
		// The sweep marks lots EXPIRED asynchronously. A lot whose expiry
		// date has passed but that the sweep has not visited yet must still
		// be refused.
		if item.ExpiryDate != nil && item.ExpiryDate.Before(req.MovementDate) {
			return errors.InvalidState(string(domain.MovementDispensation), string(domain.StatusExpired))
		}
		if req.Quantity > item.CurrentQuantity {
			return errors.InsufficientStock(item.CurrentQuantity, req.Quantity)
		}

		before := item.CurrentQuantity
		after := before - req.Quantity
		if err := s.stockRepo.UpdateQuantityStatus(ctx, tx, item.ID, after, item.Status); err != nil {
			return err
		}
		item.CurrentQuantity = after

		movement := &repository.Movement{
			StudyID:         item.StudyID,
			StockItemID:     item.ID,
			MovementType:    domain.MovementDispensation,
			Quantity:        req.Quantity,
			QuantityBefore:  before,
			QuantityAfter:   after,
			MovementDate:    req.MovementDate,
			PatientID:       &req.PatientID,
			VisitNumber:     req.VisitNumber,
			Notes:           req.Notes,
			PerformedBy:     act.ID,
			PerformedByName: &act.Name,
		}
		if err := s.movementRepo.Insert(ctx, tx, movement); err != nil {
			return err
		}

		result = MovementResult{Movement: movement, StockItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, &result)
	return &result, nil
}

// Return records units coming back from a patient. The destination decides
// whether stock grows and where the lot's status goes: back to stock, into
// quarantine, earmarked for destruction, or returned to the sponsor.
func (s *MovementService) Return(ctx context.Context, req domain.ReturnRequest) (*MovementResult, error) {
	act := actingUser(ctx)
	var result MovementResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		item, err := s.stockRepo.GetForUpdate(ctx, tx, req.StockItemID)
		if err != nil {
			return err
		}

		if item.Status.Terminal() {
			return errors.InvalidState(string(domain.MovementRetour), string(item.Status))
		}

		before := item.CurrentQuantity
		after := before + req.Destination.QuantityDelta(req.Quantity)

		status := item.Status
		if event := req.Destination.StatusEvent(); event != "" {
			status, err = item.Status.Apply(event)
			if err != nil {
				return err
			}
		}

		if err := s.stockRepo.UpdateQuantityStatus(ctx, tx, item.ID, after, status); err != nil {
			return err
		}
		item.CurrentQuantity = after
		item.Status = status

		dest := req.Destination
		movement := &repository.Movement{
			StudyID:           item.StudyID,
			StockItemID:       item.ID,
			MovementType:      domain.MovementRetour,
			Quantity:          req.Quantity,
			QuantityBefore:    before,
			QuantityAfter:     after,
			MovementDate:      req.MovementDate,
			PatientID:         &req.PatientID,
			VisitNumber:       req.VisitNumber,
			ReturnReason:      &req.ReturnReason,
			ReturnDestination: &dest,
			Notes:             req.Notes,
			PerformedBy:       act.ID,
			PerformedByName:   &act.Name,
		}
		if err := s.movementRepo.Insert(ctx, tx, movement); err != nil {
			return err
		}

		result = MovementResult{Movement: movement, StockItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, &result)
	return &result, nil
}

// destructionParams carries one lot's share of a destruction, either a
// single-lot destruction or one line of a batch.
type destructionParams struct {
	StockItemID     string
	Quantity        int
	Method          domain.DestructionMethod
	BatchID         *string
	WitnessName     *string
	WitnessFunction *string
	MovementDate    time.Time
	Notes           *string
}

// applyDestruction destroys units of one locked lot inside an open
// transaction. Destroying the last unit moves the lot to DESTROYED.
func applyDestruction(
	ctx context.Context,
	tx *sqlx.Tx,
	stockRepo *repository.StockItemRepository,
	movementRepo *repository.MovementRepository,
	act *actor.Actor,
	p destructionParams,
) (*MovementResult, error) {
	item, err := stockRepo.GetForUpdate(ctx, tx, p.StockItemID)
	if err != nil {
		return nil, err
	}

	if item.Status.Terminal() {
		return nil, errors.InvalidState(string(domain.MovementDestruction), string(item.Status))
	}
	if p.Quantity > item.CurrentQuantity {
		return nil, errors.InsufficientStock(item.CurrentQuantity, p.Quantity)
	}

	before := item.CurrentQuantity
	after := before - p.Quantity

	status := item.Status
	if after == 0 {
		status, err = item.Status.Apply(domain.EventDestroyedToZero)
		if err != nil {
			return nil, err
		}
	}

	if err := stockRepo.UpdateQuantityStatus(ctx, tx, item.ID, after, status); err != nil {
		return nil, err
	}
	item.CurrentQuantity = after
	item.Status = status

	method := p.Method
	movement := &repository.Movement{
		StudyID:            item.StudyID,
		StockItemID:        item.ID,
		MovementType:       domain.MovementDestruction,
		Quantity:           p.Quantity,
		QuantityBefore:     before,
		QuantityAfter:      after,
		MovementDate:       p.MovementDate,
		DestructionMethod:  &method,
		DestructionBatchID: p.BatchID,
		WitnessName:        p.WitnessName,
		WitnessFunction:    p.WitnessFunction,
		Notes:              p.Notes,
		PerformedBy:        act.ID,
		PerformedByName:    &act.Name,
	}
	if err := movementRepo.Insert(ctx, tx, movement); err != nil {
		return nil, err
	}

	return &MovementResult{Movement: movement, StockItem: item}, nil
}

// Destruction destroys units of a single lot.
func (s *MovementService) Destruction(ctx context.Context, req domain.DestructionRequest) (*MovementResult, error) {
	act := actingUser(ctx)
	var result *MovementResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = applyDestruction(ctx, tx, s.stockRepo, s.movementRepo, act, destructionParams{
			StockItemID:     req.StockItemID,
			Quantity:        req.Quantity,
			Method:          req.Method,
			WitnessName:     req.WitnessName,
			WitnessFunction: req.WitnessFunction,
			MovementDate:    req.MovementDate,
			Notes:           req.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, result)
	return result, nil
}

// Transfer relocates units between storage locations. Stock and status are
// untouched; only the location and the log change.
func (s *MovementService) Transfer(ctx context.Context, req domain.TransferRequest) (*MovementResult, error) {
	act := actingUser(ctx)
	var result MovementResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		item, err := s.stockRepo.GetForUpdate(ctx, tx, req.StockItemID)
		if err != nil {
			return err
		}

		if item.Status.Terminal() {
			return errors.InvalidState(string(domain.MovementTransfer), string(item.Status))
		}
		if req.Quantity > item.CurrentQuantity {
			return errors.InsufficientStock(item.CurrentQuantity, req.Quantity)
		}

		if err := s.stockRepo.UpdateLocation(ctx, tx, item.ID, req.ToLocation); err != nil {
			return err
		}
		item.StorageLocation = &req.ToLocation

		from := req.FromLocation
		to := req.ToLocation
		movement := &repository.Movement{
			StudyID:         item.StudyID,
			StockItemID:     item.ID,
			MovementType:    domain.MovementTransfer,
			Quantity:        req.Quantity,
			QuantityBefore:  item.CurrentQuantity,
			QuantityAfter:   item.CurrentQuantity,
			MovementDate:    req.MovementDate,
			FromLocation:    &from,
			ToLocation:      &to,
			Notes:           req.Notes,
			PerformedBy:     act.ID,
			PerformedByName: &act.Name,
		}
		if err := s.movementRepo.Insert(ctx, tx, movement); err != nil {
			return err
		}

		result = MovementResult{Movement: movement, StockItem: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMovement(ctx, &result)
	return &result, nil
}

// Quarantine places a lot in quarantine pending an investigation.
func (s *MovementService) Quarantine(ctx context.Context, stockItemID string, reason string) (*repository.StockItem, error) {
	item, err := s.applyStatusEvent(ctx, stockItemID, domain.EventQuarantine, &reason)
	if err != nil {
		return nil, err
	}

	s.publisher.LedgerEvent(ctx, messaging.EventStockItemQuarantined, item)
	s.publisher.AuditFact(ctx, "stock_item.quarantined", "stock_item", item.ID, item.StudyID,
		nil, map[string]string{"reason": reason, "status": string(item.Status)})
	return item, nil
}

// Release releases a quarantined lot back to available stock.
func (s *MovementService) Release(ctx context.Context, stockItemID string) (*repository.StockItem, error) {
	item, err := s.applyStatusEvent(ctx, stockItemID, domain.EventRelease, nil)
	if err != nil {
		return nil, err
	}

	s.publisher.LedgerEvent(ctx, messaging.EventStockItemReleased, item)
	s.publisher.AuditFact(ctx, "stock_item.released", "stock_item", item.ID, item.StudyID,
		nil, map[string]string{"status": string(item.Status)})
	return item, nil
}

// applyStatusEvent runs a pure status transition on a locked lot.
func (s *MovementService) applyStatusEvent(ctx context.Context, stockItemID string, event domain.StatusEvent, quarantineReason *string) (*repository.StockItem, error) {
	var result *repository.StockItem

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		item, err := s.stockRepo.GetForUpdate(ctx, tx, stockItemID)
		if err != nil {
			return err
		}

		status, err := item.Status.Apply(event)
		if err != nil {
			return err
		}

		if err := s.stockRepo.UpdateStatus(ctx, tx, item.ID, status, quarantineReason); err != nil {
			return err
		}
		item.Status = status
		item.QuarantineReason = quarantineReason
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetStockItem returns a stock item by ID.
func (s *MovementService) GetStockItem(ctx context.Context, id string) (*repository.StockItem, error) {
	return s.stockRepo.GetByID(ctx, id)
}

// ListStockItems lists the stock items of a study.
func (s *MovementService) ListStockItems(ctx context.Context, studyID string) ([]*repository.StockItem, error) {
	return s.stockRepo.ListByStudy(ctx, studyID)
}

// ListMovements lists movements matching the filter.
func (s *MovementService) ListMovements(ctx context.Context, f repository.MovementFilter) ([]*repository.Movement, int, error) {
	return s.movementRepo.List(ctx, f)
}

// StockItemHistory returns the full movement history of one lot.
func (s *MovementService) StockItemHistory(ctx context.Context, stockItemID string) ([]*repository.Movement, error) {
	if _, err := s.stockRepo.GetByID(ctx, stockItemID); err != nil {
		return nil, err
	}
	return s.movementRepo.ListByStockItem(ctx, stockItemID)
}

// afterMovement emits the post-commit events for a recorded movement.
func (s *MovementService) afterMovement(ctx context.Context, result *MovementResult) {
	s.logger.Info().
		Str("movement_id", result.Movement.ID).
		Str("movement_type", string(result.Movement.MovementType)).
		Str("stock_item_id", result.StockItem.ID).
		Int("quantity_after", result.Movement.QuantityAfter).
		Msg("movement recorded")

	s.publisher.LedgerEvent(ctx, messaging.EventMovementRecorded, result.Movement)
	s.publisher.AuditFact(ctx,
		"movement."+string(result.Movement.MovementType),
		"movement", result.Movement.ID, result.Movement.StudyID,
		map[string]int{"quantity": result.Movement.QuantityBefore},
		result.Movement,
	)
}
