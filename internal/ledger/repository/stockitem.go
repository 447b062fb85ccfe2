package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
)

// StockItem is one physical lot of a medication or piece of equipment held
// by the pharmacy for a study. CurrentQuantity is the single source of truth
// for how many units are on hand.
type StockItem struct {
	ID                string        `db:"id" json:"id"`
	StudyID           string        `db:"study_id" json:"study_id"`
	MedicationID      *string       `db:"medication_id" json:"medication_id,omitempty"`
	EquipmentID       *string       `db:"equipment_id" json:"equipment_id,omitempty"`
	BatchNumber       string        `db:"batch_number" json:"batch_number"`
	InitialQuantity   int           `db:"initial_quantity" json:"initial_quantity"`
	CurrentQuantity   int           `db:"current_quantity" json:"current_quantity"`
	Status            domain.Status `db:"status" json:"status"`
	ExpiryDate        *time.Time    `db:"expiry_date" json:"expiry_date,omitempty"`
	ManufacturingDate *time.Time    `db:"manufacturing_date" json:"manufacturing_date,omitempty"`
	ReceptionDate     time.Time     `db:"reception_date" json:"reception_date"`
	StorageLocation   *string       `db:"storage_location" json:"storage_location,omitempty"`
	QuarantineReason  *string       `db:"quarantine_reason" json:"quarantine_reason,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// EligibleItem is a destruction candidate: a stock item annotated with why
// it qualifies and, for patient returns, who returned it last.
type EligibleItem struct {
	StockItem
	Reason          string     `db:"reason" json:"reason"`
	ReturnedBy      *string    `db:"returned_by" json:"returned_by,omitempty"`
	ReturnedAtVisit *string    `db:"returned_at_visit" json:"returned_at_visit,omitempty"`
	ReturnedOn      *time.Time `db:"returned_on" json:"returned_on,omitempty"`
}

// StockItemRepository handles stock item persistence
type StockItemRepository struct {
	db *database.DB
}

// NewStockItemRepository creates a new stock item repository
func NewStockItemRepository(db *database.DB) *StockItemRepository {
	return &StockItemRepository{db: db}
}

// Create inserts a new stock item
func (r *StockItemRepository) Create(ctx context.Context, q database.Queryer, item *StockItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = domain.StatusAvailable
	}

	query := `
		INSERT INTO stock_items (
			id, study_id, medication_id, equipment_id, batch_number,
			initial_quantity, current_quantity, status, expiry_date,
			manufacturing_date, reception_date, storage_location
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return q.QueryRowxContext(ctx, query,
		item.ID, item.StudyID, item.MedicationID, item.EquipmentID, item.BatchNumber,
		item.InitialQuantity, item.CurrentQuantity, item.Status, item.ExpiryDate,
		item.ManufacturingDate, item.ReceptionDate, item.StorageLocation,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

// AddReceivedQuantity merges a delivery into an existing lot. Both the
// initial and the current quantity grow, so consumption percentages stay
// meaningful after a top-up.
func (r *StockItemRepository) AddReceivedQuantity(ctx context.Context, q database.Queryer, id string, quantity int) error {
	query := `
		UPDATE stock_items
		SET initial_quantity = initial_quantity + $2,
			current_quantity = current_quantity + $2,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, id, quantity)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock item")
	}

	return nil
}

// UpdateStatus writes back status and quarantine reason after a pure status
// transition. The reason is cleared unless the item is entering quarantine.
func (r *StockItemRepository) UpdateStatus(ctx context.Context, q database.Queryer, id string, status domain.Status, quarantineReason *string) error {
	query := `
		UPDATE stock_items
		SET status = $2, quarantine_reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, id, status, quarantineReason)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock item")
	}

	return nil
}

// GetByID gets a stock item by ID
func (r *StockItemRepository) GetByID(ctx context.Context, id string) (*StockItem, error) {
	var item StockItem
	query := `SELECT * FROM stock_items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock item")
		}
		return nil, err
	}
	return &item, nil
}

// GetForUpdate gets a stock item by ID with a row lock. Must run inside a
// transaction.
func (r *StockItemRepository) GetForUpdate(ctx context.Context, q database.Queryer, id string) (*StockItem, error) {
	var item StockItem
	query := `SELECT * FROM stock_items WHERE id = $1 FOR UPDATE`
	if err := q.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock item")
		}
		return nil, err
	}
	return &item, nil
}

// FindByBatchForUpdate locks and returns the non-terminal stock item of the
// given study, item and batch number, or NotFound when no such lot exists
// yet. Must run inside a transaction.
func (r *StockItemRepository) FindByBatchForUpdate(ctx context.Context, q database.Queryer, studyID string, item domain.ItemRef, batchNumber string) (*StockItem, error) {
	var si StockItem
	query := `
		SELECT * FROM stock_items
		WHERE study_id = $1 AND batch_number = $2
		AND status NOT IN ('DESTROYED', 'RETURNED_TO_SPONSOR')
	`
	args := []interface{}{studyID, batchNumber}
	if item.MedicationID != nil {
		query += ` AND medication_id = $3`
		args = append(args, *item.MedicationID)
	} else {
		query += ` AND equipment_id = $3`
		args = append(args, *item.EquipmentID)
	}
	query += ` FOR UPDATE`

	if err := q.GetContext(ctx, &si, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock item")
		}
		return nil, err
	}
	return &si, nil
}

// UpdateQuantityStatus writes back quantity and status after a movement.
func (r *StockItemRepository) UpdateQuantityStatus(ctx context.Context, q database.Queryer, id string, quantity int, status domain.Status) error {
	query := `
		UPDATE stock_items
		SET current_quantity = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, id, quantity, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock item")
	}

	return nil
}

// UpdateLocation moves a stock item to a new storage location.
func (r *StockItemRepository) UpdateLocation(ctx context.Context, q database.Queryer, id string, location string) error {
	query := `
		UPDATE stock_items
		SET storage_location = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, id, location)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock item")
	}

	return nil
}

// ListByStudy lists the stock items of a study, non-terminal lots first.
func (r *StockItemRepository) ListByStudy(ctx context.Context, studyID string) ([]*StockItem, error) {
	var items []*StockItem
	query := `
		SELECT * FROM stock_items
		WHERE study_id = $1
		ORDER BY status IN ('DESTROYED', 'RETURNED_TO_SPONSOR'), batch_number, id
	`
	if err := r.db.SelectContext(ctx, &items, query, studyID); err != nil {
		return nil, err
	}
	return items, nil
}

// EligibilityFilter narrows the destruction candidate queries. Only
// medication-backed lots are ever eligible.
type EligibilityFilter struct {
	StudyID      string
	MedicationID *string
	BatchNumber  *string
}

func (f EligibilityFilter) clauses() (string, []interface{}) {
	where := ""
	args := []interface{}{f.StudyID}
	if f.MedicationID != nil {
		args = append(args, *f.MedicationID)
		where += fmt.Sprintf(" AND s.medication_id = $%d", len(args))
	}
	if f.BatchNumber != nil {
		args = append(args, *f.BatchNumber)
		where += fmt.Sprintf(" AND s.batch_number = $%d", len(args))
	}
	return where, args
}

// ListExpired returns the expired stock items of a study that still hold
// units, oldest expiry first. A lot counts as expired by status or by a
// passed expiry date, so lots the sweeper has not visited yet still show up.
func (r *StockItemRepository) ListExpired(ctx context.Context, f EligibilityFilter) ([]*EligibleItem, error) {
	var items []*EligibleItem
	extra, args := f.clauses()
	query := `
		SELECT s.*, 'EXPIRED' AS reason
		FROM stock_items s
		WHERE s.study_id = $1 AND s.medication_id IS NOT NULL
		AND s.current_quantity > 0
		AND s.status NOT IN ('DESTROYED', 'RETURNED_TO_SPONSOR')
		AND (s.status = 'EXPIRED' OR (s.expiry_date IS NOT NULL AND s.expiry_date < NOW()))` + extra + `
		ORDER BY s.expiry_date, s.batch_number, s.id
	`
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// ListReturnedForDestruction returns the stock items of a study with at
// least one patient return recorded against them, annotated with the most
// recent return.
func (r *StockItemRepository) ListReturnedForDestruction(ctx context.Context, f EligibilityFilter) ([]*EligibleItem, error) {
	var items []*EligibleItem
	extra, args := f.clauses()
	query := `
		SELECT s.*, 'PATIENT_RETURN' AS reason,
			m.patient_id AS returned_by,
			m.visit_number AS returned_at_visit,
			m.movement_date AS returned_on
		FROM stock_items s
		JOIN LATERAL (
			SELECT patient_id, visit_number, movement_date
			FROM movements
			WHERE stock_item_id = s.id AND movement_type = 'RETOUR'
			ORDER BY movement_date DESC, created_at DESC
			LIMIT 1
		) m ON true
		WHERE s.study_id = $1 AND s.medication_id IS NOT NULL
		AND s.current_quantity > 0
		AND s.status NOT IN ('DESTROYED', 'RETURNED_TO_SPONSOR')` + extra + `
		ORDER BY s.batch_number, s.id
	`
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// ListExpiryCandidates locks and returns the stock items whose expiry date
// has passed but whose status does not say so yet. Must run inside a
// transaction.
func (r *StockItemRepository) ListExpiryCandidates(ctx context.Context, q database.Queryer, asOf time.Time) ([]*StockItem, error) {
	var items []*StockItem
	query := `
		SELECT * FROM stock_items
		WHERE expiry_date IS NOT NULL AND expiry_date < $1
		AND status IN ('AVAILABLE', 'RESERVED')
		ORDER BY id
		FOR UPDATE
	`
	if err := q.SelectContext(ctx, &items, query, asOf); err != nil {
		return nil, err
	}
	return items, nil
}
