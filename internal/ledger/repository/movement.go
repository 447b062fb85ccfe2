package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/pkg/database"
)

// Movement is one immutable line of the movement log. Rows are only ever
// inserted; corrections are recorded as compensating movements.
type Movement struct {
	ID                 string                    `db:"id" json:"id"`
	StudyID            string                    `db:"study_id" json:"study_id"`
	StockItemID        string                    `db:"stock_item_id" json:"stock_item_id"`
	MovementType       domain.MovementType       `db:"movement_type" json:"movement_type"`
	Quantity           int                       `db:"quantity" json:"quantity"`
	QuantityBefore     int                       `db:"quantity_before" json:"quantity_before"`
	QuantityAfter      int                       `db:"quantity_after" json:"quantity_after"`
	MovementDate       time.Time                 `db:"movement_date" json:"movement_date"`
	PatientID          *string                   `db:"patient_id" json:"patient_id,omitempty"`
	VisitNumber        *string                   `db:"visit_number" json:"visit_number,omitempty"`
	ReturnReason       *string                   `db:"return_reason" json:"return_reason,omitempty"`
	ReturnDestination  *domain.ReturnDestination `db:"return_destination" json:"return_destination,omitempty"`
	DestructionMethod  *domain.DestructionMethod `db:"destruction_method" json:"destruction_method,omitempty"`
	DestructionBatchID *string                   `db:"destruction_batch_id" json:"destruction_batch_id,omitempty"`
	WitnessName        *string                   `db:"witness_name" json:"witness_name,omitempty"`
	WitnessFunction    *string                   `db:"witness_function" json:"witness_function,omitempty"`
	FromLocation       *string                   `db:"from_location" json:"from_location,omitempty"`
	ToLocation         *string                   `db:"to_location" json:"to_location,omitempty"`
	Notes              *string                   `db:"notes" json:"notes,omitempty"`
	PerformedBy        string                    `db:"performed_by" json:"performed_by"`
	PerformedByName    *string                   `db:"performed_by_name" json:"performed_by_name,omitempty"`
	CreatedAt          time.Time                 `db:"created_at" json:"created_at"`
}

// MovementFilter narrows a movement log listing.
type MovementFilter struct {
	StudyID      string
	StockItemID  *string
	MovementType *domain.MovementType
	MedicationID *string
	PatientID    *string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// MovementRepository handles the append-only movement log
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Insert appends a movement to the log. There is no update or delete.
func (r *MovementRepository) Insert(ctx context.Context, q database.Queryer, m *Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO movements (
			id, study_id, stock_item_id, movement_type, quantity,
			quantity_before, quantity_after, movement_date,
			patient_id, visit_number, return_reason, return_destination,
			destruction_method, destruction_batch_id, witness_name, witness_function,
			from_location, to_location, notes, performed_by, performed_by_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING created_at
	`

	return q.QueryRowxContext(ctx, query,
		m.ID, m.StudyID, m.StockItemID, m.MovementType, m.Quantity,
		m.QuantityBefore, m.QuantityAfter, m.MovementDate,
		m.PatientID, m.VisitNumber, m.ReturnReason, m.ReturnDestination,
		m.DestructionMethod, m.DestructionBatchID, m.WitnessName, m.WitnessFunction,
		m.FromLocation, m.ToLocation, m.Notes, m.PerformedBy, m.PerformedByName,
	).Scan(&m.CreatedAt)
}

// List returns the movements matching the filter, most recent first, plus
// the total count before pagination.
func (r *MovementRepository) List(ctx context.Context, f MovementFilter) ([]*Movement, int, error) {
	where := []string{"m.study_id = $1"}
	args := []interface{}{f.StudyID}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.StockItemID != nil {
		add("m.stock_item_id = $%d", *f.StockItemID)
	}
	if f.MovementType != nil {
		add("m.movement_type = $%d", *f.MovementType)
	}
	if f.MedicationID != nil {
		add("s.medication_id = $%d", *f.MedicationID)
	}
	if f.PatientID != nil {
		add("m.patient_id = $%d", *f.PatientID)
	}
	if f.From != nil {
		add("m.movement_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("m.movement_date <= $%d", *f.To)
	}

	base := `
		FROM movements m
		JOIN stock_items s ON s.id = m.stock_item_id
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(`
		SELECT m.* %s
		ORDER BY m.movement_date DESC, m.created_at DESC
		LIMIT $%d OFFSET $%d
	`, base, len(args)-1, len(args))

	var movements []*Movement
	if err := r.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// ListByDestructionBatch returns the destruction movements of one batch.
func (r *MovementRepository) ListByDestructionBatch(ctx context.Context, batchID string) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT * FROM movements
		WHERE destruction_batch_id = $1
		ORDER BY created_at
	`
	if err := r.db.SelectContext(ctx, &movements, query, batchID); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListByStockItem returns the full history of one lot, oldest first.
func (r *MovementRepository) ListByStockItem(ctx context.Context, stockItemID string) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT * FROM movements
		WHERE stock_item_id = $1
		ORDER BY movement_date, created_at
	`
	if err := r.db.SelectContext(ctx, &movements, query, stockItemID); err != nil {
		return nil, err
	}
	return movements, nil
}
