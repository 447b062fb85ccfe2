package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
)

// BatchStatusDraft is the lifecycle status of a freshly recorded batch.
// Certificate signing by the sponsor moves a batch further, which lives
// outside this service.
const BatchStatusDraft = "DRAFT"

// DestructionBatch groups the destruction movements recorded together in one
// approved destruction session.
type DestructionBatch struct {
	ID                  string                   `db:"id" json:"id"`
	StudyID             string                   `db:"study_id" json:"study_id"`
	BatchNumber         string                   `db:"batch_number" json:"batch_number"`
	Status              string                   `db:"status" json:"status"`
	Method              domain.DestructionMethod `db:"method" json:"method"`
	DestructionDate     time.Time                `db:"destruction_date" json:"destruction_date"`
	DestructionLocation *string                  `db:"destruction_location" json:"destruction_location,omitempty"`
	WitnessName         *string                  `db:"witness_name" json:"witness_name,omitempty"`
	WitnessFunction     *string                  `db:"witness_function" json:"witness_function,omitempty"`
	Notes               *string                  `db:"notes" json:"notes,omitempty"`
	ItemCount           int                      `db:"item_count" json:"item_count"`
	TotalQuantity       int                      `db:"total_quantity" json:"total_quantity"`
	CreatedBy           string                   `db:"created_by" json:"created_by"`
	CreatedByName       *string                  `db:"created_by_name" json:"created_by_name,omitempty"`
	CreatedAt           time.Time                `db:"created_at" json:"created_at"`
}

// DestructionBatchRepository handles destruction batch persistence
type DestructionBatchRepository struct {
	db *database.DB
}

// NewDestructionBatchRepository creates a new destruction batch repository
func NewDestructionBatchRepository(db *database.DB) *DestructionBatchRepository {
	return &DestructionBatchRepository{db: db}
}

// CountByStudy counts the destruction batches of a study. Used for batch
// numbering, so it must run inside the same transaction as Create.
func (r *DestructionBatchRepository) CountByStudy(ctx context.Context, q database.Queryer, studyID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM destruction_batches WHERE study_id = $1`
	if err := q.GetContext(ctx, &count, query, studyID); err != nil {
		return 0, err
	}
	return count, nil
}

// Create inserts a destruction batch
func (r *DestructionBatchRepository) Create(ctx context.Context, q database.Queryer, batch *DestructionBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusDraft
	}

	query := `
		INSERT INTO destruction_batches (
			id, study_id, batch_number, status, method, destruction_date,
			destruction_location, witness_name, witness_function, notes,
			item_count, total_quantity, created_by, created_by_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`

	return q.QueryRowxContext(ctx, query,
		batch.ID, batch.StudyID, batch.BatchNumber, batch.Status, batch.Method,
		batch.DestructionDate, batch.DestructionLocation, batch.WitnessName,
		batch.WitnessFunction, batch.Notes, batch.ItemCount, batch.TotalQuantity,
		batch.CreatedBy, batch.CreatedByName,
	).Scan(&batch.CreatedAt)
}

// GetByID gets a destruction batch by ID
func (r *DestructionBatchRepository) GetByID(ctx context.Context, id string) (*DestructionBatch, error) {
	var batch DestructionBatch
	query := `SELECT * FROM destruction_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("destruction batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByStudy lists the destruction batches of a study, most recent first
func (r *DestructionBatchRepository) ListByStudy(ctx context.Context, studyID string) ([]*DestructionBatch, error) {
	var batches []*DestructionBatch
	query := `
		SELECT * FROM destruction_batches
		WHERE study_id = $1
		ORDER BY destruction_date DESC, created_at DESC
	`
	if err := r.db.SelectContext(ctx, &batches, query, studyID); err != nil {
		return nil, err
	}
	return batches, nil
}
