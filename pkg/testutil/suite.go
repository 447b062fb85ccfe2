package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/logger"
)

var (
	// Shared test container across all integration tests of a package
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite backed by a
// shared PostgreSQL container with the ledger schema applied.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    suite = s
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	wrappedDB, err := database.NewWithDSN(container.DSN, log)
	if err != nil {
		return nil, err
	}

	if err := applyLedgerSchema(ctx, db); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// TruncateAll empties all ledger tables between tests.
func (s *IntegrationSuite) TruncateAll(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx,
		`TRUNCATE movements, destruction_batches, stock_items CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate ledger tables: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalDB != nil {
		globalDB.Close()
	}
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// applyLedgerSchema creates the ledger tables. Kept in one place so every
// integration test package runs against the same DDL.
func applyLedgerSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE EXTENSION IF NOT EXISTS "pgcrypto";

		CREATE TABLE IF NOT EXISTS stock_items (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			study_id UUID NOT NULL,
			medication_id UUID,
			equipment_id UUID,
			batch_number VARCHAR(100) NOT NULL,
			initial_quantity INT NOT NULL DEFAULT 0,
			current_quantity INT NOT NULL DEFAULT 0,
			status VARCHAR(30) NOT NULL DEFAULT 'AVAILABLE',
			expiry_date TIMESTAMPTZ,
			manufacturing_date TIMESTAMPTZ,
			reception_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			storage_location VARCHAR(255),
			quarantine_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_non_negative CHECK (current_quantity >= 0),
			CONSTRAINT status_valid CHECK (status IN (
				'AVAILABLE', 'QUARANTINE', 'RESERVED', 'EXPIRED',
				'DESTROYED', 'RETURNED_TO_SPONSOR'
			)),
			CONSTRAINT item_ref_exactly_one CHECK (
				(medication_id IS NULL) <> (equipment_id IS NULL)
			)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS stock_items_medication_batch_uniq
			ON stock_items (study_id, medication_id, batch_number)
			WHERE medication_id IS NOT NULL
			AND status NOT IN ('DESTROYED', 'RETURNED_TO_SPONSOR');

		CREATE UNIQUE INDEX IF NOT EXISTS stock_items_equipment_batch_uniq
			ON stock_items (study_id, equipment_id, batch_number)
			WHERE equipment_id IS NOT NULL
			AND status NOT IN ('DESTROYED', 'RETURNED_TO_SPONSOR');

		CREATE TABLE IF NOT EXISTS destruction_batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			study_id UUID NOT NULL,
			batch_number VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
			method VARCHAR(30) NOT NULL,
			destruction_date TIMESTAMPTZ NOT NULL,
			destruction_location VARCHAR(255),
			witness_name VARCHAR(255),
			witness_function VARCHAR(255),
			notes TEXT,
			item_count INT NOT NULL DEFAULT 0,
			total_quantity INT NOT NULL DEFAULT 0,
			created_by UUID NOT NULL,
			created_by_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT destruction_batches_number_uniq UNIQUE (study_id, batch_number)
		);

		CREATE TABLE IF NOT EXISTS movements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			study_id UUID NOT NULL,
			stock_item_id UUID NOT NULL REFERENCES stock_items(id),
			movement_type VARCHAR(20) NOT NULL,
			quantity INT NOT NULL,
			quantity_before INT NOT NULL,
			quantity_after INT NOT NULL,
			movement_date TIMESTAMPTZ NOT NULL,
			patient_id UUID,
			visit_number VARCHAR(50),
			return_reason TEXT,
			return_destination VARCHAR(20),
			destruction_method VARCHAR(30),
			destruction_batch_id UUID REFERENCES destruction_batches(id),
			witness_name VARCHAR(255),
			witness_function VARCHAR(255),
			from_location VARCHAR(255),
			to_location VARCHAR(255),
			notes TEXT,
			performed_by UUID NOT NULL,
			performed_by_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT movement_type_valid CHECK (movement_type IN (
				'RECEPTION', 'DISPENSATION', 'RETOUR', 'DESTRUCTION', 'TRANSFER'
			))
		);

		CREATE INDEX IF NOT EXISTS movements_study_date_idx
			ON movements (study_id, movement_date DESC);
		CREATE INDEX IF NOT EXISTS movements_stock_item_idx
			ON movements (stock_item_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}
