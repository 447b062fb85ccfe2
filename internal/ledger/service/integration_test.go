package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/testutil"
)

// TestLedger_EndToEnd exercises the full lot lifecycle against a real
// PostgreSQL instance: reception, dispensation, return, destruction batch.
func TestLedger_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	suite, err := testutil.NewIntegrationSuite(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { testutil.TerminateContainer(ctx) })

	stockRepo := repository.NewStockItemRepository(suite.DB)
	movementRepo := repository.NewMovementRepository(suite.DB)
	batchRepo := repository.NewDestructionBatchRepository(suite.DB)
	publisher := events.NewAuditPublisher(nil, nil, suite.Logger)

	movements := service.NewMovementService(suite.DB, stockRepo, movementRepo, publisher, suite.Logger)
	destruction := service.NewDestructionService(suite.DB, stockRepo, movementRepo, batchRepo, publisher, suite.Logger)

	actorCtx := pharmacistContext()
	med := medicationID
	now := time.Now().UTC()

	// Reception opens a lot with 30 units.
	received, err := movements.Reception(actorCtx, domain.ReceptionRequest{
		StudyID:      studyID,
		Item:         domain.ItemRef{MedicationID: &med},
		BatchNumber:  "LOT-E2E",
		Quantity:     30,
		MovementDate: now,
	})
	require.NoError(t, err)
	itemID := received.StockItem.ID
	assert.Equal(t, 30, received.StockItem.CurrentQuantity)

	// A second delivery of the same batch merges instead of duplicating.
	merged, err := movements.Reception(actorCtx, domain.ReceptionRequest{
		StudyID:      studyID,
		Item:         domain.ItemRef{MedicationID: &med},
		BatchNumber:  "LOT-E2E",
		Quantity:     10,
		MovementDate: now,
	})
	require.NoError(t, err)
	assert.Equal(t, itemID, merged.StockItem.ID)
	assert.Equal(t, 40, merged.StockItem.CurrentQuantity)

	// Dispense 5, return 3 for destruction: stock ends at 35, the returned
	// units stay off the shelf.
	dispensed, err := movements.Dispensation(actorCtx, domain.DispensationRequest{
		StockItemID:  itemID,
		Quantity:     5,
		PatientID:    patientID,
		MovementDate: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 35, dispensed.StockItem.CurrentQuantity)

	returned, err := movements.Return(actorCtx, domain.ReturnRequest{
		StockItemID:  itemID,
		Quantity:     3,
		PatientID:    patientID,
		ReturnReason: "treatment stopped",
		Destination:  domain.ReturnForDestruction,
		MovementDate: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 35, returned.StockItem.CurrentQuantity)
	assert.Equal(t, domain.StatusAvailable, returned.StockItem.Status)

	// Over-dispensing is refused and changes nothing.
	_, err = movements.Dispensation(actorCtx, domain.DispensationRequest{
		StockItemID:  itemID,
		Quantity:     100,
		PatientID:    patientID,
		MovementDate: now,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	// The lot now shows up as destruction-eligible via its patient return.
	eligible, err := destruction.ListEligible(actorCtx, repository.EligibilityFilter{StudyID: studyID})
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, itemID, eligible[0].ID)
	assert.Equal(t, "PATIENT_RETURN", eligible[0].Reason)

	// Destroy the whole lot in a batch.
	batch, err := destruction.CreateBatch(actorCtx, domain.DestructionBatchRequest{
		StudyID: studyID,
		Method:  domain.MethodIncineration,
		Items: []domain.DestructionBatchItem{
			{StockItemID: itemID, MedicationID: med, Quantity: 35},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "DB-0001", batch.Batch.BatchNumber)
	require.Len(t, batch.Movements, 1)
	assert.Equal(t, 0, batch.Movements[0].QuantityAfter)

	final, err := movements.GetStockItem(actorCtx, itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDestroyed, final.Status)
	assert.Equal(t, 0, final.CurrentQuantity)

	// Terminal lots refuse further movements.
	_, err = movements.Return(actorCtx, domain.ReturnRequest{
		StockItemID:  itemID,
		Quantity:     1,
		PatientID:    patientID,
		ReturnReason: "late return",
		Destination:  domain.ReturnToStock,
		MovementDate: now,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	// The movement log holds the full history of the lot.
	history, err := movements.StockItemHistory(actorCtx, itemID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, domain.MovementReception, history[0].MovementType)
	assert.Equal(t, domain.MovementDestruction, history[4].MovementType)
}
