package service_test

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
	"github.com/trialstock/trialstock-backend/pkg/testutil"
)

const secondStockItemID = "66666666-6666-6666-6666-666666666666"

type destructionFixture struct {
	mockDB    *testutil.MockDB
	svc       *service.DestructionService
	ledgerPub *testutil.MockPublisher
	auditPub  *testutil.MockPublisher
}

func newDestructionFixture(t *testing.T) *destructionFixture {
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.FromSqlx(mockDB.DB, log)

	ledgerPub := testutil.NewMockPublisher()
	auditPub := testutil.NewMockPublisher()
	publisher := events.NewAuditPublisher(ledgerPub, auditPub, log)

	svc := service.NewDestructionService(
		db,
		repository.NewStockItemRepository(db),
		repository.NewMovementRepository(db),
		repository.NewDestructionBatchRepository(db),
		publisher,
		log,
	)

	return &destructionFixture{mockDB: mockDB, svc: svc, ledgerPub: ledgerPub, auditPub: auditPub}
}

func eligibleColumns() []string {
	return append(testutil.StockItemColumns(), "reason")
}

func returnedColumns() []string {
	return append(eligibleColumns(), "returned_by", "returned_at_visit", "returned_on")
}

func TestDestructionService_ListEligible_ExpiredFirstAndDeduplicated(t *testing.T) {
	f := newDestructionFixture(t)

	now := time.Now()
	med := medicationID
	expiry := now.AddDate(0, -1, 0)

	// stockItemID is both expired and has a patient return; it must appear
	// once, as expired.
	expiredRows := testutil.MockRows(eligibleColumns()...).
		AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 12, "EXPIRED",
			&expiry, nil, now, nil, nil, now, now, "EXPIRED")

	patient := patientID
	visit := "C1D8"
	returnedRows := testutil.MockRows(returnedColumns()...).
		AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 12, "EXPIRED",
			&expiry, nil, now, nil, nil, now, now, "PATIENT_RETURN", &patient, &visit, &now).
		AddRow(secondStockItemID, studyID, &med, nil, "LOT-002", 25, 25, "AVAILABLE",
			nil, nil, now, nil, nil, now, now, "PATIENT_RETURN", &patient, &visit, &now)

	f.mockDB.Mock.ExpectQuery("SELECT s\\.\\*, 'EXPIRED' AS reason").
		WithArgs(studyID).
		WillReturnRows(expiredRows)
	f.mockDB.Mock.ExpectQuery("SELECT s\\.\\*, 'PATIENT_RETURN' AS reason").
		WithArgs(studyID).
		WillReturnRows(returnedRows)

	eligible, err := f.svc.ListEligible(pharmacistContext(), repository.EligibilityFilter{StudyID: studyID})
	require.NoError(t, err)
	require.Len(t, eligible, 2)

	assert.Equal(t, stockItemID, eligible[0].ID)
	assert.Equal(t, "EXPIRED", eligible[0].Reason)

	assert.Equal(t, secondStockItemID, eligible[1].ID)
	assert.Equal(t, "PATIENT_RETURN", eligible[1].Reason)
	require.NotNil(t, eligible[1].ReturnedAtVisit)
	assert.Equal(t, "C1D8", *eligible[1].ReturnedAtVisit)

	f.mockDB.ExpectationsWereMet(t)
}

func TestDestructionService_ListEligible_DateExpiredLotTaggedExpired(t *testing.T) {
	f := newDestructionFixture(t)

	now := time.Now()
	med := medicationID
	expiry := now.AddDate(0, 0, -3)

	// The lot is still AVAILABLE because the sweep has not run, but its
	// expiry date has passed and it holds a patient return. The expired set
	// must pick it up, and the expired tag wins over the return.
	expiredRows := testutil.MockRows(eligibleColumns()...).
		AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 7, "AVAILABLE",
			&expiry, nil, now, nil, nil, now, now, "EXPIRED")

	patient := patientID
	visit := "C2D1"
	returnedRows := testutil.MockRows(returnedColumns()...).
		AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 7, "AVAILABLE",
			&expiry, nil, now, nil, nil, now, now, "PATIENT_RETURN", &patient, &visit, &now)

	f.mockDB.Mock.ExpectQuery(`(?s)'EXPIRED' AS reason.*s\.expiry_date < NOW\(\)`).
		WithArgs(studyID).
		WillReturnRows(expiredRows)
	f.mockDB.Mock.ExpectQuery("SELECT s\\.\\*, 'PATIENT_RETURN' AS reason").
		WithArgs(studyID).
		WillReturnRows(returnedRows)

	eligible, err := f.svc.ListEligible(pharmacistContext(), repository.EligibilityFilter{StudyID: studyID})
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, stockItemID, eligible[0].ID)
	assert.Equal(t, "EXPIRED", eligible[0].Reason)

	f.mockDB.ExpectationsWereMet(t)
}

func TestDestructionService_CreateBatch(t *testing.T) {
	f := newDestructionFixture(t)

	now := time.Now()
	med := medicationID
	expiry := now.AddDate(0, -1, 0)

	f.mockDB.ExpectBegin()
	f.mockDB.Mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM destruction_batches").
		WithArgs(studyID).
		WillReturnRows(testutil.MockRows("count").AddRow(2))
	f.mockDB.ExpectQuery("INSERT INTO destruction_batches").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	// First lot destroyed to zero
	f.mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1 FOR UPDATE").
		WithArgs(stockItemID).
		WillReturnRows(testutil.MockRows(testutil.StockItemColumns()...).
			AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 12, "EXPIRED",
				&expiry, nil, now, nil, nil, now, now))
	f.mockDB.Mock.ExpectExec("UPDATE stock_items").
		WithArgs(stockItemID, 0, "DESTROYED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectQuery("INSERT INTO movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	// Second lot partially destroyed
	f.mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1 FOR UPDATE").
		WithArgs(secondStockItemID).
		WillReturnRows(testutil.MockRows(testutil.StockItemColumns()...).
			AddRow(secondStockItemID, studyID, &med, nil, "LOT-002", 25, 25, "AVAILABLE",
				nil, nil, now, nil, nil, now, now))
	f.mockDB.Mock.ExpectExec("UPDATE stock_items").
		WithArgs(secondStockItemID, 22, "AVAILABLE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectQuery("INSERT INTO movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	f.mockDB.ExpectCommit()

	result, err := f.svc.CreateBatch(pharmacistContext(), domain.DestructionBatchRequest{
		StudyID: studyID,
		Method:  domain.MethodIncineration,
		Items: []domain.DestructionBatchItem{
			{StockItemID: stockItemID, MedicationID: medicationID, Quantity: 12},
			{StockItemID: secondStockItemID, MedicationID: medicationID, Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "DB-0003", result.Batch.BatchNumber)
	assert.Equal(t, 2, result.Batch.ItemCount)
	assert.Equal(t, 15, result.Batch.TotalQuantity)
	require.Len(t, result.Movements, 2)
	for _, m := range result.Movements {
		require.NotNil(t, m.DestructionBatchID)
		assert.Equal(t, result.Batch.ID, *m.DestructionBatchID)
		assert.Equal(t, domain.MovementDestruction, m.MovementType)
	}

	f.ledgerPub.AssertEventPublished(t, messaging.EventDestructionBatchCreated)
	f.auditPub.AssertEventPublished(t, "audit.fact.recorded")
	f.mockDB.ExpectationsWereMet(t)
}

func TestDestructionService_CreateBatch_RollsBackOnInsufficientStock(t *testing.T) {
	f := newDestructionFixture(t)

	now := time.Now()
	med := medicationID

	f.mockDB.ExpectBegin()
	f.mockDB.Mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM destruction_batches").
		WithArgs(studyID).
		WillReturnRows(testutil.MockRows("count").AddRow(0))
	f.mockDB.ExpectQuery("INSERT INTO destruction_batches").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	// First lot succeeds
	f.mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1 FOR UPDATE").
		WithArgs(stockItemID).
		WillReturnRows(testutil.MockRows(testutil.StockItemColumns()...).
			AddRow(stockItemID, studyID, &med, nil, "LOT-001", 30, 12, "EXPIRED",
				nil, nil, now, nil, nil, now, now))
	f.mockDB.Mock.ExpectExec("UPDATE stock_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectQuery("INSERT INTO movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))

	// Second lot has too little stock, the whole batch rolls back
	f.mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1 FOR UPDATE").
		WithArgs(secondStockItemID).
		WillReturnRows(testutil.MockRows(testutil.StockItemColumns()...).
			AddRow(secondStockItemID, studyID, &med, nil, "LOT-002", 25, 1, "AVAILABLE",
				nil, nil, now, nil, nil, now, now))
	f.mockDB.ExpectRollback()

	_, err := f.svc.CreateBatch(pharmacistContext(), domain.DestructionBatchRequest{
		StudyID: studyID,
		Method:  domain.MethodIncineration,
		Items: []domain.DestructionBatchItem{
			{StockItemID: stockItemID, MedicationID: medicationID, Quantity: 5},
			{StockItemID: secondStockItemID, MedicationID: medicationID, Quantity: 3},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	f.ledgerPub.AssertNoEventsPublished(t)
	f.auditPub.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}
