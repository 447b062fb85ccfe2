package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialstock/trialstock-backend/internal/ledger/domain"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/testutil"
)

const (
	testStudyID      = "11111111-1111-1111-1111-111111111111"
	testMedicationID = "22222222-2222-2222-2222-222222222222"
	testStockItemID  = "33333333-3333-3333-3333-333333333333"
)

func newRepoFixture(t *testing.T) (*testutil.MockDB, *database.DB) {
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	log := logger.New("test", "test")
	return mockDB, database.FromSqlx(mockDB.DB, log)
}

func stockItemRow(id string, quantity int, status domain.Status) *sqlmock.Rows {
	now := time.Now()
	med := testMedicationID
	return testutil.MockRows(testutil.StockItemColumns()...).
		AddRow(id, testStudyID, &med, nil, "LOT-001", quantity, quantity,
			string(status), nil, nil, now, nil, nil, now, now)
}

func TestStockItemRepository_Create(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.ExpectQuery("INSERT INTO stock_items").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").
			AddRow(time.Now(), time.Now()))

	med := testMedicationID
	item := &repository.StockItem{
		StudyID:         testStudyID,
		MedicationID:    &med,
		BatchNumber:     "LOT-001",
		InitialQuantity: 30,
		CurrentQuantity: 30,
		ReceptionDate:   time.Now(),
	}
	err := repo.Create(context.Background(), db, item)
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domain.StatusAvailable, item.Status)
	assert.False(t, item.CreatedAt.IsZero())

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_GetByID_NotFound(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1").
		WithArgs(testStockItemID).
		WillReturnRows(testutil.MockRows(testutil.StockItemColumns()...))

	_, err := repo.GetByID(context.Background(), testStockItemID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_GetForUpdate(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.ExpectQuery("SELECT * FROM stock_items WHERE id = $1 FOR UPDATE").
		WithArgs(testStockItemID).
		WillReturnRows(stockItemRow(testStockItemID, 30, domain.StatusAvailable))

	item, err := repo.GetForUpdate(context.Background(), db, testStockItemID)
	require.NoError(t, err)
	assert.Equal(t, 30, item.CurrentQuantity)
	assert.Equal(t, domain.StatusAvailable, item.Status)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_FindByBatchForUpdate_Medication(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	med := testMedicationID
	mockDB.Mock.ExpectQuery("SELECT \\* FROM stock_items").
		WithArgs(testStudyID, "LOT-001", med).
		WillReturnRows(stockItemRow(testStockItemID, 30, domain.StatusAvailable))

	item, err := repo.FindByBatchForUpdate(context.Background(), db, testStudyID,
		domain.ItemRef{MedicationID: &med}, "LOT-001")
	require.NoError(t, err)
	assert.Equal(t, testStockItemID, item.ID)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_ListExpired_DateExpiredAvailableLot(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	columns := append(testutil.StockItemColumns(), "reason")
	now := time.Now()
	med := testMedicationID
	expiry := now.AddDate(0, 0, -3)
	rows := testutil.MockRows(columns...).
		AddRow(testStockItemID, testStudyID, &med, nil, "LOT-001", 30, 7,
			"AVAILABLE", &expiry, nil, now, nil, nil, now, now, "EXPIRED")

	// The sweep has not visited the lot yet, so the query itself must treat
	// a passed expiry date as expired.
	mockDB.Mock.ExpectQuery(`(?s)'EXPIRED' AS reason.*s\.status = 'EXPIRED' OR \(s\.expiry_date IS NOT NULL AND s\.expiry_date < NOW\(\)\)`).
		WithArgs(testStudyID).
		WillReturnRows(rows)

	items, err := repo.ListExpired(context.Background(), repository.EligibilityFilter{StudyID: testStudyID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "EXPIRED", items[0].Reason)
	assert.Equal(t, domain.StatusAvailable, items[0].Status)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_ListReturnedForDestruction_Query(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	now := time.Now()
	med := testMedicationID
	patient := "44444444-4444-4444-4444-444444444444"
	visit := "C1D8"
	columns := append(testutil.StockItemColumns(),
		"reason", "returned_by", "returned_at_visit", "returned_on")
	rows := testutil.MockRows(columns...).
		AddRow(testStockItemID, testStudyID, &med, nil, "LOT-001", 30, 27,
			"AVAILABLE", nil, nil, now, nil, nil, now, now,
			"PATIENT_RETURN", &patient, &visit, &now)

	// Any RETOUR qualifies, whatever its destination, and depleted lots are
	// filtered out.
	mockDB.Mock.ExpectQuery(`(?s)'PATIENT_RETURN' AS reason.*movement_type = 'RETOUR'\s+ORDER BY movement_date DESC.*s\.current_quantity > 0`).
		WithArgs(testStudyID).
		WillReturnRows(rows)

	items, err := repo.ListReturnedForDestruction(context.Background(), repository.EligibilityFilter{StudyID: testStudyID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "PATIENT_RETURN", items[0].Reason)
	require.NotNil(t, items[0].ReturnedAtVisit)
	assert.Equal(t, "C1D8", *items[0].ReturnedAtVisit)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_AddReceivedQuantity(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.Mock.ExpectExec("UPDATE stock_items").
		WithArgs(testStockItemID, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AddReceivedQuantity(context.Background(), db, testStockItemID, 20)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_UpdateStatus(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	reason := "temperature excursion"
	mockDB.Mock.ExpectExec("UPDATE stock_items").
		WithArgs(testStockItemID, "QUARANTINE", reason).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), db, testStockItemID, domain.StatusQuarantine, &reason)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_UpdateQuantityStatus(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.Mock.ExpectExec("UPDATE stock_items").
		WithArgs(testStockItemID, 25, "AVAILABLE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateQuantityStatus(context.Background(), db, testStockItemID, 25, domain.StatusAvailable)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_UpdateQuantityStatus_Missing(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	mockDB.Mock.ExpectExec("UPDATE stock_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateQuantityStatus(context.Background(), db, testStockItemID, 25, domain.StatusAvailable)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestStockItemRepository_ListExpired(t *testing.T) {
	mockDB, db := newRepoFixture(t)
	repo := repository.NewStockItemRepository(db)

	columns := append(testutil.StockItemColumns(), "reason")
	now := time.Now()
	med := testMedicationID
	expiry := now.AddDate(0, -1, 0)
	rows := testutil.MockRows(columns...).
		AddRow(testStockItemID, testStudyID, &med, nil, "LOT-001", 30, 12,
			"EXPIRED", &expiry, nil, now, nil, nil, now, now, "EXPIRED")

	mockDB.Mock.ExpectQuery("SELECT s\\.\\*, 'EXPIRED' AS reason").
		WithArgs(testStudyID).
		WillReturnRows(rows)

	items, err := repo.ListExpired(context.Background(), repository.EligibilityFilter{StudyID: testStudyID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "EXPIRED", items[0].Reason)
	assert.Equal(t, 12, items[0].CurrentQuantity)

	mockDB.ExpectationsWereMet(t)
}
