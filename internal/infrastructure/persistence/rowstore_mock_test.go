package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/erp/logicengine/internal/domain/ordering"
	"github.com/erp/logicengine/internal/domain/shared"
	"github.com/erp/logicengine/internal/engine"
)

// newMockGormStore creates a GormStore with a mocked SQL connection, for
// asserting the exact statements the store issues against postgres.
func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	g, err := ordering.Graph()
	require.NoError(t, err)
	return NewGormStore(gormDB, g), mock, mockDB
}

func TestGormStore_ReadRow_Mock(t *testing.T) {
	t.Run("decodes committed columns", func(t *testing.T) {
		store, mock, mockDB := newMockGormStore(t)
		defer mockDB.Close()

		id := uuid.New()
		rows := sqlmock.NewRows([]string{"id", "name", "email", "credit_limit", "balance"}).
			AddRow(id.String(), "Test Customer", nil, "1000", "250.5")

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "customers" WHERE id = \$1`).
			WithArgs(id.String(), 1).
			WillReturnRows(rows)
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		row, err := tx.ReadRow(context.Background(), ordering.EntityCustomer, id)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		assert.Equal(t, "Test Customer", row["name"])
		assert.Nil(t, row["email"])
		assert.True(t, row["credit_limit"].(decimal.Decimal).Equal(decimal.RequireFromString("1000")))
		assert.True(t, row["balance"].(decimal.Decimal).Equal(decimal.RequireFromString("250.5")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps empty result to not found", func(t *testing.T) {
		store, mock, mockDB := newMockGormStore(t)
		defer mockDB.Close()

		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "customers" WHERE id = \$1`).
			WithArgs(id.String(), 1).
			WillReturnError(gorm.ErrRecordNotFound)
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		_, err = tx.ReadRow(context.Background(), ordering.EntityCustomer, id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_ReadChildren_Mock(t *testing.T) {
	store, mock, mockDB := newMockGormStore(t)
	defer mockDB.Close()

	customerID := uuid.New()
	childA, childB := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "orders" WHERE customer_id = \$1 ORDER BY id`).
		WithArgs(customerID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(childA.String()).
			AddRow(childB.String()))
	mock.ExpectRollback()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	ids, err := tx.ReadChildren(context.Background(), ordering.EntityCustomer, customerID, ordering.RelCustomerOrders)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, []uuid.UUID{childA, childB}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateRow_Mock(t *testing.T) {
	t.Run("zero rows affected maps to not found", func(t *testing.T) {
		store, mock, mockDB := newMockGormStore(t)
		defer mockDB.Close()

		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "customers" SET "name"=\$1 WHERE id = \$2`).
			WithArgs("Renamed", id.String()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		err = tx.UpdateRow(context.Background(), ordering.EntityCustomer, id, engine.Row{"name": "Renamed"})
		assert.ErrorIs(t, err, shared.ErrNotFound)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_DeleteRow_Mock(t *testing.T) {
	store, mock, mockDB := newMockGormStore(t)
	defer mockDB.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "items" WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRow(context.Background(), ordering.EntityItem, id))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_InsertRow_Mock(t *testing.T) {
	store, mock, mockDB := newMockGormStore(t)
	defer mockDB.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.InsertRow(context.Background(), ordering.EntityProduct, id, engine.Row{
		"name":  "Widget",
		"price": "600",
	}))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
