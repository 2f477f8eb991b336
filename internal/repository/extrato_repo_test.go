package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
)

func TestExtratoRepositoryCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewExtratoRepository(db.DB, zap.NewNop())

	receipt := &models.Receipt{
		ReceiptDate:        time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		AmountReceived:     d("845.00"),
		ReferencedInvoices: "4821, 4822",
		ReceiptType:        models.ReceiptTypeIntegral,
		Note:               "TED recebida",
	}
	require.NoError(t, repo.Create(nil, receipt))
	require.NotZero(t, receipt.ID)

	got, err := repo.GetByID(receipt.ID)
	require.NoError(t, err)

	assert.Equal(t, receipt.ReceiptDate, got.ReceiptDate)
	assert.True(t, got.AmountReceived.Equal(d("845.00")))
	assert.Equal(t, "4821, 4822", got.ReferencedInvoices)
	assert.Equal(t, models.ReceiptTypeIntegral, got.ReceiptType)
	assert.Equal(t, "TED recebida", got.Note)
	assert.False(t, got.WasAdvance)
}

func TestExtratoRepositoryGetByIDNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewExtratoRepository(db.DB, zap.NewNop())

	_, err := repo.GetByID(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtratoRepositoryListFilter(t *testing.T) {
	db := testDB(t)
	repo := NewExtratoRepository(db.DB, zap.NewNop())

	regular := &models.Receipt{
		ReceiptDate:    time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		AmountReceived: d("100"),
		ReceiptType:    models.ReceiptTypeIntegral,
	}
	require.NoError(t, repo.Create(nil, regular))

	advance := &models.Receipt{
		ReceiptDate:    time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC),
		AmountReceived: d("200"),
		ReceiptType:    models.ReceiptTypeAdvance,
		WasAdvance:     true,
	}
	require.NoError(t, repo.Create(nil, advance))

	all, err := repo.List(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest receipt date first.
	assert.Equal(t, advance.ID, all[0].ID)

	onlyAdvances := true
	advances, err := repo.List(&onlyAdvances)
	require.NoError(t, err)
	require.Len(t, advances, 1)
	assert.Equal(t, advance.ID, advances[0].ID)

	onlyRegular := false
	regulars, err := repo.List(&onlyRegular)
	require.NoError(t, err)
	require.Len(t, regulars, 1)
	assert.Equal(t, regular.ID, regulars[0].ID)
}
