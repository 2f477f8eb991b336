package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func TestAmountOwed(t *testing.T) {
	tests := []struct {
		name      string
		confirmed decimal.NullDecimal
		settled   decimal.NullDecimal
		computed  decimal.NullDecimal
		gross     decimal.Decimal
		want      decimal.Decimal
	}{
		{
			name:      "confirmed net wins",
			confirmed: nd("900"),
			settled:   nd("850"),
			computed:  nd("845"),
			gross:     d("1000"),
			want:      d("900"),
		},
		{
			name:     "settled net when confirmed absent",
			settled:  nd("850"),
			computed: nd("845"),
			gross:    d("1000"),
			want:     d("850"),
		},
		{
			name:     "computed net when the others absent",
			computed: nd("845"),
			gross:    d("1000"),
			want:     d("845"),
		},
		{
			name:  "gross as last resort",
			gross: d("1000"),
			want:  d("1000"),
		},
		{
			name:      "zero confirmed is skipped, not used",
			confirmed: nd("0"),
			settled:   nd("500"),
			computed:  nd("450"),
			gross:     d("1000"),
			want:      d("500"),
		},
		{
			name:      "negative values are skipped",
			confirmed: nd("-10"),
			settled:   nd("-5"),
			computed:  nd("450"),
			gross:     d("1000"),
			want:      d("450"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nota := &Invoice{
				GrossAmount:        tt.gross,
				ConfirmedNetAmount: tt.confirmed,
				SettledNetAmount:   tt.settled,
				ComputedNetAmount:  tt.computed,
			}
			got := nota.AmountOwed()
			assert.True(t, got.Equal(tt.want), "AmountOwed() = %s, want %s", got, tt.want)
		})
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"123.0", "123"},
		{"  123.0  ", "123"},
		{"123", "123"},
		{"00123", "00123"},
		{"10.05", "10.05"},
		{"123.00", "123.00"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeNumber(tt.raw))
		})
	}
}

func TestDaysToReceive(t *testing.T) {
	assert.Equal(t, 30, ServiceConstruction.DaysToReceive())
	assert.Equal(t, 30, ServiceDielectricTest.DaysToReceive())
	assert.Equal(t, 60, ServiceFreight.DaysToReceive())
	assert.Equal(t, 60, ServiceFreightCTE.DaysToReceive())
	assert.Equal(t, 30, ServiceType("OUTRO").DaysToReceive())
}

func TestServiceTypeKnown(t *testing.T) {
	assert.True(t, ServiceConstruction.Known())
	assert.True(t, ServiceFreightCTE.Known())
	assert.False(t, ServiceType("CONSULTORIA").Known())
	assert.False(t, ServiceType("").Known())
}

func TestNewInvoiceDerivesDueDate(t *testing.T) {
	issueDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	construction := NewInvoice(InvoicePayload{
		IssueDate:   issueDate,
		Number:      " 4821.0 ",
		ServiceType: ServiceConstruction,
		GrossAmount: d("1000"),
	})
	assert.Equal(t, time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC), construction.DueDate)
	assert.Equal(t, 30, construction.DaysToReceive)
	assert.Equal(t, "4821.0", construction.Number)
	assert.Equal(t, "4821", construction.NormalizedNumber)
	assert.Equal(t, StatusPending, construction.ReceiptStatus)

	freight := NewInvoice(InvoicePayload{
		IssueDate:   issueDate,
		Number:      "500",
		ServiceType: ServiceFreightCTE,
		GrossAmount: d("1000"),
	})
	assert.Equal(t, time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC), freight.DueDate)
	assert.Equal(t, 60, freight.DaysToReceive)
}

func TestInvoiceOverdue(t *testing.T) {
	nota := &Invoice{DueDate: time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)}

	assert.False(t, nota.Overdue(time.Date(2025, 4, 9, 23, 0, 0, 0, time.UTC)))
	assert.False(t, nota.Overdue(time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)))
	assert.True(t, nota.Overdue(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)))
}

func TestInvoicePayloadValidate(t *testing.T) {
	valid := InvoicePayload{
		IssueDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Number:      "123",
		ServiceType: ServiceConstruction,
		GrossAmount: d("100"),
	}
	require.NoError(t, valid.Validate())

	missingNumber := valid
	missingNumber.Number = "   "
	assert.Error(t, missingNumber.Validate())

	missingDate := valid
	missingDate.IssueDate = time.Time{}
	assert.Error(t, missingDate.Validate())

	negativeGross := valid
	negativeGross.GrossAmount = d("-1")
	assert.Error(t, negativeGross.Validate())
}

func TestReceiptPayloadValidate(t *testing.T) {
	valid := ReceiptPayload{
		ReceiptDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		AmountReceived: d("100"),
		ReceiptType:    ReceiptTypeIntegral,
	}
	require.NoError(t, valid.Validate())

	// The legacy statement contains zero and negative entries; they must
	// still be accepted.
	nonPositive := valid
	nonPositive.AmountReceived = d("-50")
	assert.NoError(t, nonPositive.Validate())

	missingType := valid
	missingType.ReceiptType = ""
	assert.Error(t, missingType.Validate())

	missingDate := valid
	missingDate.ReceiptDate = time.Time{}
	assert.Error(t, missingDate.Validate())
}

func TestAdvancePayloadValidate(t *testing.T) {
	valid := AdvancePayload{
		NetLiquidAmount: d("900"),
		AdvanceDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, valid.Validate())

	zeroAmount := valid
	zeroAmount.NetLiquidAmount = d("0")
	assert.Error(t, zeroAmount.Validate())

	missingDate := valid
	missingDate.AdvanceDate = time.Time{}
	assert.Error(t, missingDate.Validate())
}
