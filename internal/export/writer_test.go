package export

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/report"
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

// reopen round-trips the workbook through its serialized form so assertions
// run against what a reader of the file would actually see.
func reopen(t *testing.T, f *excelize.File) *excelize.File {
	t.Helper()

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	reopened, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	return reopened
}

func raw(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()

	value, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return value
}

func TestWriteFullWorkbook(t *testing.T) {
	w := NewWriter(zap.NewNop())

	advanceDate := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	advanced := models.NewInvoice(models.InvoicePayload{
		IssueDate:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Number:             "4821",
		ServiceType:        models.ServiceConstruction,
		GrossAmount:        d("1000"),
		Locality:           "BELEM",
		Payer:              "EQUATORIAL",
		SocialSecurity:     d("55"),
		ServiceTax:         d("50"),
		UtilityWithholding: d("50"),
		ComputedNetAmount:  nd("845"),
		ConfirmedNetAmount: nd("800"),
		SettledNetAmount:   nd("800"),
		WasAdvanced:        true,
		AdvanceDate:        &advanceDate,
	})
	plain := models.NewInvoice(models.InvoicePayload{
		IssueDate:         time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Number:            "4822",
		ServiceType:       models.ServiceFreight,
		GrossAmount:       d("500"),
		ComputedNetAmount: nd("460"),
	})
	receipt := &models.Receipt{
		ReceiptDate:        time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		AmountReceived:     d("800"),
		ReferencedInvoices: "4821",
		ReceiptType:        models.ReceiptTypeAdvance,
		Note:               "Adiantamento automático - 5.3% de taxa",
	}

	built, err := w.WriteFullWorkbook([]*models.Invoice{advanced, plain}, []*models.Receipt{receipt})
	require.NoError(t, err)
	f := reopen(t, built)

	t.Run("invoice sheet layout", func(t *testing.T) {
		rows, err := f.GetRows("NF'S")
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rows), 3)
		assert.Equal(t, nfsHeaders, rows[0][:len(nfsHeaders)])

		assert.Equal(t, "2025-03-10", raw(t, f, "NF'S", "A2"))
		assert.Equal(t, "4821", raw(t, f, "NF'S", "B2"))
		assert.Equal(t, "CONSTRUCAO", raw(t, f, "NF'S", "C2"))
		assert.Equal(t, "1000", raw(t, f, "NF'S", "D2"))
		assert.Equal(t, "BELEM", raw(t, f, "NF'S", "E2"))
		assert.Equal(t, "55", raw(t, f, "NF'S", "F2"))
	})

	t.Run("net amount columns", func(t *testing.T) {
		// Confirmed wins over computed in the conference column.
		assert.Equal(t, "800", raw(t, f, "NF'S", "M2"))
		assert.Equal(t, "845", raw(t, f, "NF'S", "N2"))
		assert.Equal(t, "800", raw(t, f, "NF'S", "O2"))
		assert.Equal(t, "2025-03-20", raw(t, f, "NF'S", "P2"))

		// No confirmed amount on row 3: the conference column falls back to
		// the computed value, and the advance columns stay empty.
		assert.Equal(t, "460", raw(t, f, "NF'S", "M3"))
		assert.Equal(t, "", raw(t, f, "NF'S", "O3"))
		assert.Equal(t, "", raw(t, f, "NF'S", "P3"))
	})

	t.Run("derived columns are live formulas", func(t *testing.T) {
		for cell, want := range map[string]string{
			"G2": "F2/D2",
			"I2": "H2/D2",
			"Q2": `IF(O2>0,(N2-O2)/N2,"")`,
			"R2": `IF(O2>0,N2-O2,"")`,
			"G3": "F3/D3",
		} {
			formula, err := f.GetCellFormula("NF'S", cell)
			require.NoError(t, err)
			assert.Equal(t, want, formula, cell)
		}
	})

	t.Run("statement sheet", func(t *testing.T) {
		rows, err := f.GetRows("Extrato")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, statementHeaders, rows[0][:len(statementHeaders)])

		assert.Equal(t, "2025-04-02", raw(t, f, "Extrato", "A2"))
		assert.Equal(t, "800", raw(t, f, "Extrato", "B2"))
		assert.Equal(t, "4821", raw(t, f, "Extrato", "C2"))
		assert.Equal(t, "Adiantamento", raw(t, f, "Extrato", "D2"))
	})
}

func TestWriteReport(t *testing.T) {
	w := NewWriter(zap.NewNop())

	set := &report.RowSet{
		Headers: []string{"Nº NF", "Status", "Valor Nominal"},
		Rows: []map[string]any{
			{"Nº NF": "4821", "Status": "RECEBIDO", "Valor Nominal": 845.0},
			{"Nº NF": "4822", "Status": "PENDENTE", "Valor Nominal": 460.0},
		},
	}

	built, err := w.WriteReport(set)
	require.NoError(t, err)
	f := reopen(t, built)

	rows, err := f.GetRows("Dados")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"Nº NF", "Status", "Valor Nominal"}, rows[0])
	assert.Equal(t, "4821", raw(t, f, "Dados", "A2"))
	assert.Equal(t, "RECEBIDO", raw(t, f, "Dados", "B2"))
	assert.Equal(t, "845", raw(t, f, "Dados", "C2"))
	assert.Equal(t, "PENDENTE", raw(t, f, "Dados", "B3"))
}
