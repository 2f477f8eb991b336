// Package export renders report data as Excel workbooks, matching the layout
// of the original billing spreadsheet so exported files can be re-imported.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/report"
)

const (
	sheetInvoices  = "NF'S"
	sheetStatement = "Extrato"
	sheetReport    = "Dados"

	dateLayout = "2006-01-02"

	headerFillColor = "4472C4"
	currencyFormat  = "R$ #,##0.00"
	percentFormat   = "0.00%"

	maxColumnWidth = 50
)

// Writer builds Excel files from report data.
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a new Excel writer
func NewWriter(logger *zap.Logger) *Writer {
	return &Writer{logger: logger}
}

// WriteReport renders a flat row set as a single-sheet workbook. Column
// widths are sized to the content.
func (w *Writer) WriteReport(set *report.RowSet) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetReport); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	widths := make([]int, len(set.Headers))
	for col, header := range set.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetReport, cell, header); err != nil {
			return nil, err
		}
		widths[col] = len(header)
	}

	for rowIdx, row := range set.Rows {
		for col, header := range set.Headers {
			value := row[header]
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetReport, cell, value); err != nil {
				return nil, err
			}
			if l := len(fmt.Sprint(value)); l > widths[col] {
				widths[col] = l
			}
		}
	}

	for col, width := range widths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if width+2 > maxColumnWidth {
			width = maxColumnWidth - 2
		}
		if err := f.SetColWidth(sheetReport, name, name, float64(width+2)); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// nfsHeaders are the 18 columns (A through R) of the NF'S sheet, in the
// exact order the legacy workbook uses. The importer reads these names back.
var nfsHeaders = []string{
	"Data Emissão",
	"Nº NF",
	"Tipo",
	"Valor Bruto",
	"Localidade",
	"Retenções Federais (INSS)",
	"Alíquota INSS",
	"ISS",
	"Alíquota ISS",
	"Retenção Equatorial",
	"Tomador do Serviço",
	"PIS/COFINS/CSLL",
	"Valor Nominal Conferência",
	"Valor Nominal (Vinci)",
	"Valor Líquido Vinci",
	"Data do adiantamento",
	"% de Adiantamento",
	"Valor retido Vinci",
}

var nfsColumnWidths = []float64{15, 12, 20, 15, 20, 18, 15, 12, 15, 18, 35, 18, 22, 20, 20, 18, 18, 20}

var statementHeaders = []string{"Data", "Valor", "NF'S", "Tipo", "Complemento"}

var statementColumnWidths = []float64{15, 18, 30, 18, 50}

// WriteFullWorkbook renders the complete billing workbook: the NF'S sheet
// with its formula columns and the Extrato sheet. The percentage and retained
// value columns are written as live formulas over N and O, like the original
// sheet, so manual edits keep recalculating.
func (w *Writer) WriteFullWorkbook(notas []*models.Invoice, receipts []*models.Receipt) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetInvoices); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetStatement); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFillColor}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	currencyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(currencyFormat)})
	if err != nil {
		return nil, fmt.Errorf("failed to create currency style: %w", err)
	}
	percentStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(percentFormat)})
	if err != nil {
		return nil, fmt.Errorf("failed to create percent style: %w", err)
	}

	if err := w.writeInvoiceSheet(f, notas, headerStyle, currencyStyle, percentStyle); err != nil {
		return nil, err
	}
	if err := w.writeStatementSheet(f, receipts, headerStyle, currencyStyle); err != nil {
		return nil, err
	}

	w.logger.Info("Full workbook built",
		zap.Int("nfs", len(notas)),
		zap.Int("extrato", len(receipts)))

	return f, nil
}

func (w *Writer) writeInvoiceSheet(f *excelize.File, notas []*models.Invoice, headerStyle, currencyStyle, percentStyle int) error {
	if err := writeHeaderRow(f, sheetInvoices, nfsHeaders, headerStyle); err != nil {
		return err
	}
	for col, width := range nfsColumnWidths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetInvoices, name, name, width); err != nil {
			return err
		}
	}

	for idx, nota := range notas {
		row := idx + 2

		set := func(col string, value any) error {
			return f.SetCellValue(sheetInvoices, col+fmt.Sprint(row), value)
		}

		if err := set("A", nota.IssueDate.Format(dateLayout)); err != nil {
			return err
		}
		if err := set("B", nota.Number); err != nil {
			return err
		}
		if err := set("C", string(nota.ServiceType)); err != nil {
			return err
		}
		if err := set("D", nota.GrossAmount.InexactFloat64()); err != nil {
			return err
		}
		if err := set("E", nota.Locality); err != nil {
			return err
		}
		if err := set("F", nota.SocialSecurity.InexactFloat64()); err != nil {
			return err
		}
		if err := set("H", nota.ServiceTax.InexactFloat64()); err != nil {
			return err
		}
		if err := set("J", nota.UtilityWithholding.InexactFloat64()); err != nil {
			return err
		}
		if err := set("K", nota.Payer); err != nil {
			return err
		}
		if err := set("L", nota.PISCofinsCSLL.InexactFloat64()); err != nil {
			return err
		}

		confirmed := 0.0
		switch {
		case nota.ConfirmedNetAmount.Valid:
			confirmed = nota.ConfirmedNetAmount.Decimal.InexactFloat64()
		case nota.ComputedNetAmount.Valid:
			confirmed = nota.ComputedNetAmount.Decimal.InexactFloat64()
		}
		if err := set("M", confirmed); err != nil {
			return err
		}

		computed := 0.0
		if nota.ComputedNetAmount.Valid {
			computed = nota.ComputedNetAmount.Decimal.InexactFloat64()
		}
		if err := set("N", computed); err != nil {
			return err
		}

		if nota.SettledNetAmount.Valid {
			if err := set("O", nota.SettledNetAmount.Decimal.InexactFloat64()); err != nil {
				return err
			}
		}
		if nota.AdvanceDate != nil {
			if err := set("P", nota.AdvanceDate.Format(dateLayout)); err != nil {
				return err
			}
		}

		// Derived columns stay formulas so the sheet recalculates after
		// manual edits.
		formulas := map[string]string{
			"G": fmt.Sprintf("F%d/D%d", row, row),
			"I": fmt.Sprintf("H%d/D%d", row, row),
			"Q": fmt.Sprintf(`IF(O%d>0,(N%d-O%d)/N%d,"")`, row, row, row, row),
			"R": fmt.Sprintf(`IF(O%d>0,N%d-O%d,"")`, row, row, row),
		}
		for col, formula := range formulas {
			if err := f.SetCellFormula(sheetInvoices, col+fmt.Sprint(row), formula); err != nil {
				return err
			}
		}

		for _, col := range []string{"D", "F", "H", "J", "L", "M", "N", "O", "R"} {
			cell := col + fmt.Sprint(row)
			if err := f.SetCellStyle(sheetInvoices, cell, cell, currencyStyle); err != nil {
				return err
			}
		}
		for _, col := range []string{"G", "I", "Q"} {
			cell := col + fmt.Sprint(row)
			if err := f.SetCellStyle(sheetInvoices, cell, cell, percentStyle); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeStatementSheet(f *excelize.File, receipts []*models.Receipt, headerStyle, currencyStyle int) error {
	if err := writeHeaderRow(f, sheetStatement, statementHeaders, headerStyle); err != nil {
		return err
	}
	for col, width := range statementColumnWidths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetStatement, name, name, width); err != nil {
			return err
		}
	}

	for idx, receipt := range receipts {
		row := idx + 2
		values := map[string]any{
			"A": receipt.ReceiptDate.Format(dateLayout),
			"B": receipt.AmountReceived.InexactFloat64(),
			"C": receipt.ReferencedInvoices,
			"D": receipt.ReceiptType,
			"E": receipt.Note,
		}
		for col, value := range values {
			if err := f.SetCellValue(sheetStatement, col+fmt.Sprint(row), value); err != nil {
				return err
			}
		}
		cell := "B" + fmt.Sprint(row)
		if err := f.SetCellStyle(sheetStatement, cell, cell, currencyStyle); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func ptr(s string) *string {
	return &s
}
