package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/reconcile"
	"github.com/rezendeng/faturamento/internal/repository"
)

// Sheet names in the legacy billing workbook.
const (
	SheetInvoices  = "NF'S"
	SheetStatement = "Extrato"
)

// Importer loads the legacy billing workbook: every invoice from the NF'S
// sheet and every receipt from the Extrato sheet. Receipts go through the
// reconciliation engine so statuses come out derived, not copied.
type Importer struct {
	notas  *repository.NotaRepository
	engine *reconcile.Engine
	logger *zap.Logger
}

// NewImporter creates a new spreadsheet importer
func NewImporter(notas *repository.NotaRepository, engine *reconcile.Engine, logger *zap.Logger) *Importer {
	return &Importer{notas: notas, engine: engine, logger: logger}
}

// ImportResult summarizes one workbook import.
type ImportResult struct {
	Invoices       int      `json:"nfs"`
	Receipts       int      `json:"extrato"`
	SkippedRows    int      `json:"linhas_ignoradas"`
	UnresolvedRefs []string `json:"nfs_nao_encontradas,omitempty"`
}

// ImportWorkbook reads both sheets of the workbook at path. Rows that fail
// to parse are logged and skipped; one bad row never aborts the import.
func (i *Importer) ImportWorkbook(path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	result := &ImportResult{}

	if err := i.importInvoices(f, result); err != nil {
		return nil, err
	}
	if err := i.importReceipts(f, result); err != nil {
		return nil, err
	}

	i.logger.Info("Workbook imported",
		zap.String("path", path),
		zap.Int("nfs", result.Invoices),
		zap.Int("extrato", result.Receipts),
		zap.Int("skipped", result.SkippedRows))

	return result, nil
}

func (i *Importer) importInvoices(f *excelize.File, result *ImportResult) error {
	rows, err := f.GetRows(SheetInvoices)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", SheetInvoices, err)
	}
	if len(rows) == 0 {
		return nil
	}

	cols := headerIndex(rows[0])
	for rowNum, row := range rows[1:] {
		payload, ok := i.invoicePayload(cols, row, rowNum+2)
		if !ok {
			continue
		}

		nota := models.NewInvoice(*payload)
		if err := i.notas.Create(nil, nota); err != nil {
			i.logger.Warn("Failed to insert imported invoice",
				zap.Int("row", rowNum+2),
				zap.String("numero_nf", nota.Number),
				zap.Error(err))
			result.SkippedRows++
			continue
		}
		result.Invoices++
	}
	return nil
}

// invoicePayload maps one NF'S row onto an invoice payload. The withholdings
// are read straight from the sheet, never recomputed: the workbook is the
// record of what was actually withheld.
func (i *Importer) invoicePayload(cols map[string]int, row []string, rowNum int) (*models.InvoicePayload, bool) {
	number := cell(cols, row, "Nº NF")
	if number == "" {
		return nil, false
	}

	issueDate, err := parseFlexibleDate(cell(cols, row, "Data Emissão"))
	if err != nil {
		i.logger.Warn("Skipping invoice row with unparseable issue date",
			zap.Int("row", rowNum),
			zap.String("numero_nf", number),
			zap.Error(err))
		return nil, false
	}

	serviceType := models.ServiceType(cell(cols, row, "Tipo"))
	if serviceType == "" {
		serviceType = models.ServiceConstruction
	}

	pisCofinsCSLL := cellAmount(cols, row, "PIS/COFINS/CSLL")
	settled := cellNullable(cols, row, "Valor Líquido Vinci")
	advanceDiscount := cellNullable(cols, row, "Valor retido Vinci")

	wasAdvanced := (settled.Valid && settled.Decimal.IsPositive()) ||
		(advanceDiscount.Valid && advanceDiscount.Decimal.IsPositive())

	var advanceDate *time.Time
	if raw := cell(cols, row, "Data do adiantamento"); raw != "" {
		if d, err := parseFlexibleDate(raw); err == nil {
			advanceDate = &d
		}
	}

	advancePct := cellNullable(cols, row, "% de Adiantamento")
	if advancePct.Valid {
		// The sheet stores the percentage as a fraction.
		advancePct.Decimal = advancePct.Decimal.Mul(decimal.NewFromInt(100))
	}

	return &models.InvoicePayload{
		IssueDate:          issueDate,
		Number:             number,
		ServiceType:        serviceType,
		GrossAmount:        cellAmount(cols, row, "Valor Bruto"),
		Locality:           cell(cols, row, "Localidade"),
		Payer:              cell(cols, row, "Tomador do Serviço"),
		SocialSecurity:     cellAmount(cols, row, "Retenções Federais (INSS)"),
		ServiceTax:         cellAmount(cols, row, "ISS"),
		UtilityWithholding: cellAmount(cols, row, "Retenção Equatorial"),
		PISCofinsWithheld:  pisCofinsCSLL.IsPositive(),
		PISCofinsCSLL:      pisCofinsCSLL,
		ConfirmedNetAmount: cellNullable(cols, row, "Valor Nominal Conferência"),
		SettledNetAmount:   settled,
		ComputedNetAmount:  cellNullable(cols, row, "Valor Nominal (Vinci)"),
		WasAdvanced:        wasAdvanced,
		AdvanceDate:        advanceDate,
		AdvancePercentage:  advancePct,
		AdvanceDiscount:    advanceDiscount,
	}, true
}

func (i *Importer) importReceipts(f *excelize.File, result *ImportResult) error {
	rows, err := f.GetRows(SheetStatement)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", SheetStatement, err)
	}
	if len(rows) == 0 {
		return nil
	}

	cols := headerIndex(rows[0])
	for rowNum, row := range rows[1:] {
		receiptDate, err := parseFlexibleDate(cell(cols, row, "Data"))
		if err != nil {
			continue
		}

		amount := cellAmount(cols, row, "Valor")
		if !amount.IsPositive() {
			continue
		}

		refs := cell(cols, row, "NF'S")
		if refs == "" {
			continue
		}

		receiptType := cell(cols, row, "Tipo")
		if receiptType == "" {
			receiptType = models.ReceiptTypeIntegral
		}

		res, err := i.engine.RegisterReceipt(models.ReceiptPayload{
			ReceiptDate:        receiptDate,
			AmountReceived:     amount,
			ReferencedInvoices: refs,
			ReceiptType:        receiptType,
			Note:               cell(cols, row, "Complemento"),
		})
		if err != nil {
			i.logger.Warn("Failed to register imported receipt",
				zap.Int("row", rowNum+2),
				zap.Error(err))
			result.SkippedRows++
			continue
		}
		result.Receipts++
		result.UnresolvedRefs = append(result.UnresolvedRefs, res.Unresolved...)
	}
	return nil
}

// headerIndex maps trimmed header names to column positions. The legacy
// workbook pads several headers with trailing spaces.
func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.TrimSpace(name)] = idx
	}
	return cols
}

func cell(cols map[string]int, row []string, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func cellAmount(cols map[string]int, row []string, name string) decimal.Decimal {
	raw := cell(cols, row, name)
	if raw == "" {
		return decimal.Zero
	}
	amount, err := parseCellNumber(raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func cellNullable(cols map[string]int, row []string, name string) decimal.NullDecimal {
	raw := cell(cols, row, name)
	if raw == "" {
		return decimal.NullDecimal{}
	}
	amount, err := parseCellNumber(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: amount, Valid: true}
}

// parseCellNumber accepts both plain decimal cells ("1234.56") and Brazilian
// formatted ones ("1.234,56").
func parseCellNumber(raw string) (decimal.Decimal, error) {
	if strings.Contains(raw, ",") {
		return ParseBRNumber(raw)
	}
	return decimal.NewFromString(raw)
}

var dateFormats = []string{"02/01/2006", "2006-01-02", "02-01-2006"}

func parseFlexibleDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateFormats {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}
