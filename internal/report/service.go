// Package report builds the receivables dashboard, the pending list, the
// financial summary and the flat row sets consumed by the Excel exporter.
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/repository"
)

const dateLayout = "2006-01-02"

// Service aggregates invoice and receipt data into report views.
type Service struct {
	notas   *repository.NotaRepository
	extrato *repository.ExtratoRepository
	logger  *zap.Logger
}

// NewService creates a new report service
func NewService(notas *repository.NotaRepository, extrato *repository.ExtratoRepository, logger *zap.Logger) *Service {
	return &Service{notas: notas, extrato: extrato, logger: logger}
}

// Bucket is one dashboard slice: how many invoices fall in it and the sum of
// their resolved owed amounts.
type Bucket struct {
	Count int             `json:"qtd"`
	Total decimal.Decimal `json:"total"`
}

func (b *Bucket) add(amount decimal.Decimal) {
	b.Count++
	b.Total = b.Total.Add(amount)
}

// Dashboard splits the invoice base three ways by collection state relative
// to a reference date.
type Dashboard struct {
	Receivable Bucket `json:"a_receber"`
	Overdue    Bucket `json:"atrasado"`
	Received   Bucket `json:"recebido"`
}

// Dashboard classifies every invoice as received, overdue or still within
// term as of today. Totals use the same owed-amount resolution as the
// reconciliation engine so the dashboard and the status column never disagree.
func (s *Service) Dashboard(today time.Time) (*Dashboard, error) {
	notas, err := s.notas.List()
	if err != nil {
		return nil, err
	}

	var d Dashboard
	for _, nota := range notas {
		owed := nota.AmountOwed()
		switch {
		case nota.ReceiptStatus == models.StatusReceived:
			d.Received.add(owed)
		case nota.Overdue(today):
			d.Overdue.add(owed)
		default:
			d.Receivable.add(owed)
		}
	}
	return &d, nil
}

// PendingInvoice is one row of the pending list: an invoice not yet fully
// received, annotated with its collection situation relative to today.
type PendingInvoice struct {
	ID             int64                `json:"id"`
	Number         string               `json:"numero_nf"`
	IssueDate      string               `json:"data_emissao"`
	ServiceType    models.ServiceType   `json:"tipo"`
	GrossAmount    decimal.Decimal      `json:"valor_bruto"`
	NetAmount      decimal.Decimal      `json:"valor_liquido"`
	DueDate        string               `json:"data_vencimento"`
	Payer          string               `json:"tomador"`
	Locality       string               `json:"localidade"`
	ReceiptStatus  models.ReceiptStatus `json:"status_recebimento"`
	Situation      string               `json:"situacao"`
	DaysDifference int                  `json:"dias_diferenca"`
}

// Situation labels on pending rows.
const (
	SituationOverdue    = "ATRASADO"
	SituationReceivable = "A_RECEBER"
)

// Pending lists every invoice still awaiting full payment, oldest due date
// first. DaysDifference is positive once the due date has passed and negative
// while the invoice is still within term.
func (s *Service) Pending(today time.Time) ([]PendingInvoice, error) {
	notas, err := s.notas.ListUnreceived()
	if err != nil {
		return nil, err
	}

	pending := make([]PendingInvoice, 0, len(notas))
	for _, nota := range notas {
		situation := SituationReceivable
		if nota.Overdue(today) {
			situation = SituationOverdue
		}
		pending = append(pending, PendingInvoice{
			ID:             nota.ID,
			Number:         nota.Number,
			IssueDate:      nota.IssueDate.Format(dateLayout),
			ServiceType:    nota.ServiceType,
			GrossAmount:    nota.GrossAmount,
			NetAmount:      nota.AmountOwed(),
			DueDate:        nota.DueDate.Format(dateLayout),
			Payer:          nota.Payer,
			Locality:       nota.Locality,
			ReceiptStatus:  nota.ReceiptStatus,
			Situation:      situation,
			DaysDifference: daysBetween(nota.DueDate, today),
		})
	}
	return pending, nil
}

// FinancialSummary is the lifetime cost breakdown of collecting the
// receivables: discounts paid for advancing invoices plus the statutory
// withholdings retained at the source.
type FinancialSummary struct {
	AdvanceCost        decimal.Decimal `json:"juros"`
	UtilityWithholding decimal.Decimal `json:"retencao_equatorial"`
	ServiceTax         decimal.Decimal `json:"iss"`
	SocialSecurity     decimal.Decimal `json:"inss"`
}

// FinancialSummary totals the withholding columns across all invoices.
func (s *Service) FinancialSummary() (*FinancialSummary, error) {
	totals, err := s.notas.SumWithholdings()
	if err != nil {
		return nil, err
	}
	return &FinancialSummary{
		AdvanceCost:        totals.AdvanceDiscount,
		UtilityWithholding: totals.UtilityWithholding,
		ServiceTax:         totals.ServiceTax,
		SocialSecurity:     totals.SocialSecurity,
	}, nil
}

// Report kinds accepted by ExportRows.
const (
	ReportAllInvoices = "todas_notas"
	ReportPending     = "pendentes"
	ReportStatement   = "extrato"
)

// RowSet is a flat tabular report: ordered headers plus one map per row.
type RowSet struct {
	Headers []string
	Rows    []map[string]any
}

// ExportRows builds the flat row set for one of the exportable reports.
// Unknown kinds are an error so a typo in a request surfaces instead of
// producing an empty file.
func (s *Service) ExportRows(kind string, today time.Time) (*RowSet, error) {
	switch kind {
	case ReportAllInvoices:
		return s.allInvoiceRows()
	case ReportPending:
		return s.pendingRows(today)
	case ReportStatement:
		return s.statementRows()
	}
	return nil, fmt.Errorf("unknown report type: %q", kind)
}

func (s *Service) allInvoiceRows() (*RowSet, error) {
	notas, err := s.notas.List()
	if err != nil {
		return nil, err
	}

	set := &RowSet{
		Headers: []string{
			"Nº NF", "Data Emissão", "Tipo", "Valor Bruto", "Localidade",
			"Tomador", "INSS", "ISS", "Retenção Equatorial", "PIS/COFINS/CSLL",
			"Valor Nominal", "Valor Líquido Vinci", "Data Vencimento", "Status",
		},
	}
	for _, nota := range notas {
		set.Rows = append(set.Rows, map[string]any{
			"Nº NF":               nota.Number,
			"Data Emissão":        nota.IssueDate.Format(dateLayout),
			"Tipo":                string(nota.ServiceType),
			"Valor Bruto":         nota.GrossAmount.InexactFloat64(),
			"Localidade":          nota.Locality,
			"Tomador":             nota.Payer,
			"INSS":                nota.SocialSecurity.InexactFloat64(),
			"ISS":                 nota.ServiceTax.InexactFloat64(),
			"Retenção Equatorial": nota.UtilityWithholding.InexactFloat64(),
			"PIS/COFINS/CSLL":     nota.PISCofinsCSLL.InexactFloat64(),
			"Valor Nominal":       firstValid(nota.ConfirmedNetAmount, nota.ComputedNetAmount),
			"Valor Líquido Vinci": nullableFloat(nota.SettledNetAmount),
			"Data Vencimento":     nota.DueDate.Format(dateLayout),
			"Status":              string(nota.ReceiptStatus),
		})
	}
	return set, nil
}

func (s *Service) pendingRows(today time.Time) (*RowSet, error) {
	pending, err := s.Pending(today)
	if err != nil {
		return nil, err
	}

	set := &RowSet{
		Headers: []string{
			"Nº NF", "Data Emissão", "Tipo", "Valor a Receber",
			"Data Vencimento", "Situação", "Dias", "Tomador", "Localidade",
		},
	}
	for _, p := range pending {
		situation := "A RECEBER"
		if p.Situation == SituationOverdue {
			situation = "ATRASADO"
		}
		set.Rows = append(set.Rows, map[string]any{
			"Nº NF":           p.Number,
			"Data Emissão":    p.IssueDate,
			"Tipo":            string(p.ServiceType),
			"Valor a Receber": p.NetAmount.InexactFloat64(),
			"Data Vencimento": p.DueDate,
			"Situação":        situation,
			"Dias":            p.DaysDifference,
			"Tomador":         p.Payer,
			"Localidade":      p.Locality,
		})
	}
	return set, nil
}

func (s *Service) statementRows() (*RowSet, error) {
	receipts, err := s.extrato.List(nil)
	if err != nil {
		return nil, err
	}

	set := &RowSet{
		Headers: []string{
			"Data Recebimento", "Valor Recebido", "NFs", "Tipo",
			"Adiantado", "Complemento",
		},
	}
	for _, receipt := range receipts {
		advanced := "NÃO"
		if receipt.WasAdvance {
			advanced = "SIM"
		}
		set.Rows = append(set.Rows, map[string]any{
			"Data Recebimento": receipt.ReceiptDate.Format(dateLayout),
			"Valor Recebido":   receipt.AmountReceived.InexactFloat64(),
			"NFs":              receipt.ReferencedInvoices,
			"Tipo":             receipt.ReceiptType,
			"Adiantado":        advanced,
			"Complemento":      receipt.Note,
		})
	}
	return set, nil
}

// firstValid returns the first non-null candidate as a float, or nil. This is
// a plain null coalesce, not the owed-amount resolution: the export mirrors
// the stored columns and keeps zero values visible.
func firstValid(candidates ...decimal.NullDecimal) any {
	for _, c := range candidates {
		if c.Valid {
			return c.Decimal.InexactFloat64()
		}
	}
	return nil
}

func nullableFloat(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

func daysBetween(due, today time.Time) int {
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(d).Hours() / 24)
}
