package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType classifies a nota fiscal by the kind of service billed.
// The values match the strings used in the billing spreadsheet.
type ServiceType string

const (
	ServiceConstruction   ServiceType = "CONSTRUCAO"
	ServiceDielectricTest ServiceType = "ENSAIO DIELETRICO"
	ServiceFreight        ServiceType = "TRANSPORTE"
	ServiceFreightCTE     ServiceType = "TRANSPORTE_CTE"
)

// Known reports whether the type is one of the four billable service types.
// Anything else flows through the system with zero statutory withholdings.
func (t ServiceType) Known() bool {
	switch t {
	case ServiceConstruction, ServiceDielectricTest, ServiceFreight, ServiceFreightCTE:
		return true
	}
	return false
}

// DaysToReceive returns the contractual payment term for the service type.
// Freight invoices (NF and CT-e) are paid in 60 days, everything else in 30.
func (t ServiceType) DaysToReceive() int {
	switch t {
	case ServiceFreight, ServiceFreightCTE:
		return 60
	}
	return 30
}

// ReceiptStatus is the derived collection status of an invoice. It is never
// set directly by callers; the reconciliation engine owns it.
type ReceiptStatus string

const (
	StatusPending  ReceiptStatus = "PENDENTE"
	StatusPartial  ReceiptStatus = "PARCIAL"
	StatusReceived ReceiptStatus = "RECEBIDO"
)

// Receipt type labels used on extrato entries.
const (
	ReceiptTypeIntegral = "Integral"
	ReceiptTypeAdvance  = "Adiantamento"
)

// Invoice is a nota fiscal issued for a service. Invoice numbers are kept as
// text to preserve leading zeros and spreadsheet artifacts; NormalizedNumber
// holds the comparable form used by reconciliation lookups.
type Invoice struct {
	ID               int64       `json:"id"`
	IssueDate        time.Time   `json:"data_emissao"`
	Number           string      `json:"numero_nf"`
	NormalizedNumber string      `json:"-"`
	ServiceType      ServiceType `json:"tipo"`

	GrossAmount decimal.Decimal `json:"valor_bruto"`
	Locality    string          `json:"localidade"`
	Payer       string          `json:"tomador"`

	SocialSecurity     decimal.Decimal `json:"inss"`
	ServiceTax         decimal.Decimal `json:"iss"`
	UtilityWithholding decimal.Decimal `json:"retencao_equatorial"`
	PISCofinsWithheld  bool            `json:"pis_cofins_retido"`
	PISCofinsCSLL      decimal.Decimal `json:"pis_cofins_csll"`

	// Amount-owed override chain, highest priority first. Null or
	// non-positive values are treated as absent.
	ConfirmedNetAmount decimal.NullDecimal `json:"valor_nominal_conferencia"`
	SettledNetAmount   decimal.NullDecimal `json:"valor_liquido_vinci"`
	ComputedNetAmount  decimal.NullDecimal `json:"valor_nominal_calculado"`

	WasAdvanced       bool                `json:"foi_adiantado"`
	AdvanceDate       *time.Time          `json:"data_adiantamento"`
	AdvancePercentage decimal.NullDecimal `json:"percentual_adiantamento"`
	AdvanceDiscount   decimal.NullDecimal `json:"valor_retido_vinci"`

	DueDate       time.Time     `json:"data_vencimento"`
	DaysToReceive int           `json:"dias_para_receber"`
	ReceiptStatus ReceiptStatus `json:"status_recebimento"`
	CreatedAt     time.Time     `json:"criado_em"`
}

// AmountOwed resolves the authoritative amount expected for this invoice.
// Priority: confirmed net, settled net, computed net, gross. A candidate is
// skipped when null or not strictly positive. Every consumer of an "amount
// owed" (status derivation, reporting, reconciliation) must go through this
// method; diverging copies of the hierarchy were the main source of bugs in
// the spreadsheet era.
func (n *Invoice) AmountOwed() decimal.Decimal {
	for _, candidate := range []decimal.NullDecimal{
		n.ConfirmedNetAmount,
		n.SettledNetAmount,
		n.ComputedNetAmount,
	} {
		if candidate.Valid && candidate.Decimal.IsPositive() {
			return candidate.Decimal
		}
	}
	return n.GrossAmount
}

// Overdue reports whether the invoice is past due as of the given date.
func (n *Invoice) Overdue(today time.Time) bool {
	return n.DueDate.Before(truncateToDay(today))
}

// NormalizeNumber strips surrounding whitespace and a single literal trailing
// ".0" from an invoice number token. The suffix is a numeric-to-text coercion
// artifact of spreadsheet imports. Only the trailing artifact is removed:
// "10.05" and "00123" pass through unchanged.
func NormalizeNumber(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	return strings.TrimSpace(s)
}

// InvoicePayload is the normalized invoice input produced by the ingestion
// adapters and the API layer.
type InvoicePayload struct {
	IssueDate          time.Time
	Number             string
	ServiceType        ServiceType
	GrossAmount        decimal.Decimal
	Locality           string
	Payer              string
	SocialSecurity     decimal.Decimal
	ServiceTax         decimal.Decimal
	UtilityWithholding decimal.Decimal
	PISCofinsWithheld  bool
	PISCofinsCSLL      decimal.Decimal
	ConfirmedNetAmount decimal.NullDecimal
	SettledNetAmount   decimal.NullDecimal
	ComputedNetAmount  decimal.NullDecimal
	WasAdvanced        bool
	AdvanceDate        *time.Time
	AdvancePercentage  decimal.NullDecimal
	AdvanceDiscount    decimal.NullDecimal
}

// Validate checks type and range of the payload fields. Text-extraction
// correctness is the adapter's problem; only structural validity is enforced.
func (p *InvoicePayload) Validate() error {
	if strings.TrimSpace(p.Number) == "" {
		return fmt.Errorf("numero_nf is required")
	}
	if p.IssueDate.IsZero() {
		return fmt.Errorf("data_emissao is required")
	}
	if p.GrossAmount.IsNegative() {
		return fmt.Errorf("valor_bruto must not be negative")
	}
	return nil
}

// NewInvoice builds an Invoice from a validated payload, deriving the due
// date, payment term and normalized number at creation time.
func NewInvoice(p InvoicePayload) *Invoice {
	days := p.ServiceType.DaysToReceive()
	return &Invoice{
		IssueDate:          p.IssueDate,
		Number:             strings.TrimSpace(p.Number),
		NormalizedNumber:   NormalizeNumber(p.Number),
		ServiceType:        p.ServiceType,
		GrossAmount:        p.GrossAmount,
		Locality:           p.Locality,
		Payer:              p.Payer,
		SocialSecurity:     p.SocialSecurity,
		ServiceTax:         p.ServiceTax,
		UtilityWithholding: p.UtilityWithholding,
		PISCofinsWithheld:  p.PISCofinsWithheld,
		PISCofinsCSLL:      p.PISCofinsCSLL,
		ConfirmedNetAmount: p.ConfirmedNetAmount,
		SettledNetAmount:   p.SettledNetAmount,
		ComputedNetAmount:  p.ComputedNetAmount,
		WasAdvanced:        p.WasAdvanced,
		AdvanceDate:        p.AdvanceDate,
		AdvancePercentage:  p.AdvancePercentage,
		AdvanceDiscount:    p.AdvanceDiscount,
		DueDate:            p.IssueDate.AddDate(0, 0, days),
		DaysToReceive:      days,
		ReceiptStatus:      StatusPending,
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
