package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is an extrato entry: a single recorded cash inflow. Receipts are
// immutable after creation; corrections are new entries.
type Receipt struct {
	ID                 int64           `json:"id"`
	ReceiptDate        time.Time       `json:"data_recebimento"`
	AmountReceived     decimal.Decimal `json:"valor_recebido"`
	ReferencedInvoices string          `json:"nfs_referentes"`
	ReceiptType        string          `json:"tipo_recebimento"`
	Note               string          `json:"complemento"`
	WasAdvance         bool            `json:"foi_adiantado"`
	CreatedAt          time.Time       `json:"criado_em"`
}

// ReceiptPayload is the normalized receipt input. ReferencedInvoices carries
// the raw comma-separated reference text exactly as entered; parsing happens
// in the reconciliation engine.
type ReceiptPayload struct {
	ReceiptDate        time.Time
	AmountReceived     decimal.Decimal
	ReferencedInvoices string
	ReceiptType        string
	Note               string
	WasAdvance         bool
}

// Validate checks structural validity. Non-positive amounts are accepted and
// persisted (the legacy spreadsheet contains them) but will be flagged by the
// caller; they still reconcile off references like any other receipt.
func (p *ReceiptPayload) Validate() error {
	if p.ReceiptDate.IsZero() {
		return fmt.Errorf("data_recebimento is required")
	}
	if strings.TrimSpace(p.ReceiptType) == "" {
		return fmt.Errorf("tipo_recebimento is required")
	}
	return nil
}

// Reconciliation links a receipt to an invoice it settles. The amount is the
// invoice's resolved owed amount at match time, not a pro-rated share of the
// receipt's cash value.
type Reconciliation struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"nota_fiscal_id"`
	ReceiptID   int64           `json:"extrato_id"`
	Amount      decimal.Decimal `json:"valor_conciliado"`
	ReceiptType string          `json:"tipo_recebimento"`
}

// AdvancePayload is the input for settling an invoice early at a discount.
type AdvancePayload struct {
	NetLiquidAmount   decimal.Decimal
	AdvanceDate       time.Time
	PISCofinsWithheld bool
}

// Validate checks structural validity of the advance request.
func (p *AdvancePayload) Validate() error {
	if p.AdvanceDate.IsZero() {
		return fmt.Errorf("data_adiantamento is required")
	}
	if !p.NetLiquidAmount.IsPositive() {
		return fmt.Errorf("valor_liquido must be positive")
	}
	return nil
}
