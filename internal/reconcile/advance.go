package reconcile

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// AdvanceResult reports the discount applied by an early settlement.
type AdvanceResult struct {
	DiscountAmount     decimal.Decimal      `json:"valor_retido"`
	DiscountPercentage decimal.Decimal      `json:"percentual"`
	ReceiptID          int64                `json:"extrato_id"`
	Status             models.ReceiptStatus `json:"status_recebimento"`
}

// Advance settles an invoice early at a discount. The discount base is the
// computed net amount, reduced by the stored PIS/COFINS/CSLL withholding when
// that flag is being switched on. The settlement overwrites the confirmed net
// amount with the liquid value received, so the advanced amount becomes the
// authoritative owed amount from then on, and a matching receipt plus
// reconciliation link are generated so the extrato stays complete.
func (e *Engine) Advance(invoiceID int64, payload models.AdvancePayload) (*AdvanceResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var result AdvanceResult

	err := e.db.WithTransaction(func(tx *sql.Tx) error {
		nota, err := e.notas.GetByID(tx, invoiceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoiceID)
			}
			return err
		}

		base := decimal.Zero
		if nota.ComputedNetAmount.Valid {
			base = nota.ComputedNetAmount.Decimal
		}
		if payload.PISCofinsWithheld {
			base = base.Sub(nota.PISCofinsCSLL)
		}

		discount := base.Sub(payload.NetLiquidAmount)

		// Guard against a zero or negative base; the percentage is
		// defined as 0 in that case rather than an error.
		percentage := decimal.Zero
		if base.IsPositive() {
			percentage = discount.Div(base).Mul(hundred)
		}

		if err := e.notas.ApplyAdvance(tx, nota.ID, repository.AdvanceUpdate{
			PISCofinsWithheld:  payload.PISCofinsWithheld,
			AdvanceDate:        payload.AdvanceDate,
			SettledNetAmount:   payload.NetLiquidAmount,
			AdvancePercentage:  percentage,
			AdvanceDiscount:    discount,
			ConfirmedNetAmount: payload.NetLiquidAmount,
		}); err != nil {
			return err
		}

		receipt := &models.Receipt{
			ReceiptDate:        payload.AdvanceDate,
			AmountReceived:     payload.NetLiquidAmount,
			ReferencedInvoices: nota.Number,
			ReceiptType:        models.ReceiptTypeAdvance,
			Note:               fmt.Sprintf("Adiantamento automático - %s%% de taxa", percentage.StringFixed(1)),
			WasAdvance:         true,
		}
		if err := e.extrato.Create(tx, receipt); err != nil {
			return err
		}

		link := &models.Reconciliation{
			InvoiceID:   nota.ID,
			ReceiptID:   receipt.ID,
			Amount:      payload.NetLiquidAmount,
			ReceiptType: models.ReceiptTypeAdvance,
		}
		if err := e.links.Create(tx, link); err != nil {
			return err
		}

		// Re-read so status derivation sees the settlement fields just
		// written, not the pre-advance snapshot.
		nota, err = e.notas.GetByID(tx, nota.ID)
		if err != nil {
			return err
		}
		status, err := e.recomputeStatus(tx, nota)
		if err != nil {
			return err
		}

		result = AdvanceResult{
			DiscountAmount:     discount,
			DiscountPercentage: percentage,
			ReceiptID:          receipt.ID,
			Status:             status,
		}

		e.logger.Info("Invoice advanced",
			zap.String("numero_nf", nota.Number),
			zap.String("valor_liquido", payload.NetLiquidAmount.StringFixed(2)),
			zap.String("percentual", percentage.StringFixed(2)),
			zap.String("status", string(status)))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}
