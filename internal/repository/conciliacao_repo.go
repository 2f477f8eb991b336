package repository

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
)

// ConciliacaoRepository handles reconciliation link records. Rows are created
// by the reconciliation engine and never updated or deleted.
type ConciliacaoRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConciliacaoRepository creates a new reconciliation repository
func NewConciliacaoRepository(db *sql.DB, logger *zap.Logger) *ConciliacaoRepository {
	return &ConciliacaoRepository{db: db, logger: logger}
}

func (r *ConciliacaoRepository) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a reconciliation link between an invoice and a receipt.
func (r *ConciliacaoRepository) Create(tx *sql.Tx, link *models.Reconciliation) error {
	result, err := r.q(tx).Exec(`
		INSERT INTO conciliacao (
			nota_fiscal_id, extrato_id, valor_conciliado, tipo_recebimento
		) VALUES (?, ?, ?, ?)
	`,
		link.InvoiceID,
		link.ReceiptID,
		link.Amount,
		link.ReceiptType,
	)
	if err != nil {
		r.logger.Error("Failed to create reconciliation",
			zap.Int64("nota_fiscal_id", link.InvoiceID),
			zap.Int64("extrato_id", link.ReceiptID),
			zap.Error(err))
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	link.ID = id
	return nil
}

// SumByInvoice totals the reconciled amounts recorded against an invoice.
// Must run on the active transaction during reconciliation so links created
// in the same scope are counted.
func (r *ConciliacaoRepository) SumByInvoice(tx *sql.Tx, invoiceID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q(tx).QueryRow(`
		SELECT COALESCE(SUM(valor_conciliado), 0)
		FROM conciliacao
		WHERE nota_fiscal_id = ?
	`, invoiceID).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to sum reconciled amounts", zap.Int64("nota_fiscal_id", invoiceID), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to sum reconciled amounts: %w", err)
	}
	return total, nil
}

// ListByInvoice returns the reconciliation links recorded for an invoice.
func (r *ConciliacaoRepository) ListByInvoice(invoiceID int64) ([]*models.Reconciliation, error) {
	rows, err := r.db.Query(`
		SELECT id, nota_fiscal_id, extrato_id, valor_conciliado, tipo_recebimento
		FROM conciliacao
		WHERE nota_fiscal_id = ?
		ORDER BY id ASC
	`, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list reconciliations", zap.Int64("nota_fiscal_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	var links []*models.Reconciliation
	for rows.Next() {
		var link models.Reconciliation
		if err := rows.Scan(&link.ID, &link.InvoiceID, &link.ReceiptID, &link.Amount, &link.ReceiptType); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}
