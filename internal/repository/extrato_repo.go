package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
)

// ExtratoRepository handles cash receipt (extrato) database operations.
type ExtratoRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExtratoRepository creates a new receipt repository
func NewExtratoRepository(db *sql.DB, logger *zap.Logger) *ExtratoRepository {
	return &ExtratoRepository{db: db, logger: logger}
}

func (r *ExtratoRepository) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a new receipt. Receipts are immutable after creation.
func (r *ExtratoRepository) Create(tx *sql.Tx, receipt *models.Receipt) error {
	result, err := r.q(tx).Exec(`
		INSERT INTO extrato (
			data_recebimento, valor_recebido, nfs_referentes,
			tipo_recebimento, complemento, foi_adiantado
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		receipt.ReceiptDate.Format(dateLayout),
		receipt.AmountReceived,
		receipt.ReferencedInvoices,
		receipt.ReceiptType,
		receipt.Note,
		receipt.WasAdvance,
	)
	if err != nil {
		r.logger.Error("Failed to create receipt", zap.Error(err))
		return fmt.Errorf("failed to create receipt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	receipt.ID = id
	return nil
}

// GetByID retrieves a receipt by id, returning ErrNotFound when absent.
func (r *ExtratoRepository) GetByID(id int64) (*models.Receipt, error) {
	row := r.db.QueryRow(`
		SELECT id, data_recebimento, valor_recebido, nfs_referentes,
			tipo_recebimento, complemento, foi_adiantado, criado_em
		FROM extrato
		WHERE id = ?
	`, id)

	receipt, err := scanExtrato(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get receipt", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// List returns receipts newest first. When advanceOnly is non-nil the result
// is filtered to advance (true) or regular (false) entries.
func (r *ExtratoRepository) List(advanceOnly *bool) ([]*models.Receipt, error) {
	query := `
		SELECT id, data_recebimento, valor_recebido, nfs_referentes,
			tipo_recebimento, complemento, foi_adiantado, criado_em
		FROM extrato
	`
	var args []any
	if advanceOnly != nil {
		query += ` WHERE foi_adiantado = ?`
		args = append(args, *advanceOnly)
	}
	query += ` ORDER BY data_recebimento DESC, id DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list receipts", zap.Error(err))
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		receipt, err := scanExtrato(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

func scanExtrato(row rowScanner) (*models.Receipt, error) {
	var receipt models.Receipt
	var receiptDate string
	var note sql.NullString

	err := row.Scan(
		&receipt.ID,
		&receiptDate,
		&receipt.AmountReceived,
		&receipt.ReferencedInvoices,
		&receipt.ReceiptType,
		&note,
		&receipt.WasAdvance,
		&receipt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	receipt.Note = note.String
	if receipt.ReceiptDate, err = time.Parse(dateLayout, receiptDate); err != nil {
		return nil, fmt.Errorf("invalid data_recebimento %q: %w", receiptDate, err)
	}
	return &receipt, nil
}
