package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

const dateLayout = "2006-01-02"

// notaColumns is the canonical select list shared by every invoice query.
const notaColumns = `
	id, data_emissao, numero_nf, numero_nf_normalizado, tipo, valor_bruto,
	localidade, tomador, inss, iss, retencao_equatorial, pis_cofins_retido,
	pis_cofins_csll, valor_nominal_conferencia, valor_liquido_vinci,
	valor_nominal_calculado, foi_adiantado, data_adiantamento,
	percentual_adiantamento, valor_retido_vinci, data_vencimento,
	dias_para_receber, status_recebimento, criado_em
`

// NotaRepository handles nota fiscal database operations.
type NotaRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotaRepository creates a new invoice repository
func NewNotaRepository(db *sql.DB, logger *zap.Logger) *NotaRepository {
	return &NotaRepository{db: db, logger: logger}
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func (r *NotaRepository) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a new invoice. The caller is expected to have built the
// record through models.NewInvoice so the due date and normalized number are
// already derived.
func (r *NotaRepository) Create(tx *sql.Tx, nota *models.Invoice) error {
	query := `
		INSERT INTO notas_fiscais (
			data_emissao, numero_nf, numero_nf_normalizado, tipo, valor_bruto,
			localidade, tomador, inss, iss, retencao_equatorial,
			pis_cofins_retido, pis_cofins_csll, valor_nominal_conferencia,
			valor_liquido_vinci, valor_nominal_calculado, foi_adiantado,
			data_adiantamento, percentual_adiantamento, valor_retido_vinci,
			data_vencimento, dias_para_receber, status_recebimento
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.q(tx).Exec(query,
		nota.IssueDate.Format(dateLayout),
		nota.Number,
		nota.NormalizedNumber,
		string(nota.ServiceType),
		nota.GrossAmount,
		nota.Locality,
		nota.Payer,
		nota.SocialSecurity,
		nota.ServiceTax,
		nota.UtilityWithholding,
		nota.PISCofinsWithheld,
		nota.PISCofinsCSLL,
		nota.ConfirmedNetAmount,
		nota.SettledNetAmount,
		nota.ComputedNetAmount,
		nota.WasAdvanced,
		formatNullableDate(nota.AdvanceDate),
		nota.AdvancePercentage,
		nota.AdvanceDiscount,
		nota.DueDate.Format(dateLayout),
		nota.DaysToReceive,
		string(nota.ReceiptStatus),
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.String("numero_nf", nota.Number), zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	nota.ID = id
	return nil
}

// GetByID retrieves an invoice by id, returning ErrNotFound when absent.
func (r *NotaRepository) GetByID(tx *sql.Tx, id int64) (*models.Invoice, error) {
	row := r.q(tx).QueryRow(`SELECT `+notaColumns+` FROM notas_fiscais WHERE id = ?`, id)
	nota, err := scanNota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return nota, nil
}

// FindByNumber looks up an invoice by a reference token, matching either the
// raw stored number or the normalized form (trailing ".0" stripped). Returns
// nil without error when nothing matches: an unresolved reference is not a
// failure at this layer.
func (r *NotaRepository) FindByNumber(tx *sql.Tx, token string) (*models.Invoice, error) {
	normalized := models.NormalizeNumber(token)
	row := r.q(tx).QueryRow(`
		SELECT `+notaColumns+`
		FROM notas_fiscais
		WHERE numero_nf = ? OR numero_nf_normalizado = ?
		LIMIT 1
	`, token, normalized)

	nota, err := scanNota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find invoice by number", zap.String("token", token), zap.Error(err))
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	return nota, nil
}

// List returns all invoices, most recently issued first.
func (r *NotaRepository) List() ([]*models.Invoice, error) {
	return r.list(`SELECT ` + notaColumns + ` FROM notas_fiscais ORDER BY data_emissao DESC, id DESC`)
}

// ListUnreceived returns every invoice still awaiting full payment, ordered
// by due date so the oldest obligations come first.
func (r *NotaRepository) ListUnreceived() ([]*models.Invoice, error) {
	return r.list(`
		SELECT ` + notaColumns + `
		FROM notas_fiscais
		WHERE status_recebimento != 'RECEBIDO'
		ORDER BY data_vencimento ASC, id ASC
	`)
}

func (r *NotaRepository) list(query string) ([]*models.Invoice, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var notas []*models.Invoice
	for rows.Next() {
		nota, err := scanNota(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		notas = append(notas, nota)
	}
	return notas, rows.Err()
}

// UpdateStatus sets the derived receipt status of an invoice.
func (r *NotaRepository) UpdateStatus(tx *sql.Tx, id int64, status models.ReceiptStatus) error {
	_, err := r.q(tx).Exec(
		`UPDATE notas_fiscais SET status_recebimento = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// AdvanceUpdate carries the settlement fields written when an invoice is
// advanced. ConfirmedNetAmount is overwritten so the advanced amount takes
// top priority in the amount-owed resolution from then on.
type AdvanceUpdate struct {
	PISCofinsWithheld  bool
	AdvanceDate        time.Time
	SettledNetAmount   decimal.Decimal
	AdvancePercentage  decimal.Decimal
	AdvanceDiscount    decimal.Decimal
	ConfirmedNetAmount decimal.Decimal
}

// ApplyAdvance records the advance settlement on the invoice row.
func (r *NotaRepository) ApplyAdvance(tx *sql.Tx, id int64, u AdvanceUpdate) error {
	_, err := r.q(tx).Exec(`
		UPDATE notas_fiscais SET
			pis_cofins_retido = ?,
			foi_adiantado = 1,
			data_adiantamento = ?,
			valor_liquido_vinci = ?,
			percentual_adiantamento = ?,
			valor_retido_vinci = ?,
			valor_nominal_conferencia = ?
		WHERE id = ?
	`,
		u.PISCofinsWithheld,
		u.AdvanceDate.Format(dateLayout),
		u.SettledNetAmount,
		u.AdvancePercentage,
		u.AdvanceDiscount,
		u.ConfirmedNetAmount,
		id,
	)
	if err != nil {
		r.logger.Error("Failed to apply advance", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to apply advance: %w", err)
	}
	return nil
}

// WithholdingTotals aggregates the lifetime withholding and advance-cost
// sums used by the financial summary.
type WithholdingTotals struct {
	AdvanceDiscount    decimal.Decimal
	UtilityWithholding decimal.Decimal
	ServiceTax         decimal.Decimal
	SocialSecurity     decimal.Decimal
}

// SumWithholdings returns the financial totals across all invoices. The
// advance-discount sum only counts invoices that were actually advanced.
func (r *NotaRepository) SumWithholdings() (*WithholdingTotals, error) {
	var t WithholdingTotals
	err := r.db.QueryRow(`
		SELECT
			COALESCE((SELECT SUM(valor_retido_vinci) FROM notas_fiscais WHERE foi_adiantado = 1), 0),
			COALESCE(SUM(retencao_equatorial), 0),
			COALESCE(SUM(iss), 0),
			COALESCE(SUM(inss), 0)
		FROM notas_fiscais
	`).Scan(&t.AdvanceDiscount, &t.UtilityWithholding, &t.ServiceTax, &t.SocialSecurity)
	if err != nil {
		r.logger.Error("Failed to sum withholdings", zap.Error(err))
		return nil, fmt.Errorf("failed to sum withholdings: %w", err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNota(row rowScanner) (*models.Invoice, error) {
	var nota models.Invoice
	var issueDate, dueDate string
	var advanceDate sql.NullString
	var locality, payer sql.NullString
	var serviceType, status string

	err := row.Scan(
		&nota.ID,
		&issueDate,
		&nota.Number,
		&nota.NormalizedNumber,
		&serviceType,
		&nota.GrossAmount,
		&locality,
		&payer,
		&nota.SocialSecurity,
		&nota.ServiceTax,
		&nota.UtilityWithholding,
		&nota.PISCofinsWithheld,
		&nota.PISCofinsCSLL,
		&nota.ConfirmedNetAmount,
		&nota.SettledNetAmount,
		&nota.ComputedNetAmount,
		&nota.WasAdvanced,
		&advanceDate,
		&nota.AdvancePercentage,
		&nota.AdvanceDiscount,
		&dueDate,
		&nota.DaysToReceive,
		&status,
		&nota.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	nota.ServiceType = models.ServiceType(serviceType)
	nota.ReceiptStatus = models.ReceiptStatus(status)
	nota.Locality = locality.String
	nota.Payer = payer.String

	if nota.IssueDate, err = time.Parse(dateLayout, issueDate); err != nil {
		return nil, fmt.Errorf("invalid data_emissao %q: %w", issueDate, err)
	}
	if nota.DueDate, err = time.Parse(dateLayout, dueDate); err != nil {
		return nil, fmt.Errorf("invalid data_vencimento %q: %w", dueDate, err)
	}
	if advanceDate.Valid && advanceDate.String != "" {
		d, err := time.Parse(dateLayout, advanceDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid data_adiantamento %q: %w", advanceDate.String, err)
		}
		nota.AdvanceDate = &d
	}

	return &nota, nil
}

func formatNullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
