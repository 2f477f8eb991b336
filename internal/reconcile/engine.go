// Package reconcile links cash receipts to the invoices they settle and
// derives each invoice's collection status.
package reconcile

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/repository"
	"github.com/rezendeng/faturamento/pkg/database"
)

// ErrInvoiceNotFound is returned when an operation targets an invoice id
// that does not exist.
var ErrInvoiceNotFound = errors.New("nota fiscal not found")

// Engine matches receipt references against stored invoices, records
// reconciliation links and keeps invoice statuses consistent.
type Engine struct {
	db      *database.DB
	notas   *repository.NotaRepository
	extrato *repository.ExtratoRepository
	links   *repository.ConciliacaoRepository
	logger  *zap.Logger
}

// NewEngine creates a new reconciliation engine
func NewEngine(
	db *database.DB,
	notas *repository.NotaRepository,
	extrato *repository.ExtratoRepository,
	links *repository.ConciliacaoRepository,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		db:      db,
		notas:   notas,
		extrato: extrato,
		links:   links,
		logger:  logger,
	}
}

// Result reports the outcome of registering one receipt.
type Result struct {
	Receipt    *models.Receipt          `json:"extrato"`
	Links      []*models.Reconciliation `json:"conciliacoes"`
	Unresolved []string                 `json:"nfs_nao_encontradas"`
}

// ParseReferences splits a raw comma-separated invoice reference string into
// trimmed tokens. An empty string means the receipt references no invoice.
func ParseReferences(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tokens []string
	for _, part := range strings.Split(raw, ",") {
		if token := strings.TrimSpace(part); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// RegisterReceipt persists the receipt and reconciles it against every
// invoice it references, all in one transaction. Each matched reference
// settles the invoice's full resolved owed amount against this receipt; the
// receipt's cash value is never split across references. Unresolvable
// references are collected, not fatal: the receipt is recorded either way.
func (e *Engine) RegisterReceipt(payload models.ReceiptPayload) (*Result, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	receipt := &models.Receipt{
		ReceiptDate:        payload.ReceiptDate,
		AmountReceived:     payload.AmountReceived,
		ReferencedInvoices: strings.TrimSpace(payload.ReferencedInvoices),
		ReceiptType:        strings.TrimSpace(payload.ReceiptType),
		Note:               payload.Note,
		WasAdvance:         payload.WasAdvance,
	}

	result := &Result{Receipt: receipt}

	err := e.db.WithTransaction(func(tx *sql.Tx) error {
		if err := e.extrato.Create(tx, receipt); err != nil {
			return err
		}

		tokens := ParseReferences(receipt.ReferencedInvoices)
		if len(tokens) == 0 {
			e.logger.Info("Receipt recorded without invoice references",
				zap.Int64("extrato_id", receipt.ID),
				zap.String("valor_recebido", receipt.AmountReceived.StringFixed(2)))
			return nil
		}

		for _, token := range tokens {
			link, err := e.reconcileToken(tx, receipt, token)
			if err != nil {
				return err
			}
			if link == nil {
				result.Unresolved = append(result.Unresolved, token)
				continue
			}
			result.Links = append(result.Links, link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// reconcileToken matches one reference token and records the link. A missing
// invoice yields (nil, nil): the token is skipped so the remaining references
// still reconcile.
func (e *Engine) reconcileToken(tx *sql.Tx, receipt *models.Receipt, token string) (*models.Reconciliation, error) {
	nota, err := e.notas.FindByNumber(tx, token)
	if err != nil {
		return nil, err
	}
	if nota == nil {
		e.logger.Warn("Referenced invoice not found",
			zap.String("numero_nf", models.NormalizeNumber(token)),
			zap.Int64("extrato_id", receipt.ID))
		return nil, nil
	}

	link := &models.Reconciliation{
		InvoiceID:   nota.ID,
		ReceiptID:   receipt.ID,
		Amount:      nota.AmountOwed(),
		ReceiptType: receipt.ReceiptType,
	}
	if err := e.links.Create(tx, link); err != nil {
		return nil, err
	}

	status, err := e.recomputeStatus(tx, nota)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Invoice reconciled",
		zap.String("numero_nf", nota.Number),
		zap.String("tipo_recebimento", receipt.ReceiptType),
		zap.String("valor_conciliado", link.Amount.StringFixed(2)),
		zap.String("status", string(status)))

	return link, nil
}

// RecomputeStatus re-derives the receipt status of an invoice from its
// reconciliation links. Idempotent: with unchanged links the status is stable.
func (e *Engine) RecomputeStatus(invoiceID int64) (models.ReceiptStatus, error) {
	var status models.ReceiptStatus
	err := e.db.WithTransaction(func(tx *sql.Tx) error {
		nota, err := e.notas.GetByID(tx, invoiceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoiceID)
			}
			return err
		}
		status, err = e.recomputeStatus(tx, nota)
		return err
	})
	return status, err
}

// recomputeStatus derives and persists the status within the caller's
// transaction: RECEBIDO when the reconciled total covers the resolved owed
// amount, PARCIAL when anything has been reconciled, PENDENTE otherwise.
func (e *Engine) recomputeStatus(tx *sql.Tx, nota *models.Invoice) (models.ReceiptStatus, error) {
	total, err := e.links.SumByInvoice(tx, nota.ID)
	if err != nil {
		return "", err
	}

	owed := nota.AmountOwed()

	status := models.StatusPending
	switch {
	case total.GreaterThanOrEqual(owed):
		status = models.StatusReceived
	case total.IsPositive():
		status = models.StatusPartial
	}

	if err := e.notas.UpdateStatus(tx, nota.ID, status); err != nil {
		return "", err
	}
	nota.ReceiptStatus = status
	return status, nil
}
