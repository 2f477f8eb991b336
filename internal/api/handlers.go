package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/config"
	"github.com/rezendeng/faturamento/internal/export"
	"github.com/rezendeng/faturamento/internal/ingest"
	"github.com/rezendeng/faturamento/internal/models"
	"github.com/rezendeng/faturamento/internal/reconcile"
	"github.com/rezendeng/faturamento/internal/report"
	"github.com/rezendeng/faturamento/internal/repository"
	"github.com/rezendeng/faturamento/internal/tax"
)

const excelMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers.
type Handlers struct {
	notas     *repository.NotaRepository
	extrato   *repository.ExtratoRepository
	engine    *reconcile.Engine
	reports   *report.Service
	extractor *ingest.Extractor
	importer  *ingest.Importer
	exporter  *export.Writer
	upload    config.UploadConfig
	export    config.ExportConfig
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	return &Handlers{
		notas:     deps.Notas,
		extrato:   deps.Extrato,
		engine:    deps.Engine,
		reports:   deps.Reports,
		extractor: deps.Extractor,
		importer:  deps.Importer,
		exporter:  deps.Exporter,
		upload:    deps.Upload,
		export:    deps.Export,
		logger:    logger,
	}
}

func fail(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, gin.H{"success": false, "error": fmt.Sprintf(format, args...)})
}

// parseDate accepts the Brazilian dd/mm/yyyy form used by the front end and
// the ISO form used by integrations.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", raw)
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "faturamento",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// UploadPDF handles POST /api/upload. The PDF is parsed and the extracted
// fields returned with computed withholdings; nothing is persisted until the
// user confirms via POST /api/notas.
func (h *Handlers) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "nenhum arquivo enviado")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		fail(c, http.StatusBadRequest, "apenas arquivos PDF são permitidos")
		return
	}

	if err := os.MkdirAll(h.upload.Dir, 0755); err != nil {
		fail(c, http.StatusInternalServerError, "erro ao preparar upload: %v", err)
		return
	}
	path := filepath.Join(h.upload.Dir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		fail(c, http.StatusInternalServerError, "erro ao salvar arquivo: %v", err)
		return
	}
	defer os.Remove(path)

	extraction, err := h.extractor.ExtractFromPDF(c.Request.Context(), path)
	if err != nil {
		h.logger.Error("PDF extraction failed", zap.String("file", file.Filename), zap.Error(err))
		fail(c, http.StatusInternalServerError, "erro ao processar arquivo: %v", err)
		return
	}

	breakdown := tax.Compute(extraction.ServiceType, extraction.GrossAmount, false)

	c.JSON(http.StatusOK, gin.H{
		"success":                 true,
		"dados":                   extraction,
		"retencoes":               breakdown,
		"valor_nominal_calculado": breakdown.NetAmount,
	})
}

type computeRequest struct {
	ServiceType       string          `json:"tipo" binding:"required"`
	GrossAmount       decimal.Decimal `json:"valor_bruto"`
	PISCofinsWithheld bool            `json:"pis_cofins_retido"`
}

// ComputeWithholdings handles POST /api/calcular
func (h *Handlers) ComputeWithholdings(c *gin.Context) {
	var req computeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "requisição inválida: %v", err)
		return
	}

	breakdown := tax.Compute(models.ServiceType(req.ServiceType), req.GrossAmount, req.PISCofinsWithheld)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"retencoes": gin.H{
			"inss":                breakdown.SocialSecurity.Round(2),
			"iss":                 breakdown.ServiceTax.Round(2),
			"retencao_equatorial": breakdown.UtilityWithholding.Round(2),
			"pis_cofins_csll":     breakdown.PISCofinsCSLL.Round(2),
		},
		"valor_nominal":    breakdown.NetAmount,
		"tipo_reconhecido": breakdown.Known,
	})
}

type invoiceRequest struct {
	IssueDate          string           `json:"data_emissao" binding:"required"`
	Number             string           `json:"numero_nf" binding:"required"`
	ServiceType        string           `json:"tipo" binding:"required"`
	GrossAmount        decimal.Decimal  `json:"valor_bruto"`
	Locality           string           `json:"localidade"`
	Payer              string           `json:"tomador"`
	SocialSecurity     *decimal.Decimal `json:"inss"`
	ServiceTax         *decimal.Decimal `json:"iss"`
	UtilityWithholding *decimal.Decimal `json:"retencao_equatorial"`
	PISCofinsWithheld  bool             `json:"pis_cofins_retido"`
	PISCofinsCSLL      *decimal.Decimal `json:"pis_cofins_csll"`
	ConfirmedNetAmount *decimal.Decimal `json:"valor_nominal_conferencia"`
	ComputedNetAmount  *decimal.Decimal `json:"valor_nominal_calculado"`
}

// CreateInvoice handles POST /api/notas. Withholdings are taken from the
// request when present (the review form lets the user correct extracted
// values) and computed from the service type otherwise.
func (h *Handlers) CreateInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "requisição inválida: %v", err)
		return
	}

	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		fail(c, http.StatusBadRequest, "data_emissao inválida: %v", err)
		return
	}

	serviceType := models.ServiceType(strings.TrimSpace(req.ServiceType))
	breakdown := tax.Compute(serviceType, req.GrossAmount, req.PISCofinsWithheld)

	payload := models.InvoicePayload{
		IssueDate:          issueDate,
		Number:             req.Number,
		ServiceType:        serviceType,
		GrossAmount:        req.GrossAmount,
		Locality:           req.Locality,
		Payer:              req.Payer,
		SocialSecurity:     orDefault(req.SocialSecurity, breakdown.SocialSecurity),
		ServiceTax:         orDefault(req.ServiceTax, breakdown.ServiceTax),
		UtilityWithholding: orDefault(req.UtilityWithholding, breakdown.UtilityWithholding),
		PISCofinsWithheld:  req.PISCofinsWithheld,
		PISCofinsCSLL:      orDefault(req.PISCofinsCSLL, breakdown.PISCofinsCSLL),
		ConfirmedNetAmount: toNullable(req.ConfirmedNetAmount),
		ComputedNetAmount:  toNullable(orDefaultPtr(req.ComputedNetAmount, breakdown.NetAmount)),
	}
	if err := payload.Validate(); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}

	nota := models.NewInvoice(payload)
	if err := h.notas.Create(nil, nota); err != nil {
		fail(c, http.StatusInternalServerError, "erro ao salvar: %v", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": fmt.Sprintf("Nota fiscal %s salva com sucesso!", nota.Number),
		"nota":    nota,
	})
}

// ListInvoices handles GET /api/notas
func (h *Handlers) ListInvoices(c *gin.Context) {
	notas, err := h.notas.List()
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notas": notas})
}

// ListPending handles GET /api/notas/pendentes
func (h *Handlers) ListPending(c *gin.Context) {
	pending, err := h.reports.Pending(time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notas": pending})
}

type receiptRequest struct {
	ReceiptDate        string          `json:"data_recebimento" binding:"required"`
	AmountReceived     decimal.Decimal `json:"valor_recebido"`
	ReferencedInvoices string          `json:"nfs_referentes"`
	ReceiptType        string          `json:"tipo_recebimento"`
	Note               string          `json:"complemento"`
}

// RegisterReceipt handles POST /api/recebimentos
func (h *Handlers) RegisterReceipt(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "requisição inválida: %v", err)
		return
	}

	receiptDate, err := parseDate(req.ReceiptDate)
	if err != nil {
		fail(c, http.StatusBadRequest, "data_recebimento inválida: %v", err)
		return
	}

	receiptType := strings.TrimSpace(req.ReceiptType)
	if receiptType == "" {
		receiptType = models.ReceiptTypeIntegral
	}

	result, err := h.engine.RegisterReceipt(models.ReceiptPayload{
		ReceiptDate:        receiptDate,
		AmountReceived:     req.AmountReceived,
		ReferencedInvoices: req.ReferencedInvoices,
		ReceiptType:        receiptType,
		Note:               req.Note,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "erro ao registrar recebimento: %v", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":             true,
		"message":             "Recebimento registrado com sucesso!",
		"extrato_id":          result.Receipt.ID,
		"conciliacoes":        result.Links,
		"nfs_nao_encontradas": result.Unresolved,
	})
}

// ListStatement handles GET /api/extrato with an optional
// filtro=adiantados|normais query parameter.
func (h *Handlers) ListStatement(c *gin.Context) {
	var advanceOnly *bool
	switch c.Query("filtro") {
	case "adiantados":
		v := true
		advanceOnly = &v
	case "normais":
		v := false
		advanceOnly = &v
	}

	receipts, err := h.extrato.List(advanceOnly)
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "extrato": receipts})
}

type advanceRequest struct {
	NetLiquidAmount   decimal.Decimal `json:"valor_liquido_vinci"`
	AdvanceDate       string          `json:"data_adiantamento" binding:"required"`
	PISCofinsWithheld bool            `json:"pis_cofins_retido"`
}

// AdvanceInvoice handles POST /api/notas/:id/adiantar
func (h *Handlers) AdvanceInvoice(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "id inválido")
		return
	}

	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "requisição inválida: %v", err)
		return
	}

	advanceDate, err := parseDate(req.AdvanceDate)
	if err != nil {
		fail(c, http.StatusBadRequest, "data_adiantamento inválida: %v", err)
		return
	}

	result, err := h.engine.Advance(id, models.AdvancePayload{
		NetLiquidAmount:   req.NetLiquidAmount,
		AdvanceDate:       advanceDate,
		PISCofinsWithheld: req.PISCofinsWithheld,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrInvoiceNotFound) {
			fail(c, http.StatusNotFound, "nota fiscal não encontrada")
			return
		}
		fail(c, http.StatusInternalServerError, "erro ao registrar adiantamento: %v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Adiantamento registrado com sucesso e lançamento criado no extrato!",
		"dados":   result,
	})
}

// Dashboard handles GET /api/dashboard
func (h *Handlers) Dashboard(c *gin.Context) {
	now := time.Now()

	dashboard, err := h.reports.Dashboard(now)
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	pending, err := h.reports.Pending(now)
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	summary, err := h.reports.FinancialSummary()
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"dashboard":          dashboard,
		"pendentes":          pending,
		"analise_financeira": summary,
	})
}

// ExportReport handles GET /api/exportar/:tipo
func (h *Handlers) ExportReport(c *gin.Context) {
	kind := c.Param("tipo")

	set, err := h.reports.ExportRows(kind, time.Now())
	if err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if len(set.Rows) == 0 {
		fail(c, http.StatusBadRequest, "nenhum dado para exportar")
		return
	}

	f, err := h.exporter.WriteReport(set)
	if err != nil {
		fail(c, http.StatusInternalServerError, "erro ao exportar: %v", err)
		return
	}

	filename := fmt.Sprintf("relatorio_%s_%s.xlsx", kind, time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	c.Header("Content-Type", excelMIME)
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("Failed to stream report", zap.String("tipo", kind), zap.Error(err))
	}
}

// ExportFullWorkbook handles GET /api/exportar-completo
func (h *Handlers) ExportFullWorkbook(c *gin.Context) {
	notas, err := h.notas.List()
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}
	receipts, err := h.extrato.List(nil)
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}

	f, err := h.exporter.WriteFullWorkbook(notas, receipts)
	if err != nil {
		fail(c, http.StatusInternalServerError, "erro ao exportar planilha completa: %v", err)
		return
	}

	filename := fmt.Sprintf("Faturamento_%s_%s.xlsx", h.export.CompanyName, time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	c.Header("Content-Type", excelMIME)
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("Failed to stream full workbook", zap.Error(err))
	}
}

// ImportWorkbook handles POST /api/importar
func (h *Handlers) ImportWorkbook(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "nenhum arquivo enviado")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".xlsx" && ext != ".xlsm" {
		fail(c, http.StatusBadRequest, "apenas arquivos Excel (.xlsx, .xlsm) são permitidos")
		return
	}

	tmp, err := os.CreateTemp("", "importacao_*"+ext)
	if err != nil {
		fail(c, http.StatusInternalServerError, "erro ao preparar importação: %v", err)
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		fail(c, http.StatusInternalServerError, "erro ao salvar arquivo: %v", err)
		return
	}

	result, err := h.importer.ImportWorkbook(tmpPath)
	if err != nil {
		fail(c, http.StatusInternalServerError, "erro ao importar: %v", err)
		return
	}

	dashboard, err := h.reports.Dashboard(time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, "%v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Planilha importada com sucesso!",
		"dados":     result,
		"dashboard": dashboard,
	})
}

func orDefault(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v != nil {
		return *v
	}
	return fallback
}

func orDefaultPtr(v *decimal.Decimal, fallback decimal.Decimal) *decimal.Decimal {
	if v != nil {
		return v
	}
	return &fallback
}

func toNullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
