package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/config"
	"github.com/rezendeng/faturamento/internal/export"
	"github.com/rezendeng/faturamento/internal/ingest"
	"github.com/rezendeng/faturamento/internal/reconcile"
	"github.com/rezendeng/faturamento/internal/report"
	"github.com/rezendeng/faturamento/internal/repository"
	"github.com/rezendeng/faturamento/pkg/database"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	notas := repository.NewNotaRepository(db.DB, logger)
	extrato := repository.NewExtratoRepository(db.DB, logger)
	links := repository.NewConciliacaoRepository(db.DB, logger)
	engine := reconcile.NewEngine(db, notas, extrato, links, logger)

	server := NewServer(config.ServerConfig{}, Deps{
		Notas:     notas,
		Extrato:   extrato,
		Engine:    engine,
		Reports:   report.NewService(notas, extrato, logger),
		Extractor: ingest.NewExtractor("", "", logger),
		Importer:  ingest.NewImporter(notas, engine, logger),
		Exporter:  export.NewWriter(logger),
		Upload:    config.UploadConfig{Dir: t.TempDir(), MaxSizeBytes: 16 << 20},
		Export:    config.ExportConfig{CompanyName: "Rezende"},
	}, logger)

	return server.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != excelMIME {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func createInvoice(t *testing.T, router *gin.Engine, number string) int64 {
	t.Helper()

	rec, body := doJSON(t, router, http.MethodPost, "/api/notas", gin.H{
		"data_emissao": "10/03/2025",
		"numero_nf":    number,
		"tipo":         "CONSTRUCAO",
		"valor_bruto":  "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	nota, ok := body["nota"].(map[string]any)
	require.True(t, ok)
	return int64(nota["id"].(float64))
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "faturamento", body["service"])
}

func TestComputeWithholdings(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/api/calcular", gin.H{
		"tipo":        "CONSTRUCAO",
		"valor_bruto": "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, true, body["tipo_reconhecido"])
	assert.Equal(t, "845", body["valor_nominal"])

	retencoes, ok := body["retencoes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "55", retencoes["inss"])
	assert.Equal(t, "50", retencoes["iss"])
	assert.Equal(t, "50", retencoes["retencao_equatorial"])
	assert.Equal(t, "0", retencoes["pis_cofins_csll"])
}

func TestComputeWithholdingsRejectsMissingType(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/api/calcular", gin.H{
		"valor_bruto": "1000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestCreateAndListInvoices(t *testing.T) {
	router := newTestRouter(t)
	createInvoice(t, router, "4821")

	rec, body := doJSON(t, router, http.MethodGet, "/api/notas", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notas, ok := body["notas"].([]any)
	require.True(t, ok)
	require.Len(t, notas, 1)

	nota := notas[0].(map[string]any)
	assert.Equal(t, "4821", nota["numero_nf"])
	assert.Equal(t, "PENDENTE", nota["status_recebimento"])
	// Withholdings not sent on the request are computed from the type.
	assert.Equal(t, "845", nota["valor_nominal_calculado"])
}

func TestCreateInvoiceRejectsBadDate(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/api/notas", gin.H{
		"data_emissao": "10-03-25",
		"numero_nf":    "4821",
		"tipo":         "CONSTRUCAO",
		"valor_bruto":  "1000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestRegisterReceiptSettlesInvoice(t *testing.T) {
	router := newTestRouter(t)
	createInvoice(t, router, "4821")

	rec, body := doJSON(t, router, http.MethodPost, "/api/recebimentos", gin.H{
		"data_recebimento": "02/04/2025",
		"valor_recebido":   "845",
		"nfs_referentes":   "4821, 999",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	links, ok := body["conciliacoes"].([]any)
	require.True(t, ok)
	assert.Len(t, links, 1)
	assert.Equal(t, []any{"999"}, body["nfs_nao_encontradas"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/notas/pendentes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["notas"])
}

func TestListStatementFilter(t *testing.T) {
	router := newTestRouter(t)
	createInvoice(t, router, "4821")

	rec, _ := doJSON(t, router, http.MethodPost, "/api/recebimentos", gin.H{
		"data_recebimento": "02/04/2025",
		"valor_recebido":   "845",
		"nfs_referentes":   "4821",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := doJSON(t, router, http.MethodGet, "/api/extrato", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["extrato"], 1)

	rec, body = doJSON(t, router, http.MethodGet, "/api/extrato?filtro=adiantados", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["extrato"])
}

func TestAdvanceInvoice(t *testing.T) {
	router := newTestRouter(t)
	id := createInvoice(t, router, "4821")

	rec, body := doJSON(t, router, http.MethodPost, "/api/notas/"+itoa(id)+"/adiantar", gin.H{
		"valor_liquido_vinci": "800",
		"data_adiantamento":   "20/03/2025",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dados, ok := body["dados"].(map[string]any)
	require.True(t, ok)
	// Computed net 845, settled at 800: 45 retained.
	assert.Equal(t, "45", dados["valor_retido"])
	assert.Equal(t, "RECEBIDO", dados["status_recebimento"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/extrato?filtro=adiantados", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["extrato"], 1)
}

func TestAdvanceInvoiceNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/api/notas/999/adiantar", gin.H{
		"valor_liquido_vinci": "800",
		"data_adiantamento":   "20/03/2025",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestDashboard(t *testing.T) {
	router := newTestRouter(t)
	createInvoice(t, router, "4821")

	rec, body := doJSON(t, router, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Contains(t, body, "dashboard")
	require.Contains(t, body, "pendentes")
	require.Contains(t, body, "analise_financeira")
	assert.Len(t, body["pendentes"], 1)
}

func TestExportReport(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodGet, "/api/exportar/todas_notas", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "nenhum dado para exportar", body["error"])

	createInvoice(t, router, "4821")

	rec, _ = doJSON(t, router, http.MethodGet, "/api/exportar/todas_notas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, excelMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "relatorio_todas_notas_")
	assert.NotZero(t, rec.Body.Len())
}

func TestExportFullWorkbook(t *testing.T) {
	router := newTestRouter(t)
	createInvoice(t, router, "4821")

	rec, _ := doJSON(t, router, http.MethodGet, "/api/exportar-completo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, excelMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Faturamento_Rezende_")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
