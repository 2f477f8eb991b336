// Package ingest brings invoices and receipts into the system from the
// outside world: nota fiscal PDFs and the legacy billing spreadsheet.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/models"
)

// Extraction is the raw field set pulled from one nota fiscal PDF. Amounts
// may be zero when the document layout defeats the patterns; the caller
// decides whether that is acceptable.
type Extraction struct {
	ServiceType models.ServiceType `json:"tipo"`
	Number      string             `json:"numero_nf"`
	IssueDate   string             `json:"data_emissao"`
	GrossAmount decimal.Decimal    `json:"valor_bruto"`
	Locality    string             `json:"localidade"`
	Payer       string             `json:"tomador"`

	SocialSecurity decimal.Decimal `json:"inss"`
	ServiceTax     decimal.Decimal `json:"iss"`

	// Type-specific references. Contract and record sheets appear on
	// construction invoices, STM and requisition numbers on freight ones.
	Contract     string `json:"contrato,omitempty"`
	RecordSheets string `json:"folhas_registro,omitempty"`
	STM          string `json:"stm,omitempty"`
	Requisition  string `json:"requisicao,omitempty"`
}

// ParsedIssueDate parses the extracted issue date, which PDFs carry in the
// Brazilian dd/mm/yyyy form.
func (x *Extraction) ParsedIssueDate() (time.Time, error) {
	return time.Parse("02/01/2006", x.IssueDate)
}

var (
	numberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Nº\s*(\d+)`),
		regexp.MustCompile(`(?is)NÚMERO\s*(\d+)`),
		regexp.MustCompile(`(?is)NF-e.*?Nº\s*(\d+)`),
		regexp.MustCompile(`(?is)NOTA FISCAL.*?Nº\s*(\d+)`),
		regexp.MustCompile(`(?is)CT-E.*?Nº\s*DOCUMENTO:\s*(\d+)`),
		regexp.MustCompile(`(?is)NÚMERO.*?(\d+).*?SÉRIE`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)emitida em:\s*(\d{2}/\d{2}/\d{4})`),
		regexp.MustCompile(`(?i)Data emissão\s*(\d{2}/\d{2}/\d{4})`),
		regexp.MustCompile(`(?i)DATA E HORA DE EMISSÃO\s*(\d{2}/\d{2}/\d{4})`),
		regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\s*\d{2}:\d{2}:\d{2}`),
	}
	grossPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Valor dos serviços\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?is)Valor da nota\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?is)VALOR TOTAL DO SERVIÇO\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?is)VALOR TOTAL A RECEBER\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?is)FRETE.*?VALOR.*?R?\$?\s*([\d.,]+)`),
	}
	// The locality capture stops at the end of the line; the municipality
	// name never wraps on these layouts.
	localityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)MUNICIPIO[:\s]+([A-ZÁÀÂÃÉÈÊÍÏÓÔÕÖÚÇÑ ]+)`),
		regexp.MustCompile(`(?i)Serviço prestado em\s*PA-([A-ZÁÀÂÃÉÈÊÍÏÓÔÕÖÚÇÑ ]+)`),
		regexp.MustCompile(`(?i)MUNICÍPIO:\s*([A-ZÁÀÂÃÉÈÊÍÏÓÔÕÖÚÇÑ ]+)`),
	}
	payerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)TOMADOR DE SERVIÇOS.*?Nome/Razão:\s*([^\n]+)`),
		regexp.MustCompile(`(?i)CENTRAIS ELETRICAS DO PARA`),
		regexp.MustCompile(`(?i)EQUATORIAL PARA`),
		regexp.MustCompile(`(?i)CONECTA EMPREENDIMENTOS`),
	}
	inssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)INSS\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?i)RETENÇÃO INSS[:\s]+R?\$?\s*([\d.,]+)`),
	}
	issPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Valor do imposto\(ISS\)\s*R?\$?\s*([\d.,]+)`),
		regexp.MustCompile(`(?i)VALOR DO ISS\s*([\d.,]+)`),
		regexp.MustCompile(`(?is)ISS Retido.*?R?\$?\s*([\d.,]+)`),
	}

	contractPattern    = regexp.MustCompile(`(?i)CONTRATO N\.?º?\s*(\d+/\d+)`)
	recordSheetPattern = regexp.MustCompile(`(?is)FOLHA DE REGISTRO.*?(\d{10})`)
	stmPattern         = regexp.MustCompile(`(?i)STM\s*(\d+)`)
	requisitionPattern = regexp.MustCompile(`(?i)REQUISIÇÃO[:\s]+(\d+)`)
)

// Extractor pulls invoice fields out of nota fiscal PDFs. Pattern matching
// does the work; when the patterns miss the essential fields and an OpenAI
// client is configured, the raw text is handed to the model as a fallback.
type Extractor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewExtractor creates a new PDF extractor. An empty API key disables the AI
// fallback; pattern extraction still works.
func NewExtractor(apiKey, model string, logger *zap.Logger) *Extractor {
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return &Extractor{
		client: client,
		model:  model,
		logger: logger,
	}
}

// ExtractFromPDF reads the text of every page and extracts the invoice
// fields from it.
func (e *Extractor) ExtractFromPDF(ctx context.Context, pdfPath string) (*Extraction, error) {
	e.logger.Info("Extracting invoice data from PDF", zap.String("pdf_path", pdfPath))

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		text, err := doc.Text(pageNum)
		if err != nil {
			e.logger.Warn("Failed to read page text", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return e.ExtractFromText(ctx, sb.String())
}

// ExtractFromText extracts the invoice fields from raw document text.
func (e *Extractor) ExtractFromText(ctx context.Context, text string) (*Extraction, error) {
	x := &Extraction{
		ServiceType:    identifyType(text),
		Number:         firstMatch(text, numberPatterns),
		IssueDate:      firstMatch(text, datePatterns),
		GrossAmount:    firstAmount(text, grossPatterns),
		Locality:       strings.TrimSpace(firstMatch(text, localityPatterns)),
		Payer:          extractPayer(text),
		SocialSecurity: firstAmount(text, inssPatterns),
		ServiceTax:     firstAmount(text, issPatterns),
	}

	switch x.ServiceType {
	case models.ServiceConstruction:
		x.Contract = firstMatch(text, []*regexp.Regexp{contractPattern})
		var sheets []string
		for _, match := range recordSheetPattern.FindAllStringSubmatch(text, -1) {
			sheets = append(sheets, match[1])
		}
		x.RecordSheets = strings.Join(sheets, ", ")
	case models.ServiceFreight:
		x.STM = firstMatch(text, []*regexp.Regexp{stmPattern})
		x.Requisition = firstMatch(text, []*regexp.Regexp{requisitionPattern})
	}

	if x.Number == "" || x.GrossAmount.IsZero() {
		if e.client == nil {
			e.logger.Warn("Pattern extraction incomplete and AI fallback disabled",
				zap.String("numero_nf", x.Number))
			return x, nil
		}
		e.logger.Warn("Failed to extract invoice fields with patterns, falling back to AI")
		return e.extractWithAI(ctx, text)
	}

	return x, nil
}

// extractWithAI asks the model for the fields the patterns could not find.
func (e *Extractor) extractWithAI(ctx context.Context, text string) (*Extraction, error) {
	prompt := fmt.Sprintf(`Extraia os dados desta nota fiscal de serviço brasileira:

%s

Retorne JSON com a seguinte estrutura:
{
  "tipo": "CONSTRUCAO, ENSAIO DIELETRICO, TRANSPORTE ou TRANSPORTE_CTE",
  "numero_nf": "número da nota",
  "data_emissao": "dd/mm/aaaa",
  "valor_bruto": "valor como string decimal, ponto como separador",
  "localidade": "município de prestação",
  "tomador": "tomador do serviço",
  "inss": "valor retido de INSS como string decimal",
  "iss": "valor retido de ISS como string decimal"
}`, text)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Você é um especialista em leitura de notas fiscais de serviço brasileiras. Extraia todos os campos com exatidão e responda somente com JSON válido.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("AI extraction failed", zap.Error(err))
		return nil, fmt.Errorf("AI extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no AI response")
	}

	var x Extraction
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &x); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	if x.Number == "" {
		return nil, fmt.Errorf("failed to extract invoice number")
	}
	return &x, nil
}

// identifyType classifies the document by keyword. CT-e markers win over
// everything else because freight knowledge notes also mention transport
// terms; the remaining checks run in decreasing specificity, defaulting to
// construction like the rest of the billing flow does.
func identifyType(text string) models.ServiceType {
	upper := strings.ToUpper(text)

	hasCTE := strings.Contains(upper, "CT-E") ||
		strings.Contains(upper, "DACTE") ||
		strings.Contains(upper, "CONHECIMENTO DE TRANSPORTE")

	switch {
	case hasCTE:
		return models.ServiceFreightCTE
	case strings.Contains(upper, "ENSAIO") &&
		(strings.Contains(upper, "DIELETRIC") || strings.Contains(upper, "RIGIDEZ")):
		return models.ServiceDielectricTest
	case strings.Contains(upper, "TRANSPORTE") &&
		(strings.Contains(upper, "RODOVIARIO") || strings.Contains(upper, "MUNICIPAL")):
		return models.ServiceFreight
	}
	return models.ServiceConstruction
}

func extractPayer(text string) string {
	for _, p := range payerPatterns {
		match := p.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		payer := match[0]
		if len(match) > 1 && !containsAny(strings.ToUpper(match[0]), "CENTRAIS", "EQUATORIAL", "CONECTA") {
			payer = match[1]
		}
		upper := strings.ToUpper(payer)
		switch {
		case strings.Contains(upper, "CELPA"), strings.Contains(upper, "CENTRAIS ELETRICAS"):
			return "CELPA"
		case strings.Contains(upper, "EQUATORIAL"):
			return "EQUATORIAL"
		case strings.Contains(upper, "CONECTA"):
			return "CONECTA"
		}
		return strings.TrimSpace(payer)
	}
	return ""
}

func firstMatch(text string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if match := p.FindStringSubmatch(text); len(match) > 1 {
			return match[1]
		}
	}
	return ""
}

func firstAmount(text string, patterns []*regexp.Regexp) decimal.Decimal {
	for _, p := range patterns {
		match := p.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		if amount, err := ParseBRNumber(match[1]); err == nil {
			return amount
		}
	}
	return decimal.Zero
}

// ParseBRNumber parses a Brazilian formatted amount ("1.234,56") into a
// decimal. Thousands dots are stripped before the comma becomes the decimal
// separator.
func ParseBRNumber(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return decimal.NewFromString(s)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
