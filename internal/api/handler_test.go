package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/backend"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/export"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/pdftest"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/session"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/usage"
)

type testServer struct {
	router *gin.Engine
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T, processor Processor, meter *usage.Meter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New(io.Discard, "", 0)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	sessionManager := session.NewSessionManager(logger, session.NewCookieStore("session-secret"), false)
	exporter := export.New(invoice.NewDefaultExtractor())

	handler := NewHandler(processor, exporter, meter, logger, 1<<20)
	return &testServer{
		router: NewRouter(handler, jwtManager, sessionManager, logger),
		jwt:    jwtManager,
	}
}

func localProcessor(maxSize int64) Processor {
	return document.NewProcessor(log.New(io.Discard, "", 0), nil, maxSize)
}

func invoicePDF() []byte {
	return pdftest.Build(
		pdftest.Text("Invoice No: INV-1001"),
		pdftest.Text("Date: 2024-01-15", "Total: $1,250.00"),
		pdftest.Text("Vendor: Acme Corp"),
	)
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, caller string) string {
	t.Helper()
	token, err := s.jwt.GenerateToken(caller)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type stubProcessor struct {
	result *document.Extraction
	err    error
}

func (p *stubProcessor) Process(ctx context.Context, filename string, r io.Reader) (*document.Extraction, error) {
	return p.result, p.err
}

// slowProcessor holds every extraction open for delay, so concurrent
// requests overlap
type slowProcessor struct {
	delay time.Duration
}

func (p *slowProcessor) Process(ctx context.Context, filename string, r io.Reader) (*document.Extraction, error) {
	time.Sleep(p.delay)
	return &document.Extraction{
		Filename:  filename,
		Invoice:   invoice.NewRecord(invoice.DefaultFields()...),
		LineItems: []map[string]any{},
		Metadata:  map[string]string{},
	}, nil
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}

func TestExtractJSON(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "invoice.pdf", body["filename"])
	assert.Equal(t, float64(3), body["pages"])
	assert.Equal(t, map[string]interface{}{
		"invoice_number": "INV-1001",
		"date":           "2024-01-15",
		"total_amount":   "1,250.00",
		"vendor":         "A",
	}, body["invoice"])
	assert.Equal(t, []interface{}{}, body["line_items"])
}

func TestExtractJSON_AbsentFieldsAreNull(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	pdf := pdftest.Build(pdftest.Text("Thank you for your business"))
	w := s.do(uploadRequest(t, "/api/extract", "receipt.pdf", pdf))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, map[string]interface{}{
		"invoice_number": nil,
		"date":           nil,
		"total_amount":   nil,
		"vendor":         nil,
	}, decodeBody(t, w)["invoice"])
}

func TestExtractJSON_Errors(t *testing.T) {
	tests := []struct {
		name      string
		processor Processor
		filename  string
		content   []byte
		status    int
	}{
		{"missing file", localProcessor(0), "", nil, http.StatusBadRequest},
		{"empty file", localProcessor(0), "empty.pdf", []byte{}, http.StatusBadRequest},
		{"not a pdf name", localProcessor(0), "invoice.docx", []byte("PK"), http.StatusUnsupportedMediaType},
		{"too large", localProcessor(64), "invoice.pdf", invoicePDF(), http.StatusRequestEntityTooLarge},
		{"not a pdf", localProcessor(0), "invoice.pdf", []byte("hello world"), http.StatusUnprocessableEntity},
		{"password protected", localProcessor(0), "locked.pdf", pdftest.BuildEncrypted(pdftest.Text("Invoice No: X")), http.StatusUnprocessableEntity},
		{"undecodable page", localProcessor(0), "invoice.pdf", pdftest.Build(pdftest.Text("Invoice No: X"), pdftest.Corrupt()), http.StatusUnprocessableEntity},
		{"unreadable page tree", localProcessor(0), "invoice.pdf", pdftest.BuildMisplacedObject(pdftest.Text("Invoice No: X")), http.StatusUnprocessableEntity},
		{"backend failure", &stubProcessor{err: &backend.StatusError{StatusCode: 503, Message: "down"}}, "a.pdf", []byte("x"), http.StatusBadGateway},
		{"unexpected failure", &stubProcessor{err: errors.New("boom")}, "a.pdf", []byte("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.processor, nil)

			w := s.do(uploadRequest(t, "/api/extract", tt.filename, tt.content))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeBody(t, w)["error"])
		})
	}
}

func TestExtractPage(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/extract", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusOK, w.Code)

	html := w.Body.String()
	assert.Contains(t, html, "<th>Invoice Number</th>")
	assert.Contains(t, html, "<td>INV-1001</td>")
	assert.Contains(t, html, "<td>A</td>")
	assert.Contains(t, html, "Rows extracted: 1")
	assert.Contains(t, html, `href="data:text/csv;base64,`)
	assert.Contains(t, html, `download="invoice_data.csv"`)
	assert.Contains(t, html, `download="invoice_data.xlsx"`)
	assert.NotContains(t, html, "Extraction failed")
}

func TestExtractPage_Failure(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/extract", "invoice.pdf", []byte("not a pdf")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	html := w.Body.String()
	assert.Contains(t, html, "Extraction failed: ")
	assert.NotContains(t, html, "Rows extracted")
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="/extract"`)
	assert.NotContains(t, w.Body.String(), `class="banner"`)
}

func TestExport(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/api/export?format=csv", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="invoice_data.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"Invoice Number,Date,Total Amount,Vendor\nINV-1001,2024-01-15,\"1,250.00\",A\n",
		w.Body.String())
}

func TestExport_XLSX(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/api/export", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `attachment; filename="invoice_data.xlsx"`, w.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Invoice Number", "Date", "Total Amount", "Vendor"},
		{"INV-1001", "2024-01-15", "1,250.00", "A"},
	}, rows)
}

func TestExport_UnknownFormat(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(uploadRequest(t, "/api/export?format=pdf", "invoice.pdf", invoicePDF()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func newTestMeter(dailyLimit int, maxFileSize int64) *usage.Meter {
	return usage.NewMeter(usage.NewMemoryCounter(0), dailyLimit, maxFileSize, "https://pay.example.com/upgrade")
}

func TestMetering_DailyLimit(t *testing.T) {
	s := newTestServer(t, localProcessor(0), newTestMeter(1, 0))
	bearer := s.token(t, "acme-ap")

	req := uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
	req.Header.Set("Authorization", bearer)
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	req = uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
	req.Header.Set("Authorization", bearer)
	w = s.do(req)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, string(usage.ReasonDailyLimit), body["reason"])
	assert.Equal(t, "https://pay.example.com/upgrade", body["upgrade_url"])

	req = uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
	req.Header.Set("Authorization", s.token(t, "globex-ap"))
	assert.Equal(t, http.StatusOK, s.do(req).Code, "quota is per caller")
}

func TestMetering_ConcurrentRequestsShareQuota(t *testing.T) {
	s := newTestServer(t, &slowProcessor{delay: 50 * time.Millisecond}, newTestMeter(1, 0))
	bearer := s.token(t, "acme-ap")

	const requests = 10
	codes := make([]int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		req := uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
		req.Header.Set("Authorization", bearer)

		wg.Add(1)
		go func(i int, req *http.Request) {
			defer wg.Done()
			codes[i] = s.do(req).Code
		}(i, req)
	}
	wg.Wait()

	succeeded, limited := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			succeeded++
		case http.StatusPaymentRequired:
			limited++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, requests-1, limited)

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", bearer)
	status := decodeBody(t, s.do(req))["usage"].(map[string]interface{})
	assert.Equal(t, float64(1), status["used"])
}

func TestMetering_FailedExtractionsAreNotCounted(t *testing.T) {
	s := newTestServer(t, localProcessor(0), newTestMeter(1, 0))
	bearer := s.token(t, "acme-ap")

	req := uploadRequest(t, "/api/extract", "invoice.pdf", []byte("not a pdf"))
	req.Header.Set("Authorization", bearer)
	require.Equal(t, http.StatusUnprocessableEntity, s.do(req).Code)

	req = uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
	req.Header.Set("Authorization", bearer)
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestMetering_FileSizeGate(t *testing.T) {
	s := newTestServer(t, localProcessor(0), newTestMeter(0, 100))

	w := s.do(uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, string(usage.ReasonFileTooLarge), decodeBody(t, w)["reason"])
}

func TestMetering_PageBanner(t *testing.T) {
	s := newTestServer(t, localProcessor(0), newTestMeter(2, 0))

	w := s.do(uploadRequest(t, "/extract", "invoice.pdf", invoicePDF()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Free extractions left today: 1 of 2.")
	assert.Contains(t, w.Body.String(), `href="https://pay.example.com/upgrade"`)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.AddCookie(cookies[0])
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["metered"])
	status := body["usage"].(map[string]interface{})
	assert.Equal(t, float64(1), status["used"])
	assert.Equal(t, float64(1), status["remaining"])
	assert.True(t, strings.HasPrefix(status["caller"].(string), "visitor:"))
}

func TestUsage_Unmetered(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["metered"])
}

func TestCallerMiddleware_InvalidToken(t *testing.T) {
	s := newTestServer(t, localProcessor(0), nil)

	for _, header := range []string{"Bearer not-a-token", "Basic dXNlcjpwYXNz", "Bearer "} {
		req := uploadRequest(t, "/api/extract", "invoice.pdf", invoicePDF())
		req.Header.Set("Authorization", header)
		assert.Equal(t, http.StatusUnauthorized, s.do(req).Code, header)
	}
}
