package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/backend"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document/extractor"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/export"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/usage"
)

//go:embed templates/*.html
var templateFS embed.FS

// multipartOverhead is allowed on top of the file size limit for form framing
const multipartOverhead = 1 << 20

var errMissingFile = errors.New("file is required")

// Processor turns an uploaded PDF into an extraction. The local document
// processor and the remote backend client both implement it.
type Processor interface {
	Process(ctx context.Context, filename string, r io.Reader) (*document.Extraction, error)
}

// Handler handles API requests
type Handler struct {
	processor     Processor
	exporter      *export.Exporter
	meter         *usage.Meter
	logger        *log.Logger
	maxUploadSize int64
}

// NewHandler creates a new handler. A nil meter disables usage metering.
func NewHandler(
	processor Processor,
	exporter *export.Exporter,
	meter *usage.Meter,
	logger *log.Logger,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		processor:     processor,
		exporter:      exporter,
		meter:         meter,
		logger:        logger,
		maxUploadSize: maxUploadSize,
	}
}

// Templates parses the web UI templates
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// pageData feeds the web UI templates
type pageData struct {
	Usage      *usage.Status
	Error      string
	UpgradeURL string
	Header     []string
	Row        []string
	Rows       int
	XLSXLink   template.URL
	XLSXName   string
	CSVLink    template.URL
	CSVName    string
}

// HealthCheck provides a simple health check endpoint
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Index renders the upload page
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", pageData{Usage: h.usageStatus(c)})
}

// ExtractPage handles a web UI upload and renders the extracted table
func (h *Handler) ExtractPage(c *gin.Context) {
	result, err := h.extract(c)
	if err != nil {
		status, message := h.errorStatus(err)
		data := pageData{Error: message, Usage: h.usageStatus(c)}
		var limitErr *usage.LimitError
		if errors.As(err, &limitErr) {
			data.UpgradeURL = limitErr.UpgradeURL
		}
		c.HTML(status, "result.html", data)
		return
	}

	data := pageData{
		Usage:    h.usageStatus(c),
		Header:   h.exporter.Header(),
		Row:      h.exporter.Row(result.Invoice),
		Rows:     1,
		XLSXName: export.FormatXLSX.Filename(),
		CSVName:  export.FormatCSV.Filename(),
	}

	if link, err := h.exporter.DataURI(export.FormatXLSX, result.Invoice); err == nil {
		data.XLSXLink = template.URL(link)
	} else {
		h.logger.Printf("Excel export failed: %v", err)
	}
	if link, err := h.exporter.DataURI(export.FormatCSV, result.Invoice); err == nil {
		data.CSVLink = template.URL(link)
	} else {
		h.logger.Printf("CSV export failed: %v", err)
	}

	c.HTML(http.StatusOK, "result.html", data)
}

// ExtractJSON handles an upload and returns the extraction as JSON
func (h *Handler) ExtractJSON(c *gin.Context) {
	result, err := h.extract(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Export handles an upload and returns the record as a CSV or XLSX download
func (h *Handler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatXLSX)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.extract(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Write(&buf, format, result.Invoice); err != nil {
		h.logger.Printf("Export of %s failed: %v", result.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export document"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+format.Filename()+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Usage reports today's usage for the caller
func (h *Handler) Usage(c *gin.Context) {
	if h.meter == nil {
		c.JSON(http.StatusOK, gin.H{"metered": false})
		return
	}

	status, err := h.meter.Status(c.Request.Context(), CallerFrom(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metered": true, "usage": status})
}

// extract reads the uploaded file, applies the free tier and runs the processor
func (h *Handler) extract(c *gin.Context) (*document.Extraction, error) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, document.ErrFileTooLarge
		}
		return nil, errMissingFile
	}

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		return nil, document.ErrFileTooLarge
	}

	ctx := c.Request.Context()
	caller := CallerFrom(c)

	var reservation *usage.Reservation
	if h.meter != nil {
		reservation, err = h.meter.Reserve(ctx, caller, header.Size)
		if err != nil {
			return nil, err
		}
	}

	result, err := h.process(ctx, header)
	if err != nil {
		if reservation != nil {
			// Only successful extractions count
			if releaseErr := reservation.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				h.logger.Printf("Failed to release usage for %s: %v", caller, releaseErr)
			}
		}
		return nil, err
	}

	return result, nil
}

func (h *Handler) process(ctx context.Context, header *multipart.FileHeader) (*document.Extraction, error) {
	file, err := header.Open()
	if err != nil {
		return nil, errMissingFile
	}
	defer file.Close()

	return h.processor.Process(ctx, header.Filename, file)
}

// usageStatus returns the banner data, or nil when unmetered
func (h *Handler) usageStatus(c *gin.Context) *usage.Status {
	if h.meter == nil {
		return nil
	}
	status, err := h.meter.Status(c.Request.Context(), CallerFrom(c))
	if err != nil {
		h.logger.Printf("Usage status unavailable: %v", err)
		return nil
	}
	return status
}

// abortWithError writes a JSON error with the status matching err
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status, message := h.errorStatus(err)
	body := gin.H{"error": message}

	var limitErr *usage.LimitError
	if errors.As(err, &limitErr) {
		body["reason"] = limitErr.Reason
		if limitErr.UpgradeURL != "" {
			body["upgrade_url"] = limitErr.UpgradeURL
		}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// errorStatus maps an extraction error to an HTTP status and client message
func (h *Handler) errorStatus(err error) (int, string) {
	var (
		limitErr  *usage.LimitError
		statusErr *backend.StatusError
		pageErr   *extractor.PageError
	)

	switch {
	case errors.Is(err, errMissingFile), errors.Is(err, document.ErrEmptyFile):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, document.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, document.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, "only PDF documents are supported"
	case errors.Is(err, extractor.ErrDocumentOpen), errors.As(err, &pageErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &limitErr):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, usage.ErrNoCaller):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &statusErr):
		h.logger.Printf("Backend failure: %v", err)
		return http.StatusBadGateway, err.Error()
	default:
		h.logger.Printf("Document processing failed: %v", err)
		return http.StatusInternalServerError, "failed to process document"
	}
}
