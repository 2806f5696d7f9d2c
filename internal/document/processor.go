package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/document/extractor"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
	"github.com/sanjeevkumarraob/invoice-extractor/pkg/stream"
)

// Error definitions
var (
	ErrFileTooLarge        = fmt.Errorf("file size exceeds maximum allowed size")
	ErrUnsupportedFileType = fmt.Errorf("unsupported file type")
	ErrEmptyFile           = fmt.Errorf("file is empty")
)

// ContentTypePDF is the only content type the processor accepts
const ContentTypePDF = "application/pdf"

// Extraction is the outcome of processing one uploaded document
type Extraction struct {
	DocumentID string            `json:"document_id"`
	Filename   string            `json:"filename"`
	Pages      int               `json:"pages"`
	Invoice    invoice.Record    `json:"invoice"`
	LineItems  []map[string]any  `json:"line_items"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Processor turns uploaded PDFs into invoice records
type Processor struct {
	pdfExtractor    *extractor.PDFExtractor
	fieldExtractor  *invoice.Extractor
	inspector       *Inspector
	logger          *log.Logger
	chunkSize       int
	maxDocumentSize int64
}

// NewProcessor creates a new document processor
func NewProcessor(logger *log.Logger, fieldExtractor *invoice.Extractor, maxDocumentSize int64) *Processor {
	if fieldExtractor == nil {
		fieldExtractor = invoice.NewDefaultExtractor()
	}
	return &Processor{
		pdfExtractor:    extractor.NewPDFExtractor(),
		fieldExtractor:  fieldExtractor,
		inspector:       NewInspector(),
		logger:          logger,
		chunkSize:       64 * 1024,
		maxDocumentSize: maxDocumentSize,
	}
}

// Fields returns the extractor backing this processor
func (p *Processor) Fields() *invoice.Extractor {
	return p.fieldExtractor
}

// Process reads a PDF from r and extracts the invoice record
func (p *Processor) Process(ctx context.Context, filename string, r io.Reader) (*Extraction, error) {
	if !IsPDF(filename) {
		return nil, ErrUnsupportedFileType
	}

	reader := stream.NewChunkedReader(r, p.chunkSize).WithLimit(p.maxDocumentSize)
	content, err := reader.ReadAll()
	if err != nil {
		if errors.Is(err, stream.ErrLimitExceeded) {
			if p.logger != nil {
				p.logger.Printf("Rejected %s after reading %d bytes, limit is %d", filename, reader.Total(), p.maxDocumentSize)
			}
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}

	text, err := p.pdfExtractor.Extract(ctx, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	result := p.newExtraction(filename, text)
	result.Metadata["size"] = strconv.Itoa(len(content))
	p.inspect(result, bytes.NewReader(content))

	return result, nil
}

// ProcessPath extracts the invoice record from a PDF on disk
func (p *Processor) ProcessPath(ctx context.Context, path string) (*Extraction, error) {
	if !IsPDF(path) {
		return nil, ErrUnsupportedFileType
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &extractor.DocumentOpenError{Source: path, Err: err}
	}
	if p.maxDocumentSize > 0 && info.Size() > p.maxDocumentSize {
		return nil, ErrFileTooLarge
	}

	text, err := p.pdfExtractor.ExtractFile(ctx, path)
	if err != nil {
		return nil, err
	}

	result := p.newExtraction(path, text)
	result.Metadata["size"] = strconv.FormatInt(info.Size(), 10)

	if f, err := os.Open(path); err == nil {
		p.inspect(result, f)
		f.Close()
	}

	return result, nil
}

func (p *Processor) newExtraction(filename string, text *extractor.Text) *Extraction {
	result := &Extraction{
		DocumentID: uuid.New().String(),
		Filename:   filepath.Base(filename),
		Pages:      text.Pages,
		Invoice:    p.fieldExtractor.Extract(text.Content),
		LineItems:  []map[string]any{},
		Metadata: map[string]string{
			"contentType": ContentTypePDF,
		},
	}
	if len(text.SkippedPages) > 0 {
		skipped := make([]string, len(text.SkippedPages))
		for i, n := range text.SkippedPages {
			skipped[i] = strconv.Itoa(n)
		}
		result.Metadata["skippedPages"] = strings.Join(skipped, ",")
	}

	if p.logger != nil {
		p.logger.Printf("Extracted %s: pages=%d skipped=%d chars=%d",
			result.Filename, text.Pages, len(text.SkippedPages), len(text.Content))
	}
	return result
}

// inspect adds container details to the metadata. Failures are logged only.
func (p *Processor) inspect(result *Extraction, rs io.ReadSeeker) {
	info, err := p.inspector.Inspect(rs)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("Inspection of %s skipped: %v", result.Filename, err)
		}
		return
	}
	if info.Version != "" {
		result.Metadata["pdfVersion"] = info.Version
	}
	result.Metadata["encrypted"] = strconv.FormatBool(info.Encrypted)
}

// IsPDF reports whether filename has a .pdf extension
func IsPDF(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}
