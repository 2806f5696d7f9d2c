package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrDocumentOpen matches every DocumentOpenError via errors.Is
var ErrDocumentOpen = errors.New("document cannot be opened as PDF")

// DocumentOpenError reports input that is not a readable PDF container:
// corrupt data, another file format or a password-protected document
type DocumentOpenError struct {
	Source string
	Err    error
}

func (e *DocumentOpenError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to open PDF: %v", e.Err)
	}
	return fmt.Sprintf("failed to open PDF %s: %v", e.Source, e.Err)
}

func (e *DocumentOpenError) Unwrap() error { return e.Err }

func (e *DocumentOpenError) Is(target error) bool { return target == ErrDocumentOpen }

// PageError reports a page whose content stream exists but cannot be read
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("failed to extract text from page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Text is the aggregated text of a document
type Text struct {
	Content      string
	Pages        int
	SkippedPages []int
}

// PDFExtractor extracts text from PDF documents
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractFile opens the PDF at path and aggregates its text. The file is
// closed before returning.
func (e *PDFExtractor) ExtractFile(ctx context.Context, path string) (*Text, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DocumentOpenError{Source: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &DocumentOpenError{Source: path, Err: err}
	}

	text, err := e.Extract(ctx, f, info.Size())
	var openErr *DocumentOpenError
	if errors.As(err, &openErr) && openErr.Source == "" {
		openErr.Source = path
	}
	return text, err
}

// Extract concatenates the text of every page in order, each page followed by
// a newline. Pages without text are skipped.
func (e *PDFExtractor) Extract(ctx context.Context, ra io.ReaderAt, size int64) (text *Text, err error) {
	// The parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = nil
			err = &DocumentOpenError{Err: fmt.Errorf("malformed PDF: %v", r)}
		}
	}()

	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return nil, &DocumentOpenError{Err: err}
	}

	numPages := r.NumPage()
	result := &Text{Pages: numPages}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s, err := pageText(r.Page(i))
		if err != nil {
			return nil, &PageError{Page: i, Err: err}
		}
		if s == "" {
			result.SkippedPages = append(result.SkippedPages, i)
			continue
		}

		b.WriteString(s)
		b.WriteString("\n")
	}

	result.Content = b.String()
	return result, nil
}

// pageText returns the page's text one row per line, words separated by a
// space. Pages that carry no content stream or no text return "".
func pageText(p pdf.Page) (string, error) {
	if p.V.IsNull() || p.V.Key("Contents").IsNull() {
		return "", nil
	}

	if err := decodeContents(p.V.Key("Contents")); err != nil {
		return "", err
	}

	rows, err := p.GetTextByRow()
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := make([]string, 0, len(row.Content))
		for _, word := range row.Content {
			if w := strings.TrimSpace(word.S); w != "" {
				words = append(words, w)
			}
		}
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// decodeContents reads every content stream of a page to the end.
// GetTextByRow swallows parser panics and returns no rows, so a stream that
// cannot be decoded has to be caught here.
func decodeContents(contents pdf.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undecodable content stream: %v", r)
		}
	}()

	streams := []pdf.Value{contents}
	if contents.Kind() == pdf.Array {
		streams = streams[:0]
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	}

	for _, strm := range streams {
		rc := strm.Reader()
		_, err := io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("undecodable content stream: %w", err)
		}
	}
	return nil
}
