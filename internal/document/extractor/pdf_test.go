package extractor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/pdftest"
)

func extract(t *testing.T, data []byte) (*Text, error) {
	t.Helper()
	return NewPDFExtractor().Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
}

func TestPDFExtractor_Extract(t *testing.T) {
	tests := []struct {
		name        string
		pages       []pdftest.Page
		wantContent string
		wantPages   int
		wantSkipped []int
	}{
		{
			name:        "single page",
			pages:       []pdftest.Page{pdftest.Text("Invoice No: INV-1001")},
			wantContent: "Invoice No: INV-1001\n",
			wantPages:   1,
		},
		{
			name: "pages joined in order",
			pages: []pdftest.Page{
				pdftest.Text("Invoice No: INV-1001"),
				pdftest.Text("Total: $1,250.00"),
			},
			wantContent: "Invoice No: INV-1001\nTotal: $1,250.00\n",
			wantPages:   2,
		},
		{
			name: "blank page skipped",
			pages: []pdftest.Page{
				pdftest.Text("Date: 2024-01-15"),
				pdftest.Blank(),
				pdftest.Text("Vendor: Acme"),
			},
			wantContent: "Date: 2024-01-15\nVendor: Acme\n",
			wantPages:   3,
			wantSkipped: []int{2},
		},
		{
			name:        "only blank pages",
			pages:       []pdftest.Page{pdftest.Blank(), pdftest.Blank()},
			wantContent: "",
			wantPages:   2,
			wantSkipped: []int{1, 2},
		},
		{
			name:        "no pages",
			pages:       nil,
			wantContent: "",
			wantPages:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := extract(t, pdftest.Build(tt.pages...))
			require.NoError(t, err)

			assert.Equal(t, tt.wantContent, text.Content)
			assert.Equal(t, tt.wantPages, text.Pages)
			assert.Equal(t, tt.wantSkipped, text.SkippedPages)
		})
	}
}

func TestPDFExtractor_Extract_OneLinePerRow(t *testing.T) {
	text, err := extract(t, pdftest.Build(pdftest.Text("Invoice No: INV-1001", "Date: 2024-01-15")))
	require.NoError(t, err)

	assert.Equal(t, "Invoice No: INV-1001\nDate: 2024-01-15\n", text.Content)
}

func TestPDFExtractor_Extract_RowsKeepFieldsApart(t *testing.T) {
	text, err := extract(t, pdftest.Build(pdftest.Text(
		"Invoice No: INV-1001",
		"Date: 2024-01-15",
		"Total: $1,250.00",
		"Vendor: Acme",
	)))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(text.Content, "\n"), "\n")
	assert.Equal(t, []string{"Invoice No: INV-1001", "Date: 2024-01-15", "Total: $1,250.00", "Vendor: Acme"}, lines)
}

func TestPDFExtractor_Extract_UndecodablePage(t *testing.T) {
	text, err := extract(t, pdftest.Build(
		pdftest.Text("Invoice No: INV-1001"),
		pdftest.Corrupt(),
		pdftest.Text("Total: 1.00"),
	))
	require.Error(t, err)
	assert.Nil(t, text)

	var pageErr *PageError
	require.True(t, errors.As(err, &pageErr), "expected PageError, got %T: %v", err, err)
	assert.Equal(t, 2, pageErr.Page)
	assert.False(t, errors.Is(err, ErrDocumentOpen))
}

func TestPDFExtractor_Extract_OpenErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not a pdf", data: bytes.Repeat([]byte("this is plain text, not a PDF file\n"), 10)},
		{name: "truncated pdf", data: pdftest.Build(pdftest.Text("Total: 1.00"))[:120]},
		{name: "password protected", data: pdftest.BuildEncrypted(pdftest.Text("Total: 1.00"))},
		{name: "parser panic", data: pdftest.BuildMisplacedObject(pdftest.Text("Total: 1.00"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := extract(t, tt.data)
			require.Error(t, err)
			assert.Nil(t, text)

			var openErr *DocumentOpenError
			assert.True(t, errors.As(err, &openErr), "expected DocumentOpenError, got %T: %v", err, err)
			assert.ErrorIs(t, err, ErrDocumentOpen)
		})
	}
}

func TestPDFExtractor_Extract_Cancelled(t *testing.T) {
	data := pdftest.Build(pdftest.Text("Total: 1.00"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPDFExtractor().Extract(ctx, bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPDFExtractor_ExtractFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(good, pdftest.Build(pdftest.Text("Invoice No: A-1")), 0o600))

	text, err := NewPDFExtractor().ExtractFile(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "Invoice No: A-1\n", text.Content)

	bad := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(bad, bytes.Repeat([]byte("x"), 200), 0o600))

	_, err = NewPDFExtractor().ExtractFile(context.Background(), bad)
	var openErr *DocumentOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, bad, openErr.Source)

	_, err = NewPDFExtractor().ExtractFile(context.Background(), filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, ErrDocumentOpen)
}
