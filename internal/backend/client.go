package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
	"github.com/sanjeevkumarraob/invoice-extractor/pkg/stream"
)

// ExtractPath is the backend route receiving uploads
const ExtractPath = "/api/extract"

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// StatusError is returned when the backend answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client forwards uploads to a remote extraction backend
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          *log.Logger
	maxDocumentSize int64
}

// NewClient creates a new backend client
func NewClient(baseURL string, timeout time.Duration, maxDocumentSize int64, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:          logger,
		maxDocumentSize: maxDocumentSize,
	}
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Process uploads the PDF and decodes the backend's extraction
func (c *Client) Process(ctx context.Context, filename string, r io.Reader) (*document.Extraction, error) {
	if !document.IsPDF(filename) {
		return nil, document.ErrUnsupportedFileType
	}

	content, err := stream.NewChunkedReader(r, 0).WithLimit(c.maxDocumentSize).ReadAll()
	if err != nil {
		if errors.Is(err, stream.ErrLimitExceeded) {
			return nil, document.ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, document.ErrEmptyFile
	}

	body, contentType, err := multipartBody(filepath.Base(filename), content)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + ExtractPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Printf("Forwarding %s (%d bytes) to %s", filename, len(content), url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Header.Get("Content-Type"), respBody),
		}
	}

	var result document.Extraction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.DocumentID == "" {
		result.DocumentID = uuid.New().String()
	}
	if result.Filename == "" {
		result.Filename = filepath.Base(filename)
	}
	if len(result.Invoice.Fields()) == 0 {
		result.Invoice = invoice.NewRecord(invoice.DefaultFields()...)
	}
	if result.LineItems == nil {
		result.LineItems = []map[string]any{}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	result.Metadata["backend"] = c.baseURL

	return &result, nil
}

func multipartBody(filename string, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage reduces an error body to a short human readable message
func errorMessage(contentType string, body []byte) string {
	switch {
	case strings.Contains(contentType, "json"):
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if payload.Error != "" {
				return payload.Error
			}
			if payload.Message != "" {
				return payload.Message
			}
		}
	case strings.Contains(contentType, "html"):
		if text, err := textFromHTML(body); err == nil {
			return text
		}
	}
	return strings.TrimSpace(string(body))
}

// textFromHTML extracts the visible text of an HTML document
func textFromHTML(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "title") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return strings.Join(parts, " "), nil
}
