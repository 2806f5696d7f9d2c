package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
)

// Server exposes invoice extraction as MCP tools
type Server struct {
	processor *document.Processor
	mcpServer *server.MCPServer
	logger    *log.Logger
}

// NewServer creates a new MCP server instance
func NewServer(name, version string, processor *document.Processor, logger *log.Logger) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		processor: processor,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	extractTool := mcp.NewTool(
		"extract_invoice",
		mcp.WithDescription("Extract invoice number, date, total amount and vendor from a PDF invoice"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
	)
	s.mcpServer.AddTool(extractTool, s.handleExtractInvoice)

	fieldsTool := mcp.NewTool(
		"invoice_fields",
		mcp.WithDescription("List the invoice fields and the patterns used to find them"),
	)
	s.mcpServer.AddTool(fieldsTool, s.handleInvoiceFields)
}

func (s *Server) handleExtractInvoice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.processor.ProcessPath(ctx, path)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("Extraction of %s failed: %v", path, err)
		}
		return mcp.NewToolResultError(fmt.Sprintf("Extraction failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleInvoiceFields(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString("Invoice fields (first match in the document wins):\n")
	for _, rule := range s.processor.Fields().Rules() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", rule.Field, rule.Label, rule.Pattern)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Run serves the tools over standard input and output until stdin closes
func (s *Server) Run(_ context.Context) error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
