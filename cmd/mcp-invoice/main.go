package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/config"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/mcp"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
)

func main() {
	rulesFile := pflag.String("rules", "", "YAML file with field extraction rules")
	maxSize := pflag.Int64("maxfilesize", config.DefaultMaxFileSize, "Maximum PDF file size in bytes")
	debug := pflag.Bool("debug", false, "Log to standard error")
	showVersion := pflag.BoolP("version", "v", false, "Print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("MCP Invoice Extractor\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Built with: %s\n", runtime.Version())
		return
	}

	// Standard output carries the protocol, so logs go to stderr or nowhere
	logger := log.New(io.Discard, "", 0)
	if *debug {
		logger = log.New(os.Stderr, "MCP-INVOICE: ", log.Ldate|log.Ltime|log.Lshortfile)
	}

	fieldExtractor := invoice.NewDefaultExtractor()
	if *rulesFile != "" {
		rules, err := invoice.LoadRulesFile(*rulesFile)
		if err == nil {
			fieldExtractor, err = invoice.NewExtractor(rules)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid rules: %v\n", err)
			os.Exit(1)
		}
	}

	processor := document.NewProcessor(logger, fieldExtractor, *maxSize)
	server, err := mcp.NewServer("mcp-invoice-extractor", version, processor, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create MCP server: %v\n", err)
		os.Exit(1)
	}

	if err := server.Run(context.Background()); err != nil {
		logger.Printf("Server error: %v", err)
		os.Exit(1)
	}
}
