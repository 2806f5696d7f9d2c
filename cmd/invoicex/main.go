package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/config"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/export"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	missingColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], stdout, stderr)
	}
	return runExtract(args, stdout, stderr)
}

func runExtract(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("invoicex", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	format := flags.StringP("format", "f", formatTable, "Output format: table, json, csv or xlsx")
	output := flags.StringP("output", "o", "", "Write to this file instead of standard output")
	rulesFile := flags.String("rules", "", "YAML file with field extraction rules")
	maxSize := flags.Int64("maxfilesize", config.DefaultMaxFileSize, "Maximum PDF file size in bytes")
	noColor := flags.Bool("no-color", false, "Disable colored output")
	verbose := flags.BoolP("verbose", "v", false, "Log extraction details to standard error")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: invoicex [options] <invoice.pdf>...\n")
		fmt.Fprintf(stderr, "       invoicex token [options] <caller>\n\n")
		fmt.Fprintf(stderr, "Options:\n%s", flags.FlagUsages())
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}
	if *noColor || !isTerminal(stdout) {
		color.NoColor = true
	}

	fieldExtractor := invoice.NewDefaultExtractor()
	if *rulesFile != "" {
		rules, err := invoice.LoadRulesFile(*rulesFile)
		if err == nil {
			fieldExtractor, err = invoice.NewExtractor(rules)
		}
		if err != nil {
			errorColor.Fprintf(stderr, "Invalid rules: %v\n", err)
			return 1
		}
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(stderr, "invoicex: ", log.Ltime)
	}
	processor := document.NewProcessor(logger, fieldExtractor, *maxSize)

	ctx := context.Background()
	var results []*document.Extraction
	failed := 0
	for _, path := range flags.Args() {
		result, err := processor.ProcessPath(ctx, path)
		if err != nil {
			errorColor.Fprintf(stderr, "%s: Extraction failed: %v\n", path, err)
			failed++
			continue
		}
		results = append(results, result)
	}

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			errorColor.Fprintf(stderr, "Cannot create %s: %v\n", *output, err)
			return 1
		}
		defer f.Close()
		w = f
	}

	if err := writeResults(w, *format, export.New(fieldExtractor), results); err != nil {
		errorColor.Fprintf(stderr, "%v\n", err)
		return 1
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func writeResults(w io.Writer, format string, exporter *export.Exporter, results []*document.Extraction) error {
	switch format {
	case formatTable:
		writeTable(w, exporter, results)
		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	exportFormat, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	if exportFormat == export.FormatXLSX && isTerminal(w) {
		return errors.New("refusing to write a spreadsheet to the terminal; use --output")
	}

	records := make([]invoice.Record, len(results))
	for i, result := range results {
		records[i] = result.Invoice
	}
	return exporter.Write(w, exportFormat, records...)
}

func writeTable(w io.Writer, exporter *export.Exporter, results []*document.Extraction) {
	labels := exporter.Header()
	width := 0
	for _, label := range labels {
		if len(label) > width {
			width = len(label)
		}
	}

	for i, result := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		titleColor.Fprintf(w, "%s", result.Filename)
		fmt.Fprintf(w, " (%d pages)\n", result.Pages)

		fields := result.Invoice.Fields()
		for j, label := range labels {
			labelColor.Fprintf(w, "  %-*s  ", width, label)
			if j >= len(fields) {
				fmt.Fprintln(w)
				continue
			}
			if value, ok := result.Invoice.Get(fields[j]); ok {
				fmt.Fprintln(w, value)
			} else {
				missingColor.Fprintln(w, "(not found)")
			}
		}
	}
	fmt.Fprintf(w, "\nRows extracted: %d\n", len(results))
}

func runToken(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("invoicex token", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	secret := flags.String("jwt-secret", envOr("INVOICE_JWT_SECRET", config.DefaultJWTSecret), "Secret signing API tokens")
	ttl := flags.Duration("token-ttl", config.DefaultTokenTTL, "Token lifetime")
	plan := flags.String("plan", "", "Plan name recorded in the token")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: invoicex token [options] <caller>")
		return 2
	}

	token, err := auth.NewJWTManager(*secret, *ttl).GenerateTokenWithPlan(flags.Arg(0), *plan)
	if err != nil {
		errorColor.Fprintf(stderr, "Cannot issue token: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, token)
	if isTerminal(stdout) {
		fmt.Fprintf(stderr, "Expires %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	}
	return 0
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
