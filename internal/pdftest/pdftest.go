// Package pdftest builds small PDF documents in memory for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Page describes one page of a generated document. Each line is drawn
// exactly as given on its own baseline. A page with no lines has no content
// stream.
type Page struct {
	Lines []string

	// Undecodable pages declare a FlateDecode content stream that holds
	// uncompressed bytes
	Undecodable bool
}

// Text returns a page holding the given lines
func Text(lines ...string) Page {
	return Page{Lines: lines}
}

// Blank returns a page without a content stream, like a scanned image page
func Blank() Page {
	return Page{}
}

// Corrupt returns a page whose content stream exists but cannot be decoded
func Corrupt() Page {
	return Page{Undecodable: true}
}

// Build returns a PDF containing the given pages
func Build(pages ...Page) []byte {
	return build(pages, "")
}

// BuildMisplacedObject returns a PDF whose cross-reference entry for the page
// tree points at the font object. The file opens, but resolving its pages
// fails.
func BuildMisplacedObject(pages ...Page) []byte {
	return build(pages, "misplaced")
}

// BuildEncrypted returns a PDF whose trailer declares standard security with
// a user password, so it cannot be opened without one
func BuildEncrypted(pages ...Page) []byte {
	return build(pages, "encrypted")
}

type writer struct {
	buf     bytes.Buffer
	offsets []int
}

func (w *writer) object(body string) int {
	w.offsets = append(w.offsets, w.buf.Len())
	num := len(w.offsets)
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return num
}

func build(pages []Page, mode string) []byte {
	w := &writer{}
	w.buf.WriteString("%PDF-1.4\n")

	// Object numbers are fixed up front: 1 catalog, 2 page tree, 3 font,
	// then a page object followed by its optional content stream.
	w.object("<< /Type /Catalog /Pages 2 0 R >>")

	next := 4
	pageNums := make([]int, len(pages))
	for i, p := range pages {
		pageNums[i] = next
		next++
		if p.hasContents() {
			next++
		}
	}

	kids := make([]string, len(pageNums))
	for i, n := range pageNums {
		kids[i] = fmt.Sprintf("%d 0 R", n)
	}
	w.object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	w.object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, p := range pages {
		page := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >>"
		if p.hasContents() {
			page += fmt.Sprintf(" /Contents %d 0 R", pageNums[i]+1)
		}
		w.object(page + " >>")

		switch {
		case p.Undecodable:
			stream := "this is not deflate data"
			w.object(fmt.Sprintf("<< /Length %d /Filter /FlateDecode >>\nstream\n%s\nendstream", len(stream), stream))
		case len(p.Lines) > 0:
			stream := contentStream(p.Lines)
			w.object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
		}
	}

	if mode == "misplaced" {
		w.offsets[1] = w.offsets[2]
	}

	trailer := fmt.Sprintf("<< /Size %d /Root 1 0 R", len(w.offsets)+1)
	if mode == "encrypted" {
		enc := w.object("<< /Filter /Standard /V 1 /R 2 /Length 40 /P -4" +
			" /O <" + strings.Repeat("AB", 32) + ">" +
			" /U <" + strings.Repeat("CD", 32) + "> >>")
		trailer = fmt.Sprintf("<< /Size %d /Root 1 0 R /Encrypt %d 0 R /ID [<%s> <%s>]",
			len(w.offsets)+1, enc, strings.Repeat("01", 16), strings.Repeat("01", 16))
	}
	trailer += " >>"

	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n", len(w.offsets)+1)
	w.buf.WriteString("0000000000 65535 f \n")
	for _, off := range w.offsets {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&w.buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xref)

	return w.buf.Bytes()
}

func (p Page) hasContents() bool {
	return p.Undecodable || len(p.Lines) > 0
}

// contentStream places each line with an absolute text matrix, 16pt apart
func contentStream(lines []string) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 12 Tf\n")
	for i, line := range lines {
		fmt.Fprintf(&b, "1 0 0 1 72 %d Tm\n(%s) Tj\n", 720-16*i, escape(line))
	}
	b.WriteString("ET")
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
