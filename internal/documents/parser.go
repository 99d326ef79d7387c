// Package documents extracts and normalizes text from uploaded files
// ahead of chunking and embedding. Supported formats: .txt, .md, .pdf,
// .docx.
package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"

	apperrors "localmind/internal/errors"
)

// ParsedDocument is the result of parsing a stored file.
type ParsedDocument struct {
	Text             string
	PageCount        int
	FileType         string
	OriginalFilename string
}

// Parser extracts plain text from supported document formats.
type Parser struct{}

// NewParser creates a document parser.
func NewParser() *Parser {
	return &Parser{}
}

// supportedExtensions is the closed set of formats the pipeline accepts.
var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".docx": true,
}

// Supports reports whether the file extension can be parsed.
func (p *Parser) Supports(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Parse extracts text from the file at path. originalFilename is used
// for reporting; parsing dispatches on the stored file's extension.
// Unsupported extensions fail permanently with a parse failure.
func (p *Parser) Parse(path, originalFilename string) (*ParsedDocument, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".txt", ".md":
		return p.parseText(path, originalFilename, ext)
	case ".pdf":
		return p.parsePDF(path, originalFilename)
	case ".docx":
		return p.parseDOCX(path, originalFilename)
	default:
		return nil, apperrors.ParseFailure(fmt.Sprintf("unsupported file extension %q", ext), nil)
	}
}

func (p *Parser) parseText(path, originalFilename, ext string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the blob manifest
	if err != nil {
		return nil, apperrors.ParseFailure("failed to read text file", err)
	}

	return &ParsedDocument{
		Text:             string(data),
		PageCount:        1,
		FileType:         strings.TrimPrefix(ext, "."),
		OriginalFilename: originalFilename,
	}, nil
}

func (p *Parser) parsePDF(path, originalFilename string) (*ParsedDocument, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, apperrors.ParseFailure("failed to open PDF", err)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, apperrors.ParseFailure(fmt.Sprintf("failed to extract text from PDF page %d", i), err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	return &ParsedDocument{
		Text:             strings.Join(pages, "\n\n"),
		PageCount:        total,
		FileType:         "pdf",
		OriginalFilename: originalFilename,
	}, nil
}

func (p *Parser) parseDOCX(path, originalFilename string) (*ParsedDocument, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the blob manifest
	if err != nil {
		return nil, apperrors.ParseFailure("failed to open DOCX", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.ParseFailure("failed to stat DOCX", err)
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, apperrors.ParseFailure("failed to parse DOCX", err)
	}

	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(para.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	return &ParsedDocument{
		Text:             strings.Join(paragraphs, "\n\n"),
		PageCount:        1,
		FileType:         "docx",
		OriginalFilename: originalFilename,
	}, nil
}
