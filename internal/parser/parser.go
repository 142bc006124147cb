package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"policyrag/internal/models"
)

// ErrNoText is returned when no page of a document contains text.
var ErrNoText = errors.New("no text could be extracted")

const defaultPageNumber = 1

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ExtractPages returns the non-empty pages of the document at filePath in
// ascending page order.
func ExtractPages(filePath string) ([]models.Page, error) {
	var (
		pages []models.Page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx", ".xlsm":
		pages, err = parseSpreadsheet(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(filePath), err)
	}

	pages = dropEmpty(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filePath), ErrNoText)
	}
	log.Debug().Str("file", filePath).Int("pages", len(pages)).Msg("Extracted pages")
	return pages, nil
}

func dropEmpty(pages []models.Page) []models.Page {
	out := pages[:0]
	for _, p := range pages {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePDF(filePath string) ([]models.Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

// DOCX has no page information, so the whole document is page 1.
func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "</w:p>") {
		if t := strings.TrimSpace(extractTextFromXML(p, "w:t")); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return []models.Page{{Number: defaultPageNumber, Text: strings.Join(paragraphs, "\n")}}, nil
}

// Slides become pages, numbered by slide file name.
func parsePPTX(filePath string) ([]models.Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, models.Page{Number: num, Text: extractTextFromXML(string(data), "a:t")})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

// Sheets become pages. excelize is tried first, tealeg/xlsx handles files
// excelize rejects.
func parseSpreadsheet(filePath string) ([]models.Page, error) {
	pages, err := parseExcelize(filePath)
	if err == nil {
		return pages, nil
	}
	log.Warn().Err(err).Str("file", filePath).Msg("excelize failed, falling back to xlsx")
	return parseXLSX(filePath)
}

func parseExcelize(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: sb.String()})
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: sb.String()})
	}
	return pages, nil
}

// Form feeds separate pages in plain text exports.
func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var pages []models.Page
	for i, part := range strings.Split(string(data), "\f") {
		pages = append(pages, models.Page{Number: i + 1, Text: part})
	}
	return pages, nil
}

func parseMarkdown(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	plain, err := markdownToText(data)
	if err != nil {
		return nil, err
	}
	return []models.Page{{Number: defaultPageNumber, Text: plain}}, nil
}

// markdownToText strips markdown syntax and keeps the readable text, one
// line per block.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				buf.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteString(" ")
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// extractTextFromXML concatenates the contents of every <tag> element.
func extractTextFromXML(xmlContent, tag string) string {
	var sb strings.Builder
	open, end := "<"+tag, "</"+tag+">"
	parts := strings.Split(xmlContent, open)
	for i, part := range parts {
		if i == 0 {
			continue
		}
		// skip attributes and tags sharing the prefix, e.g. <w:tab/>
		gt := strings.Index(part, ">")
		if gt < 0 || (part[0] != '>' && part[0] != ' ') || strings.HasSuffix(part[:gt], "/") {
			continue
		}
		part = part[gt+1:]
		if endIdx := strings.Index(part, end); endIdx >= 0 {
			sb.WriteString(part[:endIdx])
			sb.WriteString(" ")
		}
	}
	return strings.TrimSpace(sb.String())
}
