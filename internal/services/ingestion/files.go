package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

// maxFileBytes bounds the size of a single ingested file
const maxFileBytes = 20 << 20

var contentPageNumber = regexp.MustCompile(`_page_(\d+)`)

// FileSource ingests local documents: .txt, .md, .csv and .pdf
type FileSource struct {
	dir    string
	logger arbor.ILogger
}

// NewFileSource creates a file source rooted at dir
func NewFileSource(dir string, logger arbor.ILogger) *FileSource {
	return &FileSource{dir: dir, logger: logger}
}

// Name returns the source name
func (s *FileSource) Name() string { return SourceFile }

// Fetch reads every supported file under the directory. A missing directory yields no documents.
func (s *FileSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	if s.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("dir", s.dir).Msg("Files directory does not exist, skipping")
		return nil, nil
	}

	var docs []*models.Document
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !supportedFile(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileBytes {
			s.logger.Warn().Str("path", path).Int64("size", info.Size()).Msg("Skipping oversized file")
			return nil
		}

		text, err := extractFileText(path, ext)
		if err != nil {
			s.logger.Warn().Str("path", path).Err(err).Msg("Failed to read file")
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		docs = append(docs, &models.Document{
			Key:      "file:" + rel,
			Source:   SourceFile,
			Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Text:     text,
			Metadata: map[string]string{"path": rel, "format": strings.TrimPrefix(ext, ".")},
		})
		return nil
	})
	if err != nil {
		return docs, fmt.Errorf("failed to walk %s: %w", s.dir, err)
	}

	s.logger.Debug().Str("dir", s.dir).Int("documents", len(docs)).Msg("Files read")
	return docs, nil
}

func supportedFile(ext string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", ".csv", ".pdf":
		return true
	}
	return false
}

func extractFileText(path, ext string) (string, error) {
	if ext == ".pdf" {
		return ExtractPDFText(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch ext {
	case ".md", ".markdown":
		return MarkdownToText(string(data)), nil
	case ".csv":
		return csvToText(string(data))
	default:
		return normalizeText(string(data)), nil
	}
}

// csvToText renders each row as "column: value" pairs so rows stay self-describing after chunking
func csvToText(data string) (string, error) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		pairs := make([]string, 0, len(row))
		for i, value := range row {
			if strings.TrimSpace(value) == "" {
				continue
			}
			column := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				column = strings.TrimSpace(header[i])
			}
			pairs = append(pairs, column+": "+strings.TrimSpace(value))
		}
		if len(pairs) > 0 {
			b.WriteString(strings.Join(pairs, "; "))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// ExtractPDFText extracts the text shown by a PDF's page content streams.
// Text drawn with hex-encoded (CID) fonts is not recovered.
func ExtractPDFText(path string) (string, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	outDir, err := os.MkdirTemp("", "finrag-pdf-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}

	pages := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := contentPageNumber.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		pageNum, _ := strconv.Atoi(m[1])
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pages[pageNum] += contentStreamText(string(content))
	}

	nums := make([]int, 0, len(pages))
	for n := range pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var b strings.Builder
	for _, n := range nums {
		if n > pdfCtx.PageCount {
			break
		}
		text := normalizeText(pages[n])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// contentStreamText pulls literal strings out of text-showing operators (Tj, TJ, ', ")
// and starts a new line on text positioning operators.
func contentStreamText(content string) string {
	var b strings.Builder
	var pending strings.Builder

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case c == '(':
			s, next := readLiteral(content, i)
			pending.WriteString(s)
			i = next
		case c == '%':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case isOperatorByte(c):
			start := i
			for i < len(content) && isOperatorByte(content[i]) {
				i++
			}
			switch content[start:i] {
			case "Tj", "TJ":
				b.WriteString(pending.String())
				pending.Reset()
			case "'", "\"":
				b.WriteString("\n")
				b.WriteString(pending.String())
				pending.Reset()
			case "Td", "TD", "T*", "ET":
				b.WriteString("\n")
			default:
				pending.Reset()
			}
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			// Numeric operands; large negative TJ adjustments mark word gaps
			start := i
			i++
			for i < len(content) && (content[i] == '.' || (content[i] >= '0' && content[i] <= '9')) {
				i++
			}
			if v, err := strconv.ParseFloat(content[start:i], 64); err == nil && v < -200 && pending.Len() > 0 {
				pending.WriteByte(' ')
			}
		default:
			i++
		}
	}
	return b.String()
}

func isOperatorByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

// readLiteral decodes a PDF literal string starting at content[start] == '('
func readLiteral(content string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '\\':
			i++
			if i >= len(content) {
				return b.String(), i
			}
			switch e := content[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r', 't', 'b', 'f':
				b.WriteByte(' ')
			case '(', ')', '\\':
				b.WriteByte(e)
			case '\r', '\n':
				// Line continuation
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(content) && j < i+3 && content[j] >= '0' && content[j] <= '7' {
						j++
					}
					v, _ := strconv.ParseUint(content[i:j], 8, 8)
					b.WriteByte(byte(v))
					i = j - 1
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String(), i
}
