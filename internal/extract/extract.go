// Package extract pulls plain text out of uploaded files for ingestion.
package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// SupportedTypes lists file extensions (without dot) accepted for upload.
var SupportedTypes = []string{"txt", "md", "csv", "pdf"}

// Supported reports whether the file type can be ingested.
func Supported(fileType string) bool {
	for _, t := range SupportedTypes {
		if fileType == t {
			return true
		}
	}
	return false
}

// FileType derives the normalized type from a filename extension.
func FileType(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Error describes a failed extraction. Extraction failures are terminal for
// the document, not retried.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Text extracts plain text from the file at path. The file type decides the
// extraction strategy.
func Text(path, fileType string) (string, error) {
	switch fileType {
	case "txt", "md":
		return textFile(path)
	case "csv":
		return tabular(path)
	case "pdf":
		return pdfText(path)
	default:
		return "", &Error{Path: path, Err: fmt.Errorf("unsupported file type %q", fileType)}
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textFile reads a plain text or markdown file. A leading BOM is stripped and
// invalid UTF-8 byte sequences are replaced rather than failing the upload.
func textFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Path: path, Err: err}
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), nil
}

// tabular renders a CSV as aligned rows so header context survives chunking.
func tabular(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &Error{Path: path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return "", &Error{Path: path, Err: fmt.Errorf("parse csv: %w", err)}
	}

	var sb strings.Builder
	for i, row := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.Join(row, " | "))
	}
	return sb.String(), nil
}

// pdfText extracts text page by page, tagging each page so citations can be
// traced back.
func pdfText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &Error{Path: path, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer f.Close()

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, fmt.Sprintf("[Page %d]\n%s", pageNum, pageText))
		}
	}

	if len(parts) == 0 {
		return "", &Error{Path: path, Err: fmt.Errorf("no text extracted")}
	}
	return strings.Join(parts, "\n\n"), nil
}
