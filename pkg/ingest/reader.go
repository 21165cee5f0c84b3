// Package ingest extracts plain text from submitted files.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/grader/internal/models"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".bmp": true,
}

var errNoText = errors.New("no extractable text found")

// Reader never returns an error: every failure is described in the
// returned metadata and the text is empty.
type Reader struct{}

func NewReader() *Reader { return &Reader{} }

func (r *Reader) Extract(path string) (string, models.Metadata) {
	meta := models.Metadata{Path: path}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		meta.Error = models.ErrFileNotFound
		if err != nil {
			meta.Detail = err.Error()
		} else {
			meta.Detail = "path is a directory"
		}
		return "", meta
	}

	meta.Ext = strings.ToLower(filepath.Ext(path))

	var text string
	switch {
	case meta.Ext == ".pdf":
		var pages int
		text, pages, err = parsePDF(path)
		meta.Pages = pages
		if err != nil {
			return fail(meta, models.ErrExtractionFailed, err)
		}
	case meta.Ext == ".docx":
		text, err = parseDOCX(path)
		if err != nil {
			return fail(meta, models.ErrExtractionFailed, err)
		}
	case imageExts[meta.Ext]:
		return fail(meta, models.ErrExtractionFailed, errors.New("ocr unavailable"))
	default:
		text, err = readText(path)
		if err != nil {
			return fail(meta, models.ErrUnsupportedOrRead, err)
		}
		meta.FallbackRead = true
	}

	text = strings.TrimSpace(text)
	meta.OK = true
	meta.Chars = utf8.RuneCountInString(text)
	return text, meta
}

func fail(meta models.Metadata, code string, err error) (string, models.Metadata) {
	meta.OK = false
	meta.Error = code
	meta.Detail = err.Error()
	meta.Chars = 0
	return "", meta
}

func readText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("file is not valid utf-8 text")
	}
	return string(raw), nil
}

func parsePDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", total, errNoText
	}
	return b.String(), total, nil
}

func parseDOCX(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	var xmlData []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, openErr := f.Open()
		if openErr != nil {
			return "", fmt.Errorf("open document.xml: %w", openErr)
		}
		xmlData, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		break
	}
	if len(xmlData) == 0 {
		return "", fmt.Errorf("word/document.xml not found")
	}

	decoder := xml.NewDecoder(bytes.NewReader(xmlData))
	var b strings.Builder
	inText := false
	for {
		tok, tokenErr := decoder.Token()
		if tokenErr == io.EOF {
			break
		}
		if tokenErr != nil {
			return "", fmt.Errorf("decode document.xml: %w", tokenErr)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "p":
				if b.Len() > 0 {
					b.WriteString("\n")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errNoText
	}
	return b.String(), nil
}
