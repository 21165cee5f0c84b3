package models

// Ingestion error codes recorded in Metadata.Error.
const (
	ErrFileNotFound      = "file_not_found"
	ErrExtractionFailed  = "extraction_failed"
	ErrUnsupportedOrRead = "unsupported_or_read_failed"
)

// Metadata describes how a Document was produced. It is recorded in the
// report whether or not extraction succeeded.
type Metadata struct {
	OK           bool   `json:"ok"`
	Path         string `json:"path"`
	Ext          string `json:"ext,omitempty"`
	Error        string `json:"error,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Pages        int    `json:"pages,omitempty"`
	OCR          bool   `json:"ocr,omitempty"`
	FallbackRead bool   `json:"fallback_read,omitempty"`
	Chars        int    `json:"chars"`
}

// Document is the ingested submission. Text is never modified after
// ingestion; analyzers and prompt builders work on copies.
type Document struct {
	Text     string
	Metadata Metadata
}

// SearchResult is one candidate returned by a lookup collaborator.
type SearchResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}
