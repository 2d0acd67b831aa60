package scanning

import (
	"context"
	"errors"
)

// ErrExtractionFailed marks a failure of an external text or field
// extraction provider. Calls that fail with it left no state behind and may
// be retried as-is.
var ErrExtractionFailed = errors.New("extraction failed")

// BusinessInfo identifies the merchant on a receipt
type BusinessInfo struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

// LineItem is one purchased item
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// Record contains the structured fields extracted from receipt text
type Record struct {
	Business BusinessInfo `json:"business"`
	Date     string       `json:"date"` // ISO 8601 format, empty when not found
	Items    []LineItem   `json:"items"`
	Subtotal float64      `json:"subtotal,omitempty"`
	Tax      float64      `json:"tax,omitempty"`
	Total    float64      `json:"total"` // zero when no grand total was found
}

// Recognizer turns an image into its ordered lines of text
type Recognizer interface {
	// Recognize reads every line of text in an image/PDF, top to bottom
	Recognize(ctx context.Context, imageData []byte, contentType string) ([]string, error)
	// Close closes the recognizer and releases resources
	Close() error
}

// FieldExtractor maps receipt text to a structured record
type FieldExtractor interface {
	// ExtractFields reads business, date, items and total from receipt lines
	ExtractFields(ctx context.Context, lines []string) (*Record, error)
}

// Scanner is a provider that can do both stages
type Scanner interface {
	Recognizer
	FieldExtractor
}
