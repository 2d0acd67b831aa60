package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// cleanResponse strips markdown fences that models add despite the prompt
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// jsonObject returns the text between the first '{' and the last '}'
func jsonObject(text string) (string, error) {
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseLinesJSON parses a transcription response into trimmed, non-empty lines.
// A plain-text response is accepted line by line.
func parseLinesJSON(text string) ([]string, error) {
	text = cleanResponse(text)
	if text == "" {
		return []string{}, nil
	}

	var raw []string
	if strings.HasPrefix(text, "{") || strings.Contains(text, `"lines"`) {
		obj, err := jsonObject(text)
		if err != nil {
			return nil, err
		}
		var data struct {
			Lines []string `json:"lines"`
		}
		if err := json.Unmarshal([]byte(obj), &data); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		raw = data.Lines
	} else {
		raw = strings.Split(text, "\n")
	}

	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// parseRecordJSON parses a field extraction response
func parseRecordJSON(text string) (*Record, error) {
	obj, err := jsonObject(cleanResponse(text))
	if err != nil {
		return nil, err
	}

	var data Record
	if err := json.Unmarshal([]byte(obj), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Business.Name = strings.TrimSpace(data.Business.Name)
	data.Business.Address = strings.TrimSpace(data.Business.Address)
	data.Business.Phone = strings.TrimSpace(data.Business.Phone)
	data.Business.TaxID = strings.TrimSpace(data.Business.TaxID)
	data.Date = normalizeDate(data.Date)

	items := make([]LineItem, 0, len(data.Items))
	for _, item := range data.Items {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" && item.LineTotal == 0 {
			continue
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.LineTotal == 0 && item.UnitPrice != 0 {
			item.LineTotal = roundCents(item.Quantity * item.UnitPrice)
		}
		if item.UnitPrice == 0 && item.LineTotal != 0 {
			item.UnitPrice = roundCents(item.LineTotal / item.Quantity)
		}
		items = append(items, item)
	}
	data.Items = items

	return &data, nil
}

// normalizeDate converts a date in any known format to YYYY-MM-DD. Dates
// that cannot be read are dropped rather than guessed.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
