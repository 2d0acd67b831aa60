package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zombor/receipt-capture/internal/overlap"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidState is returned when an operation is not valid for the session status.
	ErrInvalidState = errors.New("invalid session state")
	// ErrCapacityExceeded is returned when a session already holds MaxImages captures.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrEmptySession is returned when completing a session with no captures.
	ErrEmptySession = errors.New("session has no images")
)

// Status is the lifecycle state of a scan session.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Settings are fixed when a session is created.
type Settings struct {
	AutoDetectEnd        bool    `json:"auto_detect_end"`
	MinOverlapConfidence float64 `json:"min_overlap_confidence"`
	MaxImages            int     `json:"max_images"`
}

// DefaultSettings returns the settings used when a caller supplies none.
func DefaultSettings() Settings {
	return Settings{
		AutoDetectEnd:        true,
		MinOverlapConfidence: 0.6,
		MaxImages:            10,
	}
}

// Validate checks the settings ranges.
func (s Settings) Validate() error {
	if s.MaxImages <= 0 {
		return fmt.Errorf("max images must be positive, got %d", s.MaxImages)
	}
	if s.MinOverlapConfidence < 0 || s.MinOverlapConfidence > 1 {
		return fmt.Errorf("min overlap confidence must be within [0,1], got %v", s.MinOverlapConfidence)
	}
	return nil
}

// CapturedImage is one committed capture. It is never changed after commit.
type CapturedImage struct {
	Index              int             `json:"index"`
	RawLines           []string        `json:"raw_lines"`
	Overlap            *overlap.Result `json:"overlap"`
	ReceiptEndDetected bool            `json:"receipt_end_detected"`
	Blank              bool            `json:"blank,omitempty"` // OCR returned no lines
	StoredPath         string          `json:"stored_path,omitempty"`
	CapturedAt         time.Time       `json:"captured_at"`
}

// ScanSession is the state of one receipt-scanning interaction.
type ScanSession struct {
	ID          string          `json:"id"`
	Settings    Settings        `json:"settings"`
	Images      []CapturedImage `json:"images"`
	MergedLines []string        `json:"merged_lines"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ImageCount returns the number of committed captures.
func (s *ScanSession) ImageCount() int {
	return len(s.Images)
}

// CanAppend reports why another capture cannot be added, or nil if it can.
func (s *ScanSession) CanAppend() error {
	if s.Status != StatusOpen {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.ID, s.Status)
	}
	if len(s.Images) >= s.Settings.MaxImages {
		return fmt.Errorf("%w: session %s holds %d of %d images", ErrCapacityExceeded, s.ID, len(s.Images), s.Settings.MaxImages)
	}
	return nil
}

// Append commits img and extends the merged lines with the part of its raw
// lines not already covered by the overlap.
func (s *ScanSession) Append(img CapturedImage) error {
	if err := s.CanAppend(); err != nil {
		return err
	}

	img.Index = len(s.Images)
	if img.Index == 0 && img.Overlap != nil {
		return fmt.Errorf("first image cannot carry an overlap result")
	}
	if img.Index > 0 && img.Overlap == nil {
		return fmt.Errorf("image %d is missing its overlap result", img.Index)
	}

	skip := 0
	if img.Overlap != nil {
		skip = img.Overlap.OverlapLineCount
	}
	if skip < 0 || skip > len(img.RawLines) || skip > len(s.MergedLines) {
		return fmt.Errorf("overlap of %d lines does not fit image %d", skip, img.Index)
	}

	img.RawLines = slices.Clone(img.RawLines)
	s.Images = append(s.Images, img)
	s.MergedLines = append(s.MergedLines, img.RawLines[skip:]...)
	return nil
}

// Tail returns a copy of the last n merged lines.
func (s *ScanSession) Tail(n int) []string {
	if n > len(s.MergedLines) {
		n = len(s.MergedLines)
	}
	if n <= 0 {
		return []string{}
	}
	return slices.Clone(s.MergedLines[len(s.MergedLines)-n:])
}

// clone returns a copy that shares no slices with s, so a failed update can
// be discarded without touching committed state.
func (s *ScanSession) clone() *ScanSession {
	c := *s
	c.Images = slices.Clone(s.Images)
	c.MergedLines = slices.Clone(s.MergedLines)
	return &c
}
