package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/receipt-capture/internal/overlap"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
)

// DefaultRecognizeTimeout bounds a single OCR call
const DefaultRecognizeTimeout = 45 * time.Second

// ErrEmptyImage is returned for an upload without any bytes
var ErrEmptyImage = errors.New("image data is empty")

// ImageStore keeps the bytes of committed captures
type ImageStore interface {
	Save(filename string, data []byte) (string, error)
	Delete(path string) error
}

// Upload is one image submitted to a session
type Upload struct {
	Data        []byte
	ContentType string
}

// Result is what the caller needs to guide the next capture
type Result struct {
	Overlap            *overlap.Result `json:"overlap"`
	ReceiptEndDetected bool            `json:"receipt_end_detected"`
	LastLines          []string        `json:"last_lines"`
	ImageCount         int             `json:"image_count"`
	Status             session.Status  `json:"status"`
}

// Coordinator runs the add-image step of a scan session
type Coordinator struct {
	store       session.Store
	recognizer  scanning.Recognizer
	detector    *overlap.Detector
	endDetector *EndDetector
	images      ImageStore
	timeout     time.Duration
	timeSource  session.TimeSource
}

// Config holds the optional parts of a Coordinator
type Config struct {
	// Images stores capture bytes; nil disables retention
	Images ImageStore
	// RecognizeTimeout bounds each OCR call
	RecognizeTimeout time.Duration
	// TimeSource stamps captures; nil uses the wall clock
	TimeSource session.TimeSource
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewCoordinator creates a new Coordinator
func NewCoordinator(store session.Store, recognizer scanning.Recognizer, detector *overlap.Detector, endDetector *EndDetector, cfg Config) *Coordinator {
	if cfg.RecognizeTimeout <= 0 {
		cfg.RecognizeTimeout = DefaultRecognizeTimeout
	}
	if cfg.TimeSource == nil {
		cfg.TimeSource = wallClock{}
	}
	return &Coordinator{
		store:       store,
		recognizer:  recognizer,
		detector:    detector,
		endDetector: endDetector,
		images:      cfg.Images,
		timeout:     cfg.RecognizeTimeout,
		timeSource:  cfg.TimeSource,
	}
}

// AddImage recognizes an upload, aligns it with the lines merged so far and
// commits it. Either the capture is committed in full or the session is left
// exactly as it was, which makes a failed call safe to repeat.
func (c *Coordinator) AddImage(ctx context.Context, sessionID string, upload Upload) (*Result, error) {
	if len(upload.Data) == 0 {
		return nil, ErrEmptyImage
	}

	// Fail fast before spending an OCR call on a session that cannot take it.
	snapshot, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := snapshot.CanAppend(); err != nil {
		return nil, err
	}

	var savedPath string
	updated, err := c.store.Update(ctx, sessionID, func(s *session.ScanSession) error {
		if err := s.CanAppend(); err != nil {
			return err
		}
		index := s.ImageCount()

		lines, err := c.recognize(ctx, s.ID, index, upload)
		if err != nil {
			return err
		}

		img := session.CapturedImage{
			RawLines:   lines,
			Blank:      len(lines) == 0,
			CapturedAt: c.timeSource.Now(),
		}
		if img.Blank {
			slog.Warn("Capture contained no text", "session_id", s.ID, "image_index", index)
		}
		if index > 0 {
			r := c.detector.Detect(s.MergedLines, lines, s.Settings.MinOverlapConfidence)
			img.Overlap = &r
			if !r.Blank && r.OverlapLineCount == 0 {
				slog.Warn("No overlap with previous capture", "session_id", s.ID, "image_index", index)
			}
		}

		if s.Settings.AutoDetectEnd && c.endDetector != nil {
			skip := 0
			if img.Overlap != nil {
				skip = img.Overlap.OverlapLineCount
			}
			img.ReceiptEndDetected = c.endDetector.Detect(lines[skip:])
		}

		if c.images != nil {
			path, err := c.images.Save(imageFilename(s.ID, index, upload.ContentType), upload.Data)
			if err != nil {
				return fmt.Errorf("saving image: %w", err)
			}
			savedPath = path
			img.StoredPath = path
		}

		return s.Append(img)
	})
	if err != nil {
		if savedPath != "" {
			if delErr := c.images.Delete(savedPath); delErr != nil {
				slog.Warn("Failed to delete uncommitted image", "path", savedPath, "error", delErr)
			}
		}
		return nil, err
	}

	last := updated.Images[len(updated.Images)-1]
	return &Result{
		Overlap:            last.Overlap,
		ReceiptEndDetected: last.ReceiptEndDetected,
		LastLines:          updated.Tail(c.detector.Window()),
		ImageCount:         updated.ImageCount(),
		Status:             updated.Status,
	}, nil
}

func (c *Coordinator) recognize(ctx context.Context, sessionID string, index int, upload Upload) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	lines, err := c.recognizer.Recognize(rctx, upload.Data, upload.ContentType)
	if err != nil {
		// A caller that went away is not a provider failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("Failed to recognize capture",
			"session_id", sessionID,
			"image_index", index,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		return nil, fmt.Errorf("%w: recognizing image %d: %w", scanning.ErrExtractionFailed, index, err)
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func imageFilename(sessionID string, index int, contentType string) string {
	ext := ".jpg"
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/heic":
		ext = ".heic"
	case "image/heif":
		ext = ".heif"
	case "application/pdf":
		ext = ".pdf"
	}
	return fmt.Sprintf("%s_%02d%s", sessionID, index, ext)
}
