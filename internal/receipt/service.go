package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/receipt-capture/internal/capture"
	"github.com/zombor/receipt-capture/internal/session"
	"github.com/zombor/receipt-capture/internal/validation"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service exposes the capture engine: sessions, captures, completion and
// the archive of finished scans.
type Service struct {
	store       session.Store
	coordinator *capture.Coordinator
	engine      *validation.Engine
	db          DB
	storage     Storage
	defaults    session.Settings
	timeSource  TimeSource
}

// NewService creates a new Service with the wall clock as time source
func NewService(store session.Store, coordinator *capture.Coordinator, engine *validation.Engine, db DB, storage Storage, defaults session.Settings) *Service {
	return NewServiceWithDeps(store, coordinator, engine, db, storage, defaults, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store session.Store, coordinator *capture.Coordinator, engine *validation.Engine, db DB, storage Storage, defaults session.Settings, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		coordinator: coordinator,
		engine:      engine,
		db:          db,
		storage:     storage,
		defaults:    defaults,
		timeSource:  timeSrc,
	}
}

// DefaultSettings returns the settings applied to fields a caller omits
func (s *Service) DefaultSettings() session.Settings {
	return s.defaults
}

// StartSession opens a new capture session
func (s *Service) StartSession(settings session.Settings) (*SessionView, error) {
	sess, err := s.store.Create(settings)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	slog.Info("Session started", "session_id", sess.ID, "max_images", settings.MaxImages)
	return viewOf(sess), nil
}

// GetSession returns the current state of a session
func (s *Service) GetSession(id string) (*session.ScanSession, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// AddImage recognizes and merges one capture into a session
func (s *Service) AddImage(ctx context.Context, id string, upload capture.Upload) (*capture.Result, error) {
	result, err := s.coordinator.AddImage(ctx, id, upload)
	if err != nil {
		return nil, fmt.Errorf("adding image: %w", err)
	}
	slog.Info("Image added",
		"session_id", id,
		"image_count", result.ImageCount,
		"receipt_end", result.ReceiptEndDetected,
	)
	return result, nil
}

// GetImage returns the stored bytes of one capture
func (s *Service) GetImage(id string, index int) ([]byte, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if index < 0 || index >= sess.ImageCount() {
		return nil, fmt.Errorf("%w: image %d of session %s", ErrImageNotFound, index, id)
	}
	path := sess.Images[index].StoredPath
	if path == "" || s.storage == nil {
		return nil, fmt.Errorf("%w: image %d of session %s was not retained", ErrImageNotFound, index, id)
	}
	data, err := s.storage.Get(path)
	if err != nil {
		return nil, fmt.Errorf("getting image file: %w", err)
	}
	return data, nil
}

// CompleteSession closes a session to new captures, then extracts and
// validates the merged receipt. If extraction fails the session stays
// completed and RetryExtraction can be called later.
func (s *Service) CompleteSession(ctx context.Context, id string) (*Completion, error) {
	sess, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}

	scan := &Scan{
		ID:          sess.ID,
		Session:     sess,
		CompletedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveScan(scan); err != nil {
		// The session itself is completed; a later retry will archive it.
		slog.Warn("Failed to archive completed session", "session_id", id, "error", err)
	}
	slog.Info("Session completed", "session_id", id, "image_count", sess.ImageCount(), "line_count", len(sess.MergedLines))

	return s.extract(ctx, scan)
}

// RetryExtraction runs field extraction again for a completed session
// whose earlier extraction failed.
func (s *Service) RetryExtraction(ctx context.Context, id string) (*Completion, error) {
	scan, err := s.db.GetScan(id)
	if err != nil && !errors.Is(err, ErrScanNotFound) {
		return nil, fmt.Errorf("getting scan: %w", err)
	}

	if scan == nil {
		sess, err := s.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("getting session: %w", err)
		}
		scan = &Scan{ID: sess.ID, Session: sess, CompletedAt: sess.UpdatedAt}
	}

	if scan.Session.Status != session.StatusCompleted {
		return nil, fmt.Errorf("%w: session %s is %s", session.ErrInvalidState, id, scan.Session.Status)
	}
	if scan.Extracted() {
		return nil, fmt.Errorf("%w: session %s was already extracted", session.ErrInvalidState, id)
	}

	return s.extract(ctx, scan)
}

func (s *Service) extract(ctx context.Context, scan *Scan) (*Completion, error) {
	result, err := s.engine.Finalize(ctx, scan.Session)
	if err != nil {
		scan.LastError = err.Error()
		if saveErr := s.db.SaveScan(scan); saveErr != nil {
			slog.Warn("Failed to record extraction failure", "session_id", scan.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("finalizing session: %w", err)
	}

	now := s.timeSource.Now()
	scan.Record = result.Record
	scan.Report = result.Report
	scan.ExtractedAt = &now
	scan.LastError = ""
	if err := s.db.SaveScan(scan); err != nil {
		return nil, fmt.Errorf("saving scan: %w", err)
	}

	slog.Info("Scan validated",
		"session_id", scan.ID,
		"overall_score", result.Report.OverallScore,
		"issues", len(result.Report.Issues),
	)

	return &Completion{
		MergedResult: result.Record,
		Validation:   result.Report,
		MergedLines:  scan.Session.MergedLines,
		ImageCount:   scan.Session.ImageCount(),
		Status:       scan.Session.Status,
	}, nil
}

// AbortSession abandons an open session
func (s *Service) AbortSession(ctx context.Context, id string) (*SessionView, error) {
	sess, err := s.store.Abort(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("aborting session: %w", err)
	}
	slog.Info("Session aborted", "session_id", id, "image_count", sess.ImageCount())
	return viewOf(sess), nil
}

// GetScan retrieves an archived scan
func (s *Service) GetScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns all archived scans
func (s *Service) ListScans() ([]*Scan, error) {
	scans, err := s.db.ListScans()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}
