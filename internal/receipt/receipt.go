package receipt

import (
	"time"

	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
	"github.com/zombor/receipt-capture/internal/validation"
)

// Scan is the archived outcome of a completed capture session
type Scan struct {
	ID          string               `json:"id"` // same as the session ID
	Session     *session.ScanSession `json:"session"`
	Record      *scanning.Record     `json:"record,omitempty"`
	Report      *validation.Report   `json:"report,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
	ExtractedAt *time.Time           `json:"extracted_at,omitempty"`
	LastError   string               `json:"last_error,omitempty"` // last extraction failure, cleared on success
}

// Extracted reports whether field extraction has succeeded for this scan
func (s *Scan) Extracted() bool {
	return s.Report != nil
}

// SessionView is the summary returned when a session starts or changes status
type SessionView struct {
	SessionID  string           `json:"session_id"`
	Settings   session.Settings `json:"settings"`
	ImageCount int              `json:"image_count"`
	Status     session.Status   `json:"status"`
}

// Completion is returned by CompleteSession and RetryExtraction
type Completion struct {
	MergedResult *scanning.Record   `json:"merged_result"`
	Validation   *validation.Report `json:"validation"`
	MergedLines  []string           `json:"merged_lines"`
	ImageCount   int                `json:"image_count"`
	Status       session.Status     `json:"status"`
}

func viewOf(s *session.ScanSession) *SessionView {
	return &SessionView{
		SessionID:  s.ID,
		Settings:   s.Settings,
		ImageCount: s.ImageCount(),
		Status:     s.Status,
	}
}
