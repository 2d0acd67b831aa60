package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/receipt-capture/internal/capture"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
)

// maxFormSize allows high-resolution phone photos
const maxFormSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, ErrScanNotFound),
		errors.Is(err, ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptySession):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, capture.ErrEmptyImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs and writes a service error
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Error handling request", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "Internal server error"
	}
	writeError(w, message, code)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartSession opens a session. Settings omitted from the body keep
// their defaults.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	settings := s.service.DefaultSettings()
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	view, err := s.service.StartSession(settings)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// handleGetSession returns a session with its captures and merged lines
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleAddImage handles one capture upload
func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	result, err := s.service.AddImage(r.Context(), r.PathValue("id"), capture.Upload{
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("Error adding image", "session_id", r.PathValue("id"), "filename", header.Filename, "error", err)
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// contentTypeFromExt guesses an upload's type from its file name
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleGetImage returns the stored bytes of a capture
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, "Image index must be a number", http.StatusBadRequest)
		return
	}

	data, err := s.service.GetImage(r.PathValue("id"), index)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleCompleteSession finishes capture and returns the validated result
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	completion, err := s.service.CompleteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

// handleRetryExtraction re-runs extraction for a completed session
func (s *Server) handleRetryExtraction(w http.ResponseWriter, r *http.Request) {
	completion, err := s.service.RetryExtraction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

// handleAbortSession abandons a session
func (s *Server) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.AbortSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListScans returns all archived scans
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleGetScan returns one archived scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}
