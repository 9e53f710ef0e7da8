package apiServer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	tally "github.com/i5heu/cipher-tally"
	"github.com/i5heu/cipher-tally/internal/aggregate"
	"github.com/i5heu/cipher-tally/internal/audit"
	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/i5heu/cipher-tally/internal/metric"
	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/paillier"
)

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var unsupported *ingest.UnsupportedFormatError
	switch {
	case errors.Is(err, tally.ErrNotStarted),
		errors.Is(err, tally.ErrClosed),
		errors.Is(err, store.ErrPersistence),
		errors.Is(err, audit.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, aggregate.ErrKeyMismatch),
		errors.Is(err, paillier.ErrDecryption):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidCiphertext),
		errors.Is(err, store.ErrInvalidMeta),
		errors.Is(err, paillier.ErrMalformedInteger),
		errors.Is(err, paillier.ErrCiphertextOutOfRange),
		errors.Is(err, paillier.ErrPlaintextOutOfRange),
		errors.Is(err, tally.ErrNoSubmissions),
		errors.Is(err, tally.ErrNegativeMetric),
		errors.Is(err, aggregate.ErrInvalidScale):
		return http.StatusBadRequest
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrRecognitionEmpty),
		errors.Is(err, ingest.ErrNoRowsDetected),
		errors.Is(err, metric.ErrNoRecords),
		errors.Is(err, metric.ErrInvalidMetric):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrNoRecognizer):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server side failures are logged at
// Error, client mistakes at Debug.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(msg, "error", err, "status", status)
	} else {
		s.log.Debug(msg, "error", err, "status", status)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

// readUpload reads the multipart "file" field, bounded by the upload cap.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse multipart form: %v", err))
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return "", nil, false
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return "", nil, false
	}
	return header.Filename, data, true
}

func WithLogger(logger *slog.Logger) Option { // HC
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option { // HC
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}
