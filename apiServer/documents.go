package apiServer

import (
	"errors"
	"net/http"

	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/i5heu/cipher-tally/internal/normalize"
)

type recognizeResponse struct {
	Rows    []normalize.RawRecord `json:"rows"`
	RawText string                `json:"rawText"`
	Message string                `json:"message,omitempty"`
}

type ingestResponse struct {
	Filename  string                `json:"filename"`
	Format    ingest.Format         `json:"format"`
	Rows      []normalize.RawRecord `json:"rows"`
	Skipped   int                   `json:"skipped"`
	Metric    float64               `json:"metric"`
	MetricInt string                `json:"metricInt"`
	Scale     int64                 `json:"scale"`
	RawText   string                `json:"rawText,omitempty"`
}

// handleRecognize runs image recognition only. Text that yields no rows is
// still returned so the caller can correct it by hand.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) { // A
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.tally.Recognize(r.Context(), filename, data)
	var noRows *ingest.NoRowsError
	switch {
	case errors.As(err, &noRows):
		writeJSON(w, http.StatusOK, recognizeResponse{
			Rows:    []normalize.RawRecord{},
			RawText: noRows.RawText,
			Message: "no rows detected",
		})
		return
	case err != nil:
		s.fail(w, "recognition failed", err)
		return
	}

	writeJSON(w, http.StatusOK, recognizeResponse{Rows: res.Records, RawText: res.RawText})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) { // A
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	rep, err := s.tally.Ingest(r.Context(), filename, data)
	if err != nil {
		s.fail(w, "ingestion failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Filename:  rep.Filename,
		Format:    rep.Format,
		Rows:      rep.Records,
		Skipped:   rep.Skipped,
		Metric:    rep.Metric,
		MetricInt: rep.MetricInt.String(),
		Scale:     rep.Scale,
		RawText:   rep.RawText,
	})
}
