package apiServer

import (
	"log/slog"
	"net/http"

	tally "github.com/i5heu/cipher-tally"
	"github.com/i5heu/cipher-tally/internal/ingest"
)

type Server struct {
	mux       *http.ServeMux
	tally     *tally.Tally
	log       *slog.Logger
	auth      AuthFunc
	maxUpload int64
}

type Option func(*Server)

func New(t *tally.Tally, opts ...Option) *Server { // A
	s := &Server{
		mux:       http.NewServeMux(),
		tally:     t,
		log:       slog.Default(),
		auth:      BearerToken(""),
		maxUpload: ingest.DefaultMaxBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() { // AC
	s.mux.HandleFunc("GET /api/paillier/pub", s.handlePublicKey)
	s.mux.HandleFunc("POST /api/submit", s.handleSubmit)
	s.mux.HandleFunc("GET /api/aggregate", s.handleAggregate)
	s.mux.HandleFunc("GET /api/submissions", s.handleSubmissions)
	s.mux.HandleFunc("GET /api/decrypt", s.admin(s.handleDecrypt))
	s.mux.HandleFunc("POST /api/clear", s.admin(s.handleClear))
	s.mux.HandleFunc("GET /api/audit", s.admin(s.handleAudit))
	s.mux.HandleFunc("POST /api/ocr", s.handleRecognize)
	s.mux.HandleFunc("POST /api/recognize", s.handleRecognize)
	s.mux.HandleFunc("POST /api/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // AC
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept, Authorization, X-Actor"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type, Content-Length")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}
