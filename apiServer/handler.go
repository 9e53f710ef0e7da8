package apiServer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/i5heu/cipher-tally/internal/audit"
	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/paillier"
)

const maxSubmitBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type publicKeyResponse struct {
	N     string `json:"N"`
	G     string `json:"g"`
	KeyID string `json:"keyId"`
	Bits  int    `json:"bits"`
}

type submitRequest struct {
	Ciphertext string     `json:"ciphertext"`
	KeyID      string     `json:"keyId,omitempty"`
	Meta       submitMeta `json:"meta"`
}

type submitMeta struct {
	Filename  string `json:"filename"`
	Scale     int64  `json:"scale"`
	MetricInt string `json:"metricInt"`
	LedgerRef string `json:"ledgerRef,omitempty"`
}

type submitResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	KeyID string `json:"keyId"`
}

type aggregateResponse struct {
	AggregateCiphertext *string `json:"aggregateCiphertext"`
	AggregateID         string  `json:"aggregateId,omitempty"`
	Count               int     `json:"count"`
	Scale               int64   `json:"scale,omitempty"`
	KeyID               string  `json:"keyId,omitempty"`
	ProducedAt          string  `json:"producedAt,omitempty"`
	Empty               bool    `json:"empty,omitempty"`
}

type decryptResponse struct {
	Plaintext   string `json:"plaintext"`
	Scale       int64  `json:"scale"`
	Count       int    `json:"count"`
	Value       string `json:"value"`
	KeyID       string `json:"keyId"`
	AggregateID string `json:"aggregateId"`
}

type submissionView struct {
	ID         string     `json:"id"`
	Seq        uint64     `json:"seq"`
	KeyID      string     `json:"keyId"`
	Digest     string     `json:"digest"`
	Ciphertext string     `json:"ciphertext"`
	Meta       store.Meta `json:"meta"`
}

type submissionsResponse struct {
	Count       int              `json:"count"`
	Submissions []submissionView `json:"submissions"`
}

type auditResponse struct {
	Events []audit.Event `json:"events"`
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) { // A
	pk, err := s.tally.PublicKey(r.Context())
	if err != nil {
		s.fail(w, "failed to read public key", err)
		return
	}

	writeJSON(w, http.StatusOK, publicKeyResponse{
		N:     pk.N.String(),
		G:     pk.G.String(),
		KeyID: pk.ID(),
		Bits:  pk.Bits(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) { // PA
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Ciphertext) == "" {
		writeError(w, http.StatusBadRequest, "ciphertext is required")
		return
	}

	c, err := paillier.ParseCiphertext(req.Ciphertext)
	if err != nil {
		s.fail(w, "rejected malformed ciphertext", err)
		return
	}

	sub, err := s.tally.Submit(r.Context(), c, strings.TrimSpace(req.KeyID), store.Meta{
		Filename:  req.Meta.Filename,
		Scale:     req.Meta.Scale,
		MetricInt: req.Meta.MetricInt,
		LedgerRef: req.Meta.LedgerRef,
	})
	if err != nil {
		s.fail(w, "failed to store submission", err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{OK: true, ID: sub.ID, KeyID: sub.KeyID})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) { // A
	count := -1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "count must be a non-negative integer")
			return
		}
		count = n
	}

	art, err := s.tally.AggregateFirst(r.Context(), count)
	if err != nil {
		s.fail(w, "failed to aggregate", err)
		return
	}

	if art.Empty() {
		writeJSON(w, http.StatusOK, aggregateResponse{Empty: true})
		return
	}

	encoded := paillier.EncodeCiphertext(art.Ciphertext)
	writeJSON(w, http.StatusOK, aggregateResponse{
		AggregateCiphertext: &encoded,
		AggregateID:         art.ID,
		Count:               art.Count,
		Scale:               art.Scale,
		KeyID:               art.KeyID,
		ProducedAt:          art.ProducedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) { // A
	res, err := s.tally.DecryptAggregate(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, "failed to decrypt aggregate", err)
		return
	}

	writeJSON(w, http.StatusOK, decryptResponse{
		Plaintext:   res.Plaintext.String(),
		Scale:       res.Scale,
		Count:       res.Count,
		Value:       res.ValueString(),
		KeyID:       res.KeyID,
		AggregateID: res.AggregateID,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) { // A
	if err := s.tally.Clear(r.Context(), actorFrom(r)); err != nil {
		s.fail(w, "failed to clear submissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) { // A
	subs, err := s.tally.Submissions(r.Context())
	if err != nil {
		s.fail(w, "failed to list submissions", err)
		return
	}

	views := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, submissionView{
			ID:         sub.ID,
			Seq:        sub.Seq,
			KeyID:      sub.KeyID,
			Digest:     sub.Digest,
			Ciphertext: paillier.EncodeCiphertext(sub.Ciphertext),
			Meta:       sub.Meta,
		})
	}
	writeJSON(w, http.StatusOK, submissionsResponse{Count: len(views), Submissions: views})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) { // A
	events, err := s.tally.Audit(r.Context())
	if err != nil {
		s.fail(w, "failed to read audit log", err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.tally.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
