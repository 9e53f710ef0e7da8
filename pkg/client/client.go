// Package client talks to a tally server. Values are encrypted locally, so
// plaintext metrics never leave the caller.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i5heu/cipher-tally/pkg/paillier"
)

var ErrKeyIDMismatch = errors.New("client: server key id does not fingerprint the served key")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tally server: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	http       *http.Client
	adminToken string
	actor      string
	random     io.Reader
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAdmin sets the bearer token and actor used for privileged calls.
func WithAdmin(token, actor string) Option {
	return func(c *Client) {
		c.adminToken = token
		c.actor = actor
	}
}

func WithRandom(r io.Reader) Option {
	return func(c *Client) {
		if r != nil {
			c.random = r
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Meta struct {
	Filename  string `json:"filename"`
	Scale     int64  `json:"scale"`
	MetricInt string `json:"metricInt"`
	LedgerRef string `json:"ledgerRef,omitempty"`
}

type SubmitResult struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	KeyID string `json:"keyId"`
}

type Aggregate struct {
	Ciphertext  *big.Int
	AggregateID string
	Count       int
	Scale       int64
	KeyID       string
	ProducedAt  time.Time
}

func (a Aggregate) Empty() bool { return a.Count == 0 }

type Decryption struct {
	Plaintext   string `json:"plaintext"`
	Scale       int64  `json:"scale"`
	Count       int    `json:"count"`
	Value       string `json:"value"`
	KeyID       string `json:"keyId"`
	AggregateID string `json:"aggregateId"`
}

type Row struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

type IngestResult struct {
	Filename  string  `json:"filename"`
	Format    string  `json:"format"`
	Rows      []Row   `json:"rows"`
	Skipped   int     `json:"skipped"`
	Metric    float64 `json:"metric"`
	MetricInt string  `json:"metricInt"`
	Scale     int64   `json:"scale"`
	RawText   string  `json:"rawText,omitempty"`
}

type RecognizeResult struct {
	Rows    []Row  `json:"rows"`
	RawText string `json:"rawText"`
	Message string `json:"message,omitempty"`
}

type AuditEvent struct {
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	Count       int       `json:"count"`
	Scale       int64     `json:"scale,omitempty"`
	KeyID       string    `json:"keyId,omitempty"`
	AggregateID string    `json:"aggregateId,omitempty"`
}

// PublicKey fetches the active key and checks that the advertised key id
// matches it.
func (c *Client) PublicKey(ctx context.Context) (*paillier.PublicKey, error) {
	var resp struct {
		N     string `json:"N"`
		G     string `json:"g"`
		KeyID string `json:"keyId"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/paillier/pub", nil, "", false, &resp); err != nil {
		return nil, err
	}

	n, err := paillier.ParseDecimal(resp.N)
	if err != nil {
		return nil, err
	}
	g, err := paillier.ParseDecimal(resp.G)
	if err != nil {
		return nil, err
	}
	pk, err := paillier.NewPublicKey(n, g)
	if err != nil {
		return nil, err
	}
	if pk.ID() != resp.KeyID {
		return nil, ErrKeyIDMismatch
	}
	return pk, nil
}

// Submit sends a ciphertext that was produced under the key named keyID.
func (c *Client) Submit(ctx context.Context, ciphertext *big.Int, keyID string, meta Meta) (SubmitResult, error) {
	body, err := json.Marshal(map[string]any{
		"ciphertext": paillier.EncodeCiphertext(ciphertext),
		"keyId":      keyID,
		"meta":       meta,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	var res SubmitResult
	err = c.do(ctx, http.MethodPost, "/api/submit", bytes.NewReader(body), "application/json", false, &res)
	return res, err
}

// EncryptAndSubmit encrypts metricInt under the server's current key and
// submits it. meta.MetricInt is filled in when empty.
func (c *Client) EncryptAndSubmit(ctx context.Context, metricInt *big.Int, meta Meta) (SubmitResult, error) {
	pk, err := c.PublicKey(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	ct, err := pk.Encrypt(c.random, metricInt)
	if err != nil {
		return SubmitResult{}, err
	}
	if meta.MetricInt == "" {
		meta.MetricInt = metricInt.String()
	}
	return c.Submit(ctx, ct, pk.ID(), meta)
}

// Aggregate fetches the encrypted total of the first count submissions;
// count < 0 means all of them.
func (c *Client) Aggregate(ctx context.Context, count int) (Aggregate, error) {
	path := "/api/aggregate"
	if count >= 0 {
		path += "?" + url.Values{"count": {strconv.Itoa(count)}}.Encode()
	}

	var resp struct {
		AggregateCiphertext *string   `json:"aggregateCiphertext"`
		AggregateID         string    `json:"aggregateId"`
		Count               int       `json:"count"`
		Scale               int64     `json:"scale"`
		KeyID               string    `json:"keyId"`
		ProducedAt          time.Time `json:"producedAt"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", false, &resp); err != nil {
		return Aggregate{}, err
	}

	agg := Aggregate{
		AggregateID: resp.AggregateID,
		Count:       resp.Count,
		Scale:       resp.Scale,
		KeyID:       resp.KeyID,
		ProducedAt:  resp.ProducedAt,
	}
	if resp.AggregateCiphertext != nil {
		ct, err := paillier.ParseCiphertext(*resp.AggregateCiphertext)
		if err != nil {
			return Aggregate{}, err
		}
		agg.Ciphertext = ct
	}
	return agg, nil
}

func (c *Client) Decrypt(ctx context.Context) (Decryption, error) {
	var res Decryption
	err := c.do(ctx, http.MethodGet, "/api/decrypt", nil, "", true, &res)
	return res, err
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/clear", nil, "", true, nil)
}

func (c *Client) Audit(ctx context.Context) ([]AuditEvent, error) {
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/api/audit", nil, "", true, &resp)
	return resp.Events, err
}

func (c *Client) Ingest(ctx context.Context, filename string, r io.Reader) (IngestResult, error) {
	var res IngestResult
	err := c.upload(ctx, "/api/ingest", filename, r, &res)
	return res, err
}

func (c *Client) Recognize(ctx context.Context, filename string, r io.Reader) (RecognizeResult, error) {
	var res RecognizeResult
	err := c.upload(ctx, "/api/recognize", filename, r, &res)
	return res, err
}

func (c *Client) upload(ctx context.Context, path, filename string, r io.Reader, out any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, &body, mw.FormDataContentType(), false, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, admin bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
		if c.actor != "" {
			req.Header.Set("X-Actor", c.actor)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
