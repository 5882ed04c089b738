// Package remote is the HTTP client for the compliance service: batch
// upload, job status, certificate download, single checks and
// reconciliation runs. Every failure leaves this package as one of
// ErrUnauthenticated, *ValidationError or *TransportError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/recon"
	"golang.org/x/oauth2"
)

// Defaults for ClientOpts.
const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxDownloadBytes = 200 << 20
	maxErrorBody            = 64 << 10
)

// Client talks to one compliance service.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	tokens      oauth2.TokenSource
	maxDownload int64
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL          string             // e.g. https://api.example/api/v1
	Timeout          time.Duration      // per request, defaults to DefaultTimeout
	TokenSource      oauth2.TokenSource // nil sends no Authorization header
	HTTPClient       *http.Client       // optional; Timeout is not applied to it
	MaxDownloadBytes int64              // defaults to DefaultMaxDownloadBytes
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: base URL %q must be http or https", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	maxDL := opts.MaxDownloadBytes
	if maxDL <= 0 {
		maxDL = DefaultMaxDownloadBytes
	}
	return &Client{baseURL: u, http: hc, tokens: opts.TokenSource, maxDownload: maxDL}, nil
}

// Submit uploads an accepted vendor list to POST /batch/upload.
func (c *Client) Submit(ctx context.Context, p *intake.Payload) (*JobHandle, error) {
	if p == nil {
		return nil, fmt.Errorf("remote: submit: no payload")
	}
	body, contentType, err := multipartBody(p, nil)
	if err != nil {
		return nil, err
	}

	var h JobHandle
	if err := c.do(ctx, "upload batch", http.MethodPost, "/batch/upload", contentType, body, &h); err != nil {
		return nil, err
	}
	if h.JobID == "" {
		return nil, &TransportError{Op: "upload batch", Err: errors.New("response has no job_id")}
	}
	h.Status = StatusQueued
	if h.RawStatus != "" {
		st, err := ParseJobStatus(h.RawStatus)
		if err != nil {
			return nil, &TransportError{Op: "upload batch", Err: err}
		}
		h.Status = st
	}
	return &h, nil
}

// Status reads GET /batch/status/{id}.
func (c *Client) Status(ctx context.Context, jobID string) (*JobReport, error) {
	var r JobReport
	path := "/batch/status/" + url.PathEscape(jobID)
	if err := c.do(ctx, "job status", http.MethodGet, path, "", nil, &r); err != nil {
		return nil, err
	}
	st, err := ParseJobStatus(r.RawStatus)
	if err != nil {
		return nil, &TransportError{Op: "job status", Err: err}
	}
	r.Status = st
	if r.JobID == "" {
		r.JobID = jobID
	}
	return &r, nil
}

// DownloadCertificates fetches the certificate archive of a completed job.
func (c *Client) DownloadCertificates(ctx context.Context, jobID string) ([]byte, error) {
	path := "/batch/download/" + url.PathEscape(jobID)
	resp, err := c.send(ctx, "download certificates", http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, &TransportError{Op: "download certificates", StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > c.maxDownload {
		return nil, &TransportError{
			Op:         "download certificates",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("archive exceeds %d bytes", c.maxDownload),
		}
	}
	return data, nil
}

// Check runs a single vendor compliance check.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*Decision, error) {
	payload := map[string]interface{}{
		"gstin":      req.GSTIN,
		"amount":     json.Number(req.Amount.String()),
		"party_name": req.PartyName,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote: encode check: %w", err)
	}

	var d Decision
	if err := c.do(ctx, "compliance check", http.MethodPost, "/compliance/check", "application/json", data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Reconcile uploads an accepted purchase register with its return period
// to POST /reconcile/run.
func (c *Client) Reconcile(ctx context.Context, p *intake.Payload) (*recon.Payload, error) {
	if p == nil {
		return nil, fmt.Errorf("remote: reconcile: no payload")
	}
	if p.Period() == "" {
		return nil, fmt.Errorf("remote: reconcile: payload has no return period")
	}
	body, contentType, err := multipartBody(p, map[string]string{"return_period": p.Period()})
	if err != nil {
		return nil, err
	}

	var out recon.Payload
	if err := c.do(ctx, "reconcile", http.MethodPost, "/reconcile/run", contentType, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	var ignored map[string]interface{}
	return c.do(ctx, "health", http.MethodGet, "/health", "", nil, &ignored)
}

// do sends a request and decodes a JSON success body into out.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, out interface{}) error {
	resp, err := c.send(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs the request and translates any non-2xx response. On success
// the caller owns resp.Body.
func (c *Client) send(ctx context.Context, op, method, path, contentType string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthenticated, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if ve, ok := parseValidation(resp.StatusCode, raw); ok {
			return nil, ve
		}
	}
	return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response %q", truncate(raw, 200))}
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// multipartBody buffers the file and form fields into a multipart body.
// The payload reader fails if the file no longer has its validated size.
func multipartBody(p *intake.Payload, fields map[string]string) ([]byte, string, error) {
	fh, err := p.Open()
	if err != nil {
		return nil, "", err
	}
	defer fh.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("remote: write field %s: %w", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", p.File().Name)
	if err != nil {
		return nil, "", fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := io.Copy(part, fh); err != nil {
		return nil, "", fmt.Errorf("remote: read %s: %w", p.File().Name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("remote: close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
