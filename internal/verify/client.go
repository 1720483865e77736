package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Verifier is the transport boundary the orchestrator talks through.
type Verifier interface {
	// VerifyReference looks up a transaction by its reference.
	VerifyReference(ctx context.Context, req ReferenceRequest) (map[string]any, error)

	// VerifyReceipt submits the receipt image itself for verification.
	VerifyReceipt(ctx context.Context, req ReceiptRequest) (map[string]any, error)
}

// ReferenceRequest is a reference-based verification request. Immutable once
// issued.
type ReferenceRequest struct {
	Provider  Provider
	Reference string
	Suffix    string
	Phone     string
}

// ReceiptRequest is an image-upload verification request.
type ReceiptRequest struct {
	Provider    Provider
	Suffix      string
	Image       []byte
	Filename    string
	ContentType string
}

// BaseURLSource resolves the verification endpoint base URL. It is consulted
// once per call so settings changes take effect immediately.
type BaseURLSource interface {
	BaseURL() (string, error)
}

const (
	defaultRetries    = 1
	defaultRetryDelay = 700 * time.Millisecond
	defaultTimeout    = 60 * time.Second
)

// Client implements Verifier against the HTTP verification API, with bounded
// retry for transient failures and user-facing error classification. It keeps
// no state across calls; results are returned for the caller to apply.
type Client struct {
	httpClient *http.Client
	settings   BaseURLSource
	apiKey     string
	retries    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewClient creates a Client with the default retry budget (1 retry, 700ms
// fixed backoff) and a 60 second per-call timeout.
func NewClient(settings BaseURLSource, apiKey string) *Client {
	return NewClientWithDeps(settings, apiKey, &http.Client{Timeout: defaultTimeout}, defaultRetries, defaultRetryDelay, sleepCtx, time.Now)
}

// NewClientWithRetry creates a Client with a caller-chosen retry budget.
func NewClientWithRetry(settings BaseURLSource, apiKey string, retries int, retryDelay time.Duration) *Client {
	return NewClientWithDeps(settings, apiKey, &http.Client{Timeout: defaultTimeout}, retries, retryDelay, sleepCtx, time.Now)
}

// NewClientWithDeps creates a Client with custom dependencies for testing.
func NewClientWithDeps(settings BaseURLSource, apiKey string, httpClient *http.Client, retries int, retryDelay time.Duration, sleep func(context.Context, time.Duration) error, now func() time.Time) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		apiKey:     apiKey,
		retries:    retries,
		retryDelay: retryDelay,
		sleep:      sleep,
		now:        now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// VerifyReference POSTs {base}/api/verify/reference.
func (c *Client) VerifyReference(ctx context.Context, req ReferenceRequest) (map[string]any, error) {
	body := map[string]any{
		"provider":  string(req.Provider),
		"reference": req.Reference,
	}
	if req.Suffix != "" {
		body["suffix"] = req.Suffix
		body["accountSuffix"] = req.Suffix
	}
	if req.Phone != "" {
		body["phone"] = req.Phone
		body["phoneNumber"] = req.Phone
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	return c.send(ctx, "/api/verify/reference", func(url string) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
}

// VerifyReceipt POSTs {base}/api/verify/receipt as multipart form data.
func (c *Client) VerifyReceipt(ctx context.Context, req ReceiptRequest) (map[string]any, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if req.Provider != "" {
		if err := w.WriteField("provider", string(req.Provider)); err != nil {
			return nil, fmt.Errorf("writing form field: %w", err)
		}
	}
	if req.Suffix != "" {
		if err := w.WriteField("suffix", req.Suffix); err != nil {
			return nil, fmt.Errorf("writing form field: %w", err)
		}
	}
	filename := req.Filename
	if filename == "" {
		filename = "receipt.jpg"
	}
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("writing image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}
	payload := buf.Bytes()
	contentType := w.FormDataContentType()

	return c.send(ctx, "/api/verify/receipt", func(url string) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		return httpReq, nil
	})
}

// send performs the request with the retry policy: transient failures
// (timeout, connection error, 5xx) consume the retry budget with a fixed
// backoff between attempts; every other failure is terminal and returned
// immediately.
func (c *Client) send(ctx context.Context, path string, build func(url string) (*http.Request, error)) (map[string]any, error) {
	base, err := c.settings.BaseURL()
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "Verification service is not configured.", Detail: err.Error()}
	}
	url := strings.TrimRight(base, "/") + path

	var lastErr *Error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, AsError(err)
			}
		}

		payload, verr := c.attempt(ctx, url, build)
		if verr == nil {
			return payload, nil
		}
		if !verr.Transient() {
			return nil, verr
		}
		lastErr = verr
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, url string, build func(url string) (*http.Request, error)) (map[string]any, *Error) {
	httpReq, err := build(url)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "Something went wrong. Please try again.", Detail: err.Error()}
	}
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, AsError(ctx.Err())
		}
		return nil, AsError(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, AsError(err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.classifyStatus(resp, bodyBytes)
	}

	var payload map[string]any
	if err := json.Unmarshal(bodyBytes, &payload); err != nil {
		// Non-JSON success bodies are preserved rather than rejected.
		return map[string]any{"rawText": string(bodyBytes)}, nil
	}
	return payload, nil
}

// classifyStatus turns a non-2xx response into a user-facing Error.
func (c *Client) classifyStatus(resp *http.Response, body []byte) *Error {
	text := string(body)
	requestID := resp.Header.Get("x-request-id")

	// A dead tunnel or edge proxy answers with its own error page under any
	// status code, 404 included. Sniff the body before the status mapping so
	// an infrastructure page never reads as a verdict about the transaction.
	if resp.StatusCode != http.StatusTooManyRequests && looksLikeInfraLeak(text) {
		return &Error{Kind: KindUpstreamUnavailable, Status: resp.StatusCode, Message: "The verification service is temporarily unavailable. Please try again soon.", Detail: text, RequestID: requestID}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		now := c.now()
		reset := parseResetHeader(resp.Header, now)
		e := &Error{
			Kind:      KindRateLimited,
			Status:    resp.StatusCode,
			Message:   rateLimitMessage(reset, now),
			Detail:    text,
			RequestID: requestID,
		}
		if reset.After(now) {
			e.RetryAfter = reset.Sub(now)
		}
		return e

	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: resp.StatusCode, Message: "No transaction found for that reference.", Detail: text, RequestID: requestID}

	case resp.StatusCode >= 500:
		return &Error{Kind: KindServerError, Status: resp.StatusCode, Message: "The verification service had a problem. Please try again.", Detail: text, RequestID: requestID}

	default:
		if detail := extractDetail(body); detail != "" {
			return &Error{Kind: KindInvalidInput, Status: resp.StatusCode, Message: detail, Detail: text, RequestID: requestID}
		}
		return &Error{Kind: KindInvalidInput, Status: resp.StatusCode, Message: "The verification request was rejected. Check the reference and try again.", Detail: text, RequestID: requestID}
	}
}

// extractDetail pulls a human-usable message out of an error body's "detail"
// field, which may be a string or structured.
func extractDetail(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch d := payload["detail"].(type) {
	case string:
		return strings.TrimSpace(d)
	case map[string]any:
		if msg, ok := d["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
	}
	return ""
}

// parseResetHeader reads the rate-limit reset time: an epoch-seconds
// x-ratelimit-reset, or a delta-seconds Retry-After.
func parseResetHeader(h http.Header, now time.Time) time.Time {
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(epoch, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Time{}
}
