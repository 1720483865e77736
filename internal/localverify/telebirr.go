package localverify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// TelebirrReceipts fetches and parses the public Telebirr transaction
// receipt page.
type TelebirrReceipts struct {
	baseURL string
	client  *http.Client
	breaker *Breaker
	retry   RetryConfig
}

// NewTelebirrReceipts creates a Telebirr receipt fetcher.
func NewTelebirrReceipts(baseURL string, timeout time.Duration) *TelebirrReceipts {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TelebirrReceipts{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker(true, 5, 30*time.Second),
		retry:   RetryConfig{Attempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// Lookup fetches the receipt page for reference. The page is served either
// as JSON or as HTML with the same payload embedded in a script tag; both
// shapes map to {"success": bool, "data": {...}}.
func (t *TelebirrReceipts) Lookup(ctx context.Context, reference string) (map[string]any, error) {
	ref := strings.TrimSpace(reference)
	if !alphanumeric.MatchString(ref) {
		return nil, fmt.Errorf("reference must be alphanumeric")
	}

	url := fmt.Sprintf("%s/%s", t.baseURL, ref)

	body, ctype, err := t.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if strings.Contains(ctype, "json") {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decoding receipt JSON: %w", err)
		}
		if out := telebirrFromPayload(payload, ref, url); out != nil {
			return out, nil
		}
		return nil, ErrReceiptNotFound
	}

	if !strings.Contains(ctype, "html") && !strings.Contains(ctype, "text") {
		return nil, ErrReceiptNotFound
	}

	page := string(body)
	text := cleanText(htmlText(page))
	if text == "" {
		return nil, fmt.Errorf("empty Telebirr receipt")
	}

	// Prefer the JSON payload some pages embed in a script tag.
	if payload := extractEmbeddedJSON(page); payload != nil {
		if out := telebirrFromPayload(payload, ref, url); out != nil {
			return out, nil
		}
	}

	return telebirrFromLabels(text, ref, url), nil
}

func (t *TelebirrReceipts) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, "", fmt.Errorf("Telebirr receipt service temporarily unavailable: %w", err)
	}

	resp, err := fetchWithRetry(ctx, t.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			resp.Body.Close()
			return nil, fmt.Errorf("Telebirr receipt fetch transient failure: %d", resp.StatusCode)
		}
		return resp, nil
	}, func(err error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		t.breaker.RecordFailure()
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		t.breaker.RecordSuccess()
		return nil, "", ErrReceiptNotFound
	}
	if resp.StatusCode >= 400 {
		t.breaker.RecordFailure()
		return nil, "", fmt.Errorf("Telebirr receipt fetch failed: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.breaker.RecordFailure()
		return nil, "", fmt.Errorf("reading receipt page: %w", err)
	}
	t.breaker.RecordSuccess()
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

// telebirrFromPayload maps the receipt service's own JSON shape. Returns nil
// when the payload doesn't carry a data object.
func telebirrFromPayload(payload map[string]any, ref, url string) map[string]any {
	dataIn, ok := payload["data"].(map[string]any)
	if !ok {
		return nil
	}

	str := func(key string) string {
		s, _ := dataIn[key].(string)
		return s
	}

	status := str("transactionStatus")
	receiptNo := str("receiptNo")

	amount := parseBirrValue(dataIn["totalPaidAmount"])
	if amount == nil {
		amount = parseBirrValue(dataIn["settledAmount"])
	}

	success := true
	if b, ok := payload["success"].(bool); ok {
		success = b
	}
	if status != "" && !isCompletedStatus(status) {
		success = false
	}

	tx := receiptNo
	if tx == "" {
		tx = ref
	}

	data := map[string]any{
		"reference":              ref,
		"transactionId":          tx,
		"payerName":              str("payerName"),
		"payerTelebirrNo":        str("payerTelebirrNo"),
		"creditedPartyName":      str("creditedPartyName"),
		"creditedPartyAccountNo": str("creditedPartyAccountNo"),
		"transactionStatus":      status,
		"receiptNo":              receiptNo,
		"paymentDate":            str("paymentDate"),
		"settledAmount":          str("settledAmount"),
		"serviceFee":             str("serviceFee"),
		"serviceFeeVAT":          str("serviceFeeVAT"),
		"totalPaidAmount":        str("totalPaidAmount"),
		"bankName":               str("bankName"),
		"source":                 "telebirr_receipt",
		"receiptUrl":             url,
	}
	if amount != nil {
		data["amount"] = *amount
	}

	return map[string]any{"success": success, "data": data}
}

// telebirrFromLabels extracts fields from the visible English labels of the
// receipt page text.
func telebirrFromLabels(text, ref, url string) map[string]any {
	payerName := captureBetween(text, "Payer Name", "Payer telebirr no.")
	payerPhone := captureBetween(text, "Payer telebirr no.", "Payer account type")
	creditedName := captureBetween(text, "Credited Party name", "Credited telebirr account no")
	creditedAccount := captureBetween(text, "Credited telebirr account no", "transaction status")

	status := parseTelebirrStatus(text)
	invoiceNo := parseTelebirrInvoiceNo(text)
	if invoiceNo == "" {
		invoiceNo = ref
	}
	paymentDate := parseTelebirrPaymentDate(text)

	amount := parseAmountBirr(text, "Total Paid Amount")
	if amount == nil {
		amount = parseAmountBirr(text, "Settled Amount")
	}

	success := true
	if status != "" && !isCompletedStatus(status) {
		success = false
	}

	data := map[string]any{
		"reference":              ref,
		"invoiceNo":              invoiceNo,
		"transactionId":          invoiceNo,
		"transactionStatus":      status,
		"payerName":              payerName,
		"payerTelebirrNo":        payerPhone,
		"creditedPartyName":      creditedName,
		"creditedPartyAccountNo": creditedAccount,
		"paymentDate":            paymentDate,
		"source":                 "telebirr_receipt_html",
		"receiptUrl":             url,
	}
	if amount != nil {
		data["amount"] = *amount
	}

	return map[string]any{"success": success, "data": data, "rawText": text}
}

func isCompletedStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "success", "successful":
		return true
	}
	return false
}

// htmlText returns the visible text of an HTML document, space-joined.
func htmlText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// extractEmbeddedJSON finds the first JSON object containing "success" in a
// page and decodes it by best-effort brace matching.
func extractEmbeddedJSON(s string) map[string]any {
	idx := strings.Index(s, `{"success"`)
	if idx == -1 {
		idx = strings.Index(s, `{'success'`)
	}
	if idx == -1 {
		return nil
	}

	depth := 0
	for i := idx; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				snippet := s[idx : i+1]
				var payload map[string]any
				if err := json.Unmarshal([]byte(snippet), &payload); err == nil {
					return payload
				}
				if err := json.Unmarshal([]byte(strings.ReplaceAll(snippet, "'", `"`)), &payload); err == nil {
					return payload
				}
				return nil
			}
		}
	}
	return nil
}

// captureBetween returns the cleaned text between two literal labels.
func captureBetween(text, startLabel, endLabel string) string {
	pattern, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(startLabel) + `\s+(.+?)\s+` + regexp.QuoteMeta(endLabel))
	if err != nil {
		return ""
	}
	if m := pattern.FindStringSubmatch(text); m != nil {
		return cleanText(m[1])
	}
	return ""
}

var (
	telebirrStatusPattern  = regexp.MustCompile(`(?i)transaction\s+status\s+([A-Za-z]+)`)
	telebirrInvoicePattern = regexp.MustCompile(`(?i)Invoice\s*No\.?\s*[:#]?\s*([A-Z0-9]{6,})\b`)
	telebirrDatePattern    = regexp.MustCompile(`\b(\d{2}-\d{2}-\d{4}\s+\d{2}:\d{2}:\d{2})\b`)
	birrNumberPattern      = regexp.MustCompile(`([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
)

func parseTelebirrStatus(text string) string {
	if m := telebirrStatusPattern.FindStringSubmatch(text); m != nil {
		s := strings.ToLower(m[1])
		return strings.ToUpper(s[:1]) + s[1:]
	}
	return ""
}

func parseTelebirrInvoiceNo(text string) string {
	if m := telebirrInvoicePattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func parseTelebirrPaymentDate(text string) string {
	if m := telebirrDatePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// parseAmountBirr matches labeled amounts like "Total Paid Amount 2.00 Birr".
func parseAmountBirr(text, label string) *float64 {
	pattern, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(label) + `\s+([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*Birr\b`)
	if err != nil {
		return nil
	}
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseBirrValue accepts numbers or "2.00 Birr" style strings.
func parseBirrValue(v any) *float64 {
	switch n := v.(type) {
	case float64:
		f := n
		return &f
	case int:
		f := float64(n)
		return &f
	case string:
		m := birrNumberPattern.FindStringSubmatch(n)
		if m == nil {
			return nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}
