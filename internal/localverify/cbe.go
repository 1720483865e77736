package localverify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

// CBEReceipts fetches and parses the VAT invoice PDFs the Commercial Bank of
// Ethiopia serves for a transaction reference.
type CBEReceipts struct {
	baseURL string
	client  *http.Client
	breaker *Breaker
	retry   RetryConfig
}

// NewCBEReceipts creates a CBE receipt fetcher.
func NewCBEReceipts(baseURL string, timeout time.Duration) *CBEReceipts {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CBEReceipts{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker(true, 5, 30*time.Second),
		retry:   RetryConfig{Attempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

var alphanumeric = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Lookup fetches the receipt PDF for reference and extracts the transaction
// fields from its text. The returned payload has the receipt-lookup shape:
// {"success": true, "data": {...}, "rawText": text}.
func (c *CBEReceipts) Lookup(ctx context.Context, reference string) (map[string]any, error) {
	ref := strings.TrimSpace(reference)
	if !alphanumeric.MatchString(ref) {
		return nil, fmt.Errorf("reference must be alphanumeric")
	}

	url := fmt.Sprintf("%s/?id=%s", c.baseURL, ref)

	body, err := c.fetchPDF(ctx, url)
	if err != nil {
		return nil, err
	}

	text, err := pdfText(body)
	if err != nil {
		return nil, err
	}
	text = cleanText(text)
	if text == "" {
		return nil, fmt.Errorf("empty PDF text")
	}

	tx := extractCBEReferenceNo(text)
	if tx == "" {
		tx = extractCBETransactionID(text)
	}
	if tx == "" {
		tx = strings.ToUpper(ref)
	}
	payer, payee, date := extractCBEParties(text)
	amount := parseCBEAmount(text)

	data := map[string]any{
		// Keep the user's input reference distinct from what the PDF says.
		"reference":         ref,
		"transactionId":     tx,
		"payerName":         payer,
		"creditedPartyName": payee,
		"paymentDate":       date,
		"source":            "cbe_receipt_pdf",
		"receiptUrl":        url,
	}
	if amount != nil {
		data["amount"] = *amount
	}

	return map[string]any{"success": true, "data": data, "rawText": text}, nil
}

func (c *CBEReceipts) fetchPDF(ctx context.Context, url string) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("CBE receipt service temporarily unavailable: %w", err)
	}

	resp, err := fetchWithRetry(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/pdf,*/*")
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		// Transient upstream statuses count as fetch failures so the retry
		// loop and the breaker both see them.
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			resp.Body.Close()
			return nil, fmt.Errorf("CBE receipt fetch transient failure: %d", resp.StatusCode)
		}
		return resp, nil
	}, func(err error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.breaker.RecordSuccess()
		return nil, ErrReceiptNotFound
	}
	if resp.StatusCode >= 400 {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("CBE receipt fetch failed: %d", resp.StatusCode)
	}

	ctype := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ctype, "pdf") {
		// Some edge deployments answer HTML for unknown references.
		c.breaker.RecordSuccess()
		return nil, ErrReceiptNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("reading receipt PDF: %w", err)
	}
	c.breaker.RecordSuccess()
	return body, nil
}

// pdfText extracts the text of the first two pages.
func pdfText(pdfData []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return "", fmt.Errorf("opening receipt PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > 2 {
		pages = 2
	}
	var b strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extracting PDF text: %w", err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

var (
	// Prefer specific VAT-invoice fields to avoid false matches like "ETB 15%".
	cbePreferredAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Transferred\s+Amount\s+([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*ETB\b`),
		regexp.MustCompile(`(?i)Total\s+amount\s+debited\s+from\s+customers\s+account\s+([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*ETB\b`),
	}
	cbeAnyAmountPattern = regexp.MustCompile(`(?i)([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*ETB\b`)

	cbeTransactionIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btransaction\s*id\s*[:#]?\s*([A-Z0-9]{8,})\b`),
		regexp.MustCompile(`(?i)\btransaction\s*no\s*[:#]?\s*([A-Z0-9]{8,})\b`),
		regexp.MustCompile(`\b(FT[0-9A-Z]{6,})\b`),
	}
	cbeReferenceNoPattern = regexp.MustCompile(`(?i)Reference\s*No\.?\s*(?:\([^)]*\))?\s*([A-Z0-9]{6,})\b`)

	cbePayerPattern    = regexp.MustCompile(`(?i)\bPayer\s+(.+?)\s+Account\b`)
	cbeReceiverPattern = regexp.MustCompile(`(?i)\bReceiver\s+(.+?)\s+Account\b`)
	cbeDatePattern     = regexp.MustCompile(`(?i)Payment\s+Date\s*&\s*Time\s+(\d{1,2}/\d{1,2}/\d{4},\s*\d{1,2}:\d{2}:\d{2}\s*(?:AM|PM))`)
	// Alternative layout seen in some CBE receipts.
	cbeDebitedPattern = regexp.MustCompile(`(?i)debited\s+from\s+(.+?)\s+for\s+(.+?)\s+on\s+(\d{1,2}-[A-Za-z]{3}-\d{4})`)
)

func parseCBEAmount(text string) *float64 {
	for _, pattern := range cbePreferredAmountPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
				return &f
			}
		}
	}
	// Fallback: the last amount immediately followed by ETB.
	matches := cbeAnyAmountPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	raw := strings.ReplaceAll(matches[len(matches)-1][1], ",", "")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func extractCBETransactionID(text string) string {
	for _, pattern := range cbeTransactionIDPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func extractCBEReferenceNo(text string) string {
	if m := cbeReferenceNoPattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func extractCBEParties(text string) (payer, payee, date string) {
	if m := cbePayerPattern.FindStringSubmatch(text); m != nil {
		payer = cleanText(m[1])
	}
	if m := cbeReceiverPattern.FindStringSubmatch(text); m != nil {
		payee = cleanText(m[1])
	}
	if m := cbeDatePattern.FindStringSubmatch(text); m != nil {
		date = cleanText(m[1])
	}

	if payer == "" || payee == "" || date == "" {
		if m := cbeDebitedPattern.FindStringSubmatch(text); m != nil {
			if payer == "" {
				payer = cleanText(m[1])
			}
			if payee == "" {
				payee = cleanText(m[2])
			}
			if date == "" {
				date = cleanText(m[3])
			}
		}
	}
	return payer, payee, date
}
