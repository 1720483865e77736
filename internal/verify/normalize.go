package verify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize maps an arbitrary upstream payload into the fixed
// NormalizedVerification shape. The payload is never modified; it is carried
// through verbatim in Raw. When the payload nests its fields under a "data"
// object (the receipt-lookup shape), projections read from that view.
func Normalize(raw map[string]any) NormalizedVerification {
	view := payloadView(raw)

	amount, payer, date, reference := normalizeFields(view)

	return NormalizedVerification{
		Status:    normalizeStatus(raw, view),
		Amount:    amount,
		Payer:     payer,
		Date:      date,
		Reference: reference,
		Raw:       raw,
	}
}

// payloadView returns the nested "data" object when present, otherwise the
// payload itself.
func payloadView(raw map[string]any) map[string]any {
	if data, ok := raw["data"].(map[string]any); ok {
		return data
	}
	return raw
}

var (
	successWords = []string{"success", "successful", "verified", "paid", "ok", "completed"}
	failureWords = []string{"failed", "invalid", "not_found", "not found", "unverified", "error"}
	pendingWords = []string{"pending", "processing", "unknown"}
)

func matchWord(v string, words []string) bool {
	for _, w := range words {
		if v == w {
			return true
		}
	}
	return false
}

// normalizeStatus resolves the verdict, in priority order: explicit status
// strings, boolean success flags, then message-text heuristics. Absent all of
// those the status defaults to PENDING.
func normalizeStatus(raw, view map[string]any) Status {
	for _, m := range []map[string]any{raw, view} {
		for _, key := range []string{"status", "result", "state", "transactionStatus"} {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			v := strings.ToLower(strings.TrimSpace(s))
			switch {
			case matchWord(v, successWords):
				return StatusSuccess
			case matchWord(v, failureWords):
				return StatusFailed
			case matchWord(v, pendingWords):
				return StatusPending
			}
		}
	}

	for _, key := range []string{"success", "verified", "isVerified", "is_verified"} {
		if b, ok := raw[key].(bool); ok {
			if b {
				return StatusSuccess
			}
			return StatusFailed
		}
	}

	msg, _ := raw["message"].(string)
	if msg == "" {
		msg, _ = raw["detail"].(string)
	}
	if msg != "" {
		m := strings.ToLower(msg)
		switch {
		case strings.Contains(m, "pending") || strings.Contains(m, "processing") || strings.Contains(m, "try again"):
			return StatusPending
		case strings.Contains(m, "invalid") || strings.Contains(m, "not found") || strings.Contains(m, "failed"):
			return StatusFailed
		case strings.Contains(m, "success") || strings.Contains(m, "verified"):
			return StatusSuccess
		}
	}

	return StatusPending
}

func normalizeFields(view map[string]any) (amount *float64, payer, date, reference string) {
	for _, key := range []string{"amount", "total", "totalAmount"} {
		if f, ok := asFloat(view[key]); ok {
			amount = &f
			break
		}
	}

	payer = firstString(view, "payer", "payerName", "from", "sender")
	date = firstString(view, "date", "time", "timestamp", "paymentDate")
	reference = firstString(view, "reference", "ref", "transactionId", "txId")
	return amount, payer, date, reference
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v := m[key]
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if s != "" {
				return s
			}
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		return fmt.Sprint(v)
	}
	return ""
}

// asFloat accepts the numeric encodings upstreams actually emit: JSON
// numbers, integers, json.Number, and numeric strings.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}
