package verify

import "time"

// Status is the normalized verdict of a verification.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
)

// Source says where a verification result came from.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceLocal    Source = "local"
	// SourceUpload marks history entries produced by receipt-image upload.
	SourceUpload Source = "upload"
)

// Confidence grades how much to trust a result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// NormalizedVerification is the fixed-shape verdict every upstream payload is
// mapped into. All projected fields are best-effort and may be absent even on
// SUCCESS; Raw preserves the original payload verbatim for audit and debug.
type NormalizedVerification struct {
	Status     Status         `json:"status"`
	Provider   string         `json:"provider,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	Amount     *float64       `json:"amount,omitempty"`
	Payer      string         `json:"payer,omitempty"`
	Date       string         `json:"date,omitempty"`
	Source     Source         `json:"source,omitempty"`
	Confidence Confidence     `json:"confidence,omitempty"`
	Raw        map[string]any `json:"raw"`
}

// Record is a persisted history entry derived from a successful verification.
type Record struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Reference string    `json:"reference"`
	Status    Status    `json:"status"`
	Amount    *float64  `json:"amount,omitempty"`
	Payer     string    `json:"payer,omitempty"`
	Date      string    `json:"date,omitempty"`
	Source    Source    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds a history record from a verification result.
func NewRecord(v *NormalizedVerification, source Source) *Record {
	if source == "" {
		source = v.Source
	}
	return &Record{
		Provider:  v.Provider,
		Reference: v.Reference,
		Status:    v.Status,
		Amount:    v.Amount,
		Payer:     v.Payer,
		Date:      v.Date,
		Source:    source,
	}
}
