package verify

// Provider identifies a payment provider whose transactions can be verified.
type Provider string

const (
	ProviderTelebirr  Provider = "telebirr"
	ProviderCBE       Provider = "cbe"
	ProviderDashen    Provider = "dashen"
	ProviderAbyssinia Provider = "abyssinia"
	ProviderCBEBirr   Provider = "cbebirr"
)

// providerInfo describes everything provider-specific in one place so the
// rest of the package can stay free of per-provider conditionals.
type providerInfo struct {
	Label          string
	NeedsSuffix    bool
	NeedsPhone     bool
	UploadFallback bool
	PriorityKeys   []string
}

var providerTable = map[Provider]providerInfo{
	ProviderTelebirr: {
		Label:          "Telebirr",
		UploadFallback: true,
		PriorityKeys: []string{
			"payerName", "payerTelebirrNo", "creditedPartyName", "creditedPartyAccountNo",
			"transactionStatus", "receiptNo", "paymentDate", "totalPaidAmount",
			"settledAmount", "serviceFee", "serviceFeeVAT", "bankName", "amount",
		},
	},
	ProviderCBE: {
		Label:          "Commercial Bank of Ethiopia",
		NeedsSuffix:    true,
		UploadFallback: true,
		PriorityKeys: []string{
			"payerName", "creditedPartyName", "paymentDate", "amount",
			"transactionId", "reference", "receiptUrl",
		},
	},
	ProviderDashen: {
		Label: "Dashen Bank",
		PriorityKeys: []string{
			"payerName", "creditedPartyName", "paymentDate", "amount",
			"transactionId", "reference",
		},
	},
	ProviderAbyssinia: {
		Label:       "Bank of Abyssinia",
		NeedsSuffix: true,
		PriorityKeys: []string{
			"payerName", "creditedPartyName", "paymentDate", "amount",
			"transactionId", "reference",
		},
	},
	ProviderCBEBirr: {
		Label:      "CBE Birr",
		NeedsPhone: true,
		PriorityKeys: []string{
			"payerName", "phone", "paymentDate", "amount",
			"transactionId", "reference",
		},
	},
}

// Providers returns the closed set of supported providers in display order.
func Providers() []Provider {
	return []Provider{ProviderTelebirr, ProviderCBE, ProviderDashen, ProviderAbyssinia, ProviderCBEBirr}
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	_, ok := providerTable[p]
	return ok
}

// Label returns the human-readable provider name.
func (p Provider) Label() string {
	return providerTable[p].Label
}

// SupportsUpload reports whether receipt-image upload verification is
// available for this provider.
func (p Provider) SupportsUpload() bool {
	return providerTable[p].UploadFallback
}

// PriorityKeys returns the ordered field names surfaced first when a
// verification result is flattened for display.
func (p Provider) PriorityKeys() []string {
	return providerTable[p].PriorityKeys
}

// ValidateInputs checks that every field this provider requires is present.
// It returns a field-specific validation Error so the caller can fail before
// any network call is made.
func (p Provider) ValidateInputs(reference, suffix, phone string) *Error {
	if !p.Valid() {
		return &Error{Kind: KindValidation, Field: "provider", Message: "Unsupported provider"}
	}
	if len(reference) < 3 {
		return &Error{Kind: KindValidation, Field: "reference", Message: "Enter a transaction reference (at least 3 characters)"}
	}
	info := providerTable[p]
	if info.NeedsSuffix && suffix == "" {
		return &Error{Kind: KindValidation, Field: "suffix", Message: "Account suffix is required for " + info.Label}
	}
	if info.NeedsPhone && phone == "" {
		return &Error{Kind: KindValidation, Field: "phone", Message: "Phone number is required for " + info.Label}
	}
	return nil
}
