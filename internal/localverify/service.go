package localverify

import (
	"context"
	"fmt"
	"time"

	"github.com/zombor/payment-verifier/internal/verify"
)

// Service dispatches receipt lookups to the per-provider fetchers. It
// implements verify.LocalVerifier.
type Service struct {
	cbe      *CBEReceipts
	telebirr *TelebirrReceipts
}

// NewService creates a Service. Either base URL may be empty, which disables
// the lookup for that provider.
func NewService(cbeBaseURL, telebirrBaseURL string, timeout time.Duration) *Service {
	s := &Service{}
	if cbeBaseURL != "" {
		s.cbe = NewCBEReceipts(cbeBaseURL, timeout)
	}
	if telebirrBaseURL != "" {
		s.telebirr = NewTelebirrReceipts(telebirrBaseURL, timeout)
	}
	return s
}

func (s *Service) Supports(p verify.Provider) bool {
	switch p {
	case verify.ProviderCBE:
		return s.cbe != nil
	case verify.ProviderTelebirr:
		return s.telebirr != nil
	}
	return false
}

func (s *Service) Lookup(ctx context.Context, p verify.Provider, reference string) (map[string]any, error) {
	switch p {
	case verify.ProviderCBE:
		if s.cbe == nil {
			return nil, fmt.Errorf("CBE receipt lookup not configured")
		}
		return s.cbe.Lookup(ctx, reference)
	case verify.ProviderTelebirr:
		if s.telebirr == nil {
			return nil, fmt.Errorf("Telebirr receipt lookup not configured")
		}
		return s.telebirr.Lookup(ctx, reference)
	}
	return nil, fmt.Errorf("no receipt lookup for provider %q", p)
}
