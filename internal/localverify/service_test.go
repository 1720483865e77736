package localverify

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/payment-verifier/internal/verify"
)

var _ = Describe("Service", func() {
	When("both fetchers are configured", func() {
		var service *Service

		BeforeEach(func() {
			service = NewService("https://cbe.example.com", "https://telebirr.example.com", time.Second)
		})

		It("supports CBE and Telebirr only", func() {
			Expect(service.Supports(verify.ProviderCBE)).To(BeTrue())
			Expect(service.Supports(verify.ProviderTelebirr)).To(BeTrue())
			Expect(service.Supports(verify.ProviderDashen)).To(BeFalse())
			Expect(service.Supports(verify.ProviderAbyssinia)).To(BeFalse())
			Expect(service.Supports(verify.ProviderCBEBirr)).To(BeFalse())
		})

		It("rejects providers without a receipt lookup", func() {
			_, err := service.Lookup(context.Background(), verify.ProviderDashen, "FT23ABCD12")
			Expect(err).To(MatchError(ContainSubstring("no receipt lookup")))
		})
	})

	When("a base URL is empty", func() {
		It("disables the CBE lookup", func() {
			service := NewService("", "https://telebirr.example.com", time.Second)
			Expect(service.Supports(verify.ProviderCBE)).To(BeFalse())
			Expect(service.Supports(verify.ProviderTelebirr)).To(BeTrue())

			_, err := service.Lookup(context.Background(), verify.ProviderCBE, "FT23ABCD12")
			Expect(err).To(MatchError(ContainSubstring("not configured")))
		})

		It("disables the Telebirr lookup", func() {
			service := NewService("https://cbe.example.com", "", time.Second)
			Expect(service.Supports(verify.ProviderTelebirr)).To(BeFalse())

			_, err := service.Lookup(context.Background(), verify.ProviderTelebirr, "BB230XQ88P")
			Expect(err).To(MatchError(ContainSubstring("not configured")))
		})
	})
})
