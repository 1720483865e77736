package verify

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FlattenDetails", func() {
	var (
		v        *NormalizedVerification
		provider Provider
		details  []Detail
	)

	BeforeEach(func() {
		provider = ProviderTelebirr
	})

	JustBeforeEach(func() {
		details = FlattenDetails(v, provider)
	})

	When("the result is nil", func() {
		BeforeEach(func() {
			v = nil
		})

		It("returns nothing", func() {
			Expect(details).To(BeEmpty())
		})
	})

	When("the payload is a telebirr receipt", func() {
		BeforeEach(func() {
			v = &NormalizedVerification{
				Status: StatusSuccess,
				Raw: map[string]any{
					"success": true,
					"data": map[string]any{
						"payerName":         "Abebe Kebede",
						"receiptNo":         "BB230XQ88P",
						"transactionStatus": "Completed",
						"totalPaidAmount":   "150.00 Birr",
						"zebra":             "last",
					},
				},
			}
		})

		It("orders the provider's priority keys first, in declared order", func() {
			keys := make([]string, 0, len(details))
			for _, d := range details {
				keys = append(keys, d.Key)
			}
			Expect(keys[:4]).To(Equal([]string{"payerName", "transactionStatus", "receiptNo", "totalPaidAmount"}))
		})

		It("appends remaining fields after the priority ones", func() {
			Expect(details[len(details)-1].Key).To(Equal("zebra"))
		})

		It("renders human labels", func() {
			Expect(details[0].Label).To(Equal("Payer Name"))
		})
	})

	When("the payload has nested structure", func() {
		BeforeEach(func() {
			provider = ProviderDashen
			v = &NormalizedVerification{
				Raw: map[string]any{
					"receipt": map[string]any{
						"payer": map[string]any{"name": "Abebe"},
					},
					"tags": []any{"instant", "mobile"},
				},
			}
		})

		It("uses dotted paths for nested leaves", func() {
			Expect(details).To(ContainElement(Detail{
				Key:   "receipt.payer.name",
				Label: "Receipt Payer Name",
				Value: "Abebe",
			}))
		})

		It("joins list values with commas", func() {
			Expect(details).To(ContainElement(HaveField("Value", "instant, mobile")))
		})
	})

	When("the payload carries diagnostics", func() {
		BeforeEach(func() {
			v = &NormalizedVerification{
				Raw: map[string]any{
					"payerName":  "Abebe",
					"errorCode":  "E42",
					"stackTrace": "at line 3",
					"success":    true,
					"huge":       strings.Repeat("x", 500),
				},
			}
		})

		It("suppresses diagnostic keys", func() {
			for _, d := range details {
				Expect(d.Key).NotTo(Or(Equal("errorCode"), Equal("stackTrace"), Equal("success")))
			}
		})

		It("suppresses overlong values", func() {
			for _, d := range details {
				Expect(d.Key).NotTo(Equal("huge"))
			}
		})

		It("keeps the real fields", func() {
			Expect(details).To(ContainElement(HaveField("Key", "payerName")))
		})
	})

	When("the payload has many extra fields", func() {
		BeforeEach(func() {
			raw := map[string]any{}
			for i := 0; i < 40; i++ {
				raw["field"+string(rune('a'+i%26))+string(rune('a'+i/26))] = "value"
			}
			provider = ProviderDashen
			v = &NormalizedVerification{Raw: raw}
		})

		It("caps the overflow", func() {
			Expect(len(details)).To(BeNumerically("<=", detailOverflowCap))
		})
	})

	Describe("leaf rendering", func() {
		BeforeEach(func() {
			provider = ProviderDashen
			v = &NormalizedVerification{
				Raw: map[string]any{
					"whole":    150.0,
					"cents":    150.5,
					"approved": true,
					"declined": false,
				},
			}
		})

		valueOf := func(key string) string {
			for _, d := range details {
				if d.Key == key {
					return d.Value
				}
			}
			return ""
		}

		It("renders integral numbers without a decimal tail", func() {
			Expect(valueOf("whole")).To(Equal("150"))
		})

		It("renders fractional numbers with two decimals", func() {
			Expect(valueOf("cents")).To(Equal("150.50"))
		})

		It("renders booleans as Yes/No", func() {
			Expect(valueOf("approved")).To(Equal("Yes"))
			Expect(valueOf("declined")).To(Equal("No"))
		})
	})
})

var _ = Describe("humanLabel", func() {
	It("splits camelCase", func() {
		Expect(humanLabel("payerTelebirrNo")).To(Equal("Payer Telebirr No"))
	})

	It("splits dotted paths", func() {
		Expect(humanLabel("receipt.payerName")).To(Equal("Receipt Payer Name"))
	})

	It("splits snake_case", func() {
		Expect(humanLabel("payment_date")).To(Equal("Payment Date"))
	})
})
