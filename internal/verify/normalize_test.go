package verify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Normalize", func() {
	Describe("status resolution", func() {
		It("maps an explicit success status", func() {
			v := Normalize(map[string]any{"status": "Success"})
			Expect(v.Status).To(Equal(StatusSuccess))
		})

		It("maps an explicit failure status", func() {
			v := Normalize(map[string]any{"status": "FAILED"})
			Expect(v.Status).To(Equal(StatusFailed))
		})

		It("reads alternate status keys", func() {
			Expect(Normalize(map[string]any{"result": "verified"}).Status).To(Equal(StatusSuccess))
			Expect(Normalize(map[string]any{"state": "pending"}).Status).To(Equal(StatusPending))
			Expect(Normalize(map[string]any{"transactionStatus": "Completed"}).Status).To(Equal(StatusSuccess))
		})

		It("reads status keys nested under data", func() {
			v := Normalize(map[string]any{"data": map[string]any{"transactionStatus": "Completed"}})
			Expect(v.Status).To(Equal(StatusSuccess))
		})

		It("falls back to boolean success flags", func() {
			Expect(Normalize(map[string]any{"success": true}).Status).To(Equal(StatusSuccess))
			Expect(Normalize(map[string]any{"verified": false}).Status).To(Equal(StatusFailed))
		})

		It("prefers an explicit status over a boolean flag", func() {
			v := Normalize(map[string]any{"status": "failed", "success": true})
			Expect(v.Status).To(Equal(StatusFailed))
		})

		It("falls back to message heuristics", func() {
			Expect(Normalize(map[string]any{"message": "Transaction not found"}).Status).To(Equal(StatusFailed))
			Expect(Normalize(map[string]any{"message": "Payment verified successfully"}).Status).To(Equal(StatusSuccess))
			Expect(Normalize(map[string]any{"message": "Still processing, try again later"}).Status).To(Equal(StatusPending))
		})

		It("defaults to pending when nothing indicates a verdict", func() {
			v := Normalize(map[string]any{"foo": "bar"})
			Expect(v.Status).To(Equal(StatusPending))
		})
	})

	Describe("field projection", func() {
		It("projects amount, payer, date and reference", func() {
			v := Normalize(map[string]any{
				"status":    "success",
				"amount":    150.5,
				"payerName": "Abebe Kebede",
				"date":      "2024-03-20",
				"reference": "FT23ABCD12",
			})
			Expect(v.Amount).NotTo(BeNil())
			Expect(*v.Amount).To(Equal(150.5))
			Expect(v.Payer).To(Equal("Abebe Kebede"))
			Expect(v.Date).To(Equal("2024-03-20"))
			Expect(v.Reference).To(Equal("FT23ABCD12"))
		})

		It("projects fields from the nested data object", func() {
			v := Normalize(map[string]any{
				"success": true,
				"data": map[string]any{
					"totalAmount": "1,250.00",
					"payer":       "Abebe",
					"paymentDate": "20-03-2024 10:15:00",
				},
			})
			Expect(v.Amount).NotTo(BeNil())
			Expect(*v.Amount).To(Equal(1250.00))
			Expect(v.Payer).To(Equal("Abebe"))
			Expect(v.Date).To(Equal("20-03-2024 10:15:00"))
		})

		It("accepts numeric strings with thousands separators", func() {
			v := Normalize(map[string]any{"amount": "2,500"})
			Expect(v.Amount).NotTo(BeNil())
			Expect(*v.Amount).To(Equal(2500.0))
		})

		It("leaves amount nil when no numeric field parses", func() {
			v := Normalize(map[string]any{"amount": "N/A"})
			Expect(v.Amount).To(BeNil())
		})

		It("reads transactionId as a reference fallback", func() {
			v := Normalize(map[string]any{"transactionId": "TX1234567"})
			Expect(v.Reference).To(Equal("TX1234567"))
		})
	})

	It("preserves the payload verbatim in Raw", func() {
		raw := map[string]any{"status": "success", "extra": map[string]any{"deep": true}}
		v := Normalize(raw)
		Expect(v.Raw).To(Equal(raw))
	})
})
