package localverify

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

const telebirrReceiptHTML = `<!DOCTYPE html>
<html>
<head><title>Transaction Receipt</title><style>body { margin: 0; }</style></head>
<body>
<table>
<tr><td>Payer Name</td><td>ABEBE KEBEDE</td></tr>
<tr><td>Payer telebirr no.</td><td>251911121314</td></tr>
<tr><td>Payer account type</td><td>Personal</td></tr>
<tr><td>Credited Party name</td><td>SELAM STORE</td></tr>
<tr><td>Credited telebirr account no</td><td>251955667788</td></tr>
<tr><td>transaction status</td><td>Completed</td></tr>
<tr><td>Invoice No.</td><td>BB230XQ88P</td></tr>
<tr><td>Payment date</td><td>20-03-2024 10:15:42</td></tr>
<tr><td>Settled Amount</td><td>145.00 Birr</td></tr>
<tr><td>Total Paid Amount</td><td>150.00 Birr</td></tr>
</table>
</body>
</html>`

var _ = Describe("Telebirr receipt parsing", func() {
	Describe("htmlText", func() {
		It("extracts visible text and skips scripts and styles", func() {
			text := htmlText(`<html><head><style>.x{}</style><script>var a=1;</script></head><body><p>Payer Name</p> <p>ABEBE</p></body></html>`)
			Expect(text).To(ContainSubstring("Payer Name"))
			Expect(text).To(ContainSubstring("ABEBE"))
			Expect(text).NotTo(ContainSubstring("var a=1"))
			Expect(text).NotTo(ContainSubstring(".x{}"))
		})
	})

	Describe("extractEmbeddedJSON", func() {
		It("decodes a payload embedded in a script tag", func() {
			page := `<script>window.__DATA__ = {"success": true, "data": {"receiptNo": "BB230XQ88P"}};</script>`
			payload := extractEmbeddedJSON(page)
			Expect(payload).NotTo(BeNil())
			Expect(payload).To(HaveKeyWithValue("success", true))
		})

		It("handles nested braces", func() {
			page := `{"success": true, "data": {"a": {"b": 1}}}`
			payload := extractEmbeddedJSON(page)
			Expect(payload).NotTo(BeNil())
		})

		It("returns nil when no payload is present", func() {
			Expect(extractEmbeddedJSON("<html>plain page</html>")).To(BeNil())
		})
	})

	Describe("label parsing", func() {
		var text string

		BeforeEach(func() {
			text = cleanText(htmlText(telebirrReceiptHTML))
		})

		It("captures the payer and credited party", func() {
			Expect(captureBetween(text, "Payer Name", "Payer telebirr no.")).To(Equal("ABEBE KEBEDE"))
			Expect(captureBetween(text, "Credited Party name", "Credited telebirr account no")).To(Equal("SELAM STORE"))
		})

		It("parses the transaction status", func() {
			Expect(parseTelebirrStatus(text)).To(Equal("Completed"))
		})

		It("parses the invoice number", func() {
			Expect(parseTelebirrInvoiceNo(text)).To(Equal("BB230XQ88P"))
		})

		It("parses the payment date", func() {
			Expect(parseTelebirrPaymentDate(text)).To(Equal("20-03-2024 10:15:42"))
		})

		It("prefers the total paid amount", func() {
			amount := parseAmountBirr(text, "Total Paid Amount")
			Expect(amount).NotTo(BeNil())
			Expect(*amount).To(Equal(150.00))
		})
	})

	Describe("telebirrFromLabels", func() {
		It("marks non-completed transactions unsuccessful", func() {
			out := telebirrFromLabels("transaction status Failed", "BB230XQ88P", "https://example.com/r")
			Expect(out["success"]).To(BeFalse())
		})

		It("falls back to the input reference for the transaction id", func() {
			out := telebirrFromLabels("no labels here", "BB230XQ88P", "https://example.com/r")
			data := out["data"].(map[string]any)
			Expect(data["transactionId"]).To(Equal("BB230XQ88P"))
		})
	})
})

var _ = Describe("TelebirrReceipts", func() {
	var (
		upstream *ghttp.Server
		receipts *TelebirrReceipts
	)

	BeforeEach(func() {
		upstream = ghttp.NewServer()
		receipts = NewTelebirrReceipts(upstream.URL(), time.Second)
		receipts.retry = RetryConfig{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	})

	AfterEach(func() {
		upstream.Close()
	})

	When("the receipt page is served as HTML", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/BB230XQ88P"),
				ghttp.RespondWith(http.StatusOK, telebirrReceiptHTML, http.Header{
					"Content-Type": []string{"text/html; charset=utf-8"},
				}),
			))
		})

		It("extracts the transaction fields", func() {
			payload, err := receipts.Lookup(context.Background(), "BB230XQ88P")
			Expect(err).NotTo(HaveOccurred())
			Expect(payload["success"]).To(BeTrue())

			data := payload["data"].(map[string]any)
			Expect(data["payerName"]).To(Equal("ABEBE KEBEDE"))
			Expect(data["creditedPartyName"]).To(Equal("SELAM STORE"))
			Expect(data["transactionStatus"]).To(Equal("Completed"))
			Expect(data["invoiceNo"]).To(Equal("BB230XQ88P"))
			Expect(data["amount"]).To(Equal(150.00))
			Expect(data["source"]).To(Equal("telebirr_receipt_html"))
		})

		It("keeps the raw page text", func() {
			payload, err := receipts.Lookup(context.Background(), "BB230XQ88P")
			Expect(err).NotTo(HaveOccurred())
			Expect(payload["rawText"]).To(ContainSubstring("Payer Name"))
		})
	})

	When("the receipt service answers JSON", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"payerName":         "ABEBE KEBEDE",
					"receiptNo":         "BB230XQ88P",
					"transactionStatus": "Completed",
					"totalPaidAmount":   "150.00 Birr",
				},
			}))
		})

		It("maps the payload directly", func() {
			payload, err := receipts.Lookup(context.Background(), "BB230XQ88P")
			Expect(err).NotTo(HaveOccurred())
			Expect(payload["success"]).To(BeTrue())

			data := payload["data"].(map[string]any)
			Expect(data["transactionId"]).To(Equal("BB230XQ88P"))
			Expect(data["amount"]).To(Equal(150.00))
			Expect(data["source"]).To(Equal("telebirr_receipt"))
		})
	})

	When("the page has no receipt", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, "not found"))
		})

		It("returns ErrReceiptNotFound", func() {
			_, err := receipts.Lookup(context.Background(), "BB230XQ88P")
			Expect(err).To(MatchError(ErrReceiptNotFound))
		})
	})

	It("rejects a non-alphanumeric reference without a network call", func() {
		_, err := receipts.Lookup(context.Background(), "../../etc")
		Expect(err).To(HaveOccurred())
		Expect(upstream.ReceivedRequests()).To(BeEmpty())
	})
})
