package verify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractReference", func() {
	When("the text carries a labeled reference", func() {
		It("extracts after REFERENCE NO", func() {
			Expect(ExtractReference("Reference No: ABC123XYZ")).To(Equal("ABC123XYZ"))
		})

		It("extracts after TRANSACTION ID", func() {
			Expect(ExtractReference("Transaction ID: FT23WY9K2L")).To(Equal("FT23WY9K2L"))
		})

		It("extracts after RECEIPT NUMBER", func() {
			Expect(ExtractReference("receipt number BB230XQ88P")).To(Equal("BB230XQ88P"))
		})

		It("handles separator punctuation", func() {
			Expect(ExtractReference("REFERENCE # ABC123XYZ")).To(Equal("ABC123XYZ"))
		})

		It("uppercases the input before matching", func() {
			Expect(ExtractReference("transaction no: ft23wy9k2l")).To(Equal("FT23WY9K2L"))
		})
	})

	When("keyword and format matches coexist", func() {
		It("prefers the labeled value over an earlier bare token", func() {
			text := "FT99XXXXXX something Reference No: ABC123XYZ"
			Expect(ExtractReference(text)).To(Equal("ABC123XYZ"))
		})

		It("prefers an all-letter labeled value over a later bare token", func() {
			text := "REFERENCE NO: ABCDEFGH paid via TX1234567"
			Expect(ExtractReference(text)).To(Equal("ABCDEFGH"))
		})
	})

	When("only a bare provider-shaped token is present", func() {
		It("matches a CBE-style FT token", func() {
			Expect(ExtractReference("paid via FT23ABCD1234 yesterday")).To(Equal("FT23ABCD1234"))
		})

		It("matches a Telebirr-style BB token", func() {
			Expect(ExtractReference("confirmed BB230XQ88PL7")).To(Equal("BB230XQ88PL7"))
		})

		It("matches a TX token", func() {
			Expect(ExtractReference("see TX1234567 for details")).To(Equal("TX1234567"))
		})
	})

	When("a label is followed by another label word", func() {
		It("does not mistake STATUS for a reference", func() {
			Expect(ExtractReference("TRANSACTION STATUS COMPLETED REF FT23ABCD12")).To(Equal("FT23ABCD12"))
		})

		It("keeps scanning past a label word to a real labeled value", func() {
			text := "TRANSACTION STATUS COMPLETED TRANSACTION ID FT23WY9K2L"
			Expect(ExtractReference(text)).To(Equal("FT23WY9K2L"))
		})
	})

	When("nothing matches", func() {
		It("returns empty for prose", func() {
			Expect(ExtractReference("thank you for shopping with us")).To(Equal(""))
		})

		It("returns empty for empty input", func() {
			Expect(ExtractReference("")).To(Equal(""))
		})

		It("returns empty for whitespace", func() {
			Expect(ExtractReference("   \n\t  ")).To(Equal(""))
		})
	})

	It("collapses whitespace before matching", func() {
		Expect(ExtractReference("Reference\n  No:\tABC123XYZ")).To(Equal("ABC123XYZ"))
	})
})
