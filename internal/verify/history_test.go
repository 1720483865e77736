package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// sequenceIDGenerator issues ascending IDs so list order is deterministic
type sequenceIDGenerator struct {
	n int
}

func (g *sequenceIDGenerator) Generate() string {
	g.n++
	return fmt.Sprintf("%020d", g.n)
}

type fixedTimeSource struct {
	now time.Time
}

func (t *fixedTimeSource) Now() time.Time {
	return t.now
}

var _ = Describe("BoltStore", func() {
	var (
		tempDir string
		store   *BoltStore
		err     error
	)

	BeforeEach(func() {
		tempDir, err = os.MkdirTemp("", "payment-verifier-test-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = NewBoltStoreWithDeps(
			filepath.Join(tempDir, "test.db"),
			"https://verify.example.com",
			&sequenceIDGenerator{},
			&fixedTimeSource{now: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)},
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
		os.RemoveAll(tempDir)
	})

	Describe("history", func() {
		It("starts empty", func() {
			records, listErr := store.List()
			Expect(listErr).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		When("records are appended", func() {
			BeforeEach(func() {
				Expect(store.Append(&Record{Provider: "telebirr", Reference: "BB230XQ88P", Status: StatusSuccess})).To(Succeed())
				Expect(store.Append(&Record{Provider: "cbe", Reference: "FT23ABCD12", Status: StatusSuccess})).To(Succeed())
			})

			It("assigns IDs and timestamps", func() {
				records, listErr := store.List()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records[0].ID).NotTo(BeEmpty())
				Expect(records[0].CreatedAt).NotTo(BeZero())
			})

			It("lists newest first", func() {
				records, listErr := store.List()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
				Expect(records[0].Reference).To(Equal("FT23ABCD12"))
				Expect(records[1].Reference).To(Equal("BB230XQ88P"))
			})

			It("round-trips all fields", func() {
				records, _ := store.List()
				Expect(records[1].Provider).To(Equal("telebirr"))
				Expect(records[1].Status).To(Equal(StatusSuccess))
			})

			It("clears everything", func() {
				Expect(store.Clear()).To(Succeed())
				records, listErr := store.List()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})

			It("accepts appends after a clear", func() {
				Expect(store.Clear()).To(Succeed())
				Expect(store.Append(&Record{Provider: "dashen", Reference: "123FTO456789"})).To(Succeed())
				records, _ := store.List()
				Expect(records).To(HaveLen(1))
			})
		})

		When("a record arrives with an ID already set", func() {
			It("keeps the caller's ID", func() {
				Expect(store.Append(&Record{ID: "custom-id", Provider: "telebirr"})).To(Succeed())
				records, _ := store.List()
				Expect(records[0].ID).To(Equal("custom-id"))
			})
		})
	})

	Describe("settings", func() {
		It("returns the default base URL initially", func() {
			url, getErr := store.BaseURL()
			Expect(getErr).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://verify.example.com"))
		})

		It("persists a new base URL", func() {
			Expect(store.SetBaseURL("https://staging.example.com")).To(Succeed())
			url, _ := store.BaseURL()
			Expect(url).To(Equal("https://staging.example.com"))
		})

		It("reverts to the default when cleared", func() {
			Expect(store.SetBaseURL("https://staging.example.com")).To(Succeed())
			Expect(store.SetBaseURL("")).To(Succeed())
			url, _ := store.BaseURL()
			Expect(url).To(Equal("https://verify.example.com"))
		})
	})
})
