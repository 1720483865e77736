package verify

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("fixedWindowLimiter", func() {
	var (
		limiter *fixedWindowLimiter
		clock   time.Time
	)

	BeforeEach(func() {
		clock = time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC)
		limiter = newFixedWindowLimiter(3, time.Minute)
		limiter.now = func() time.Time { return clock }
	})

	It("allows requests up to the limit", func() {
		for i := 0; i < 3; i++ {
			Expect(limiter.Hit("1.2.3.4").Allowed).To(BeTrue())
		}
	})

	It("denies the request over the limit", func() {
		for i := 0; i < 3; i++ {
			limiter.Hit("1.2.3.4")
		}
		decision := limiter.Hit("1.2.3.4")
		Expect(decision.Allowed).To(BeFalse())
		Expect(decision.Remaining).To(Equal(0))
	})

	It("counts identities independently", func() {
		for i := 0; i < 3; i++ {
			limiter.Hit("1.2.3.4")
		}
		Expect(limiter.Hit("5.6.7.8").Allowed).To(BeTrue())
	})

	It("decrements remaining as requests arrive", func() {
		Expect(limiter.Hit("1.2.3.4").Remaining).To(Equal(2))
		Expect(limiter.Hit("1.2.3.4").Remaining).To(Equal(1))
	})

	It("resets in the next window", func() {
		for i := 0; i < 4; i++ {
			limiter.Hit("1.2.3.4")
		}
		clock = clock.Add(time.Minute)
		Expect(limiter.Hit("1.2.3.4").Allowed).To(BeTrue())
	})

	It("reports the window rollover time", func() {
		decision := limiter.Hit("1.2.3.4")
		Expect(decision.Reset).To(BeNumerically(">", clock.Unix()))
		Expect(decision.Reset).To(BeNumerically("<=", clock.Add(time.Minute).Unix()))
	})
})

var _ = Describe("ttlCache", func() {
	var (
		cache *ttlCache
		clock time.Time
	)

	BeforeEach(func() {
		clock = time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC)
		cache = newTTLCache(time.Minute)
		cache.now = func() time.Time { return clock }
	})

	It("misses on an unknown key", func() {
		_, ok := cache.Get("missing")
		Expect(ok).To(BeFalse())
	})

	It("returns a stored value before expiry", func() {
		cache.Set("key", NormalizedVerification{Status: StatusSuccess})
		clock = clock.Add(30 * time.Second)
		v, ok := cache.Get("key")
		Expect(ok).To(BeTrue())
		Expect(v.Status).To(Equal(StatusSuccess))
	})

	It("expires values after the TTL", func() {
		cache.Set("key", NormalizedVerification{Status: StatusSuccess})
		clock = clock.Add(time.Minute)
		_, ok := cache.Get("key")
		Expect(ok).To(BeFalse())
	})

	It("overwrites an existing key", func() {
		cache.Set("key", NormalizedVerification{Status: StatusPending})
		cache.Set("key", NormalizedVerification{Status: StatusSuccess})
		v, _ := cache.Get("key")
		Expect(v.Status).To(Equal(StatusSuccess))
	})
})
