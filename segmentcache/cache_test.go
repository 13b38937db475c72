package segmentcache_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/fusio-io/fusio-manifest/segmentcache"
)

var _ = Describe("Cache", func() {
	Describe("add and get", func() {
		var cache *segmentcache.Cache[string]

		BeforeEach(func() {
			cache = segmentcache.New[string](2)
		})

		It("should return a miss for an absent key", func() {
			_, ok := cache.Get("seq-1")
			Expect(ok).To(BeFalse())
		})

		It("should return what was added", func() {
			cache.Add("seq-1", "payload-1")
			v, ok := cache.Get("seq-1")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("payload-1"))
		})

		It("should evict least-recently-used once over capacity", func() {
			cache.Add("seq-1", "payload-1")
			cache.Add("seq-2", "payload-2")
			cache.Add("seq-3", "payload-3") // evicts seq-1, the LRU entry

			_, ok := cache.Get("seq-1")
			Expect(ok).To(BeFalse())

			v, ok := cache.Get("seq-2")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("payload-2"))

			v, ok = cache.Get("seq-3")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("payload-3"))
		})
	})

	Describe("remove", func() {
		var cache *segmentcache.Cache[int]

		BeforeEach(func() {
			cache = segmentcache.New[int](4)
			cache.Add("a", 1)
			cache.Add("b", 2)
		})

		It("should drop the removed key only", func() {
			cache.Remove("a")
			_, ok := cache.Get("a")
			Expect(ok).To(BeFalse())

			v, ok := cache.Get("b")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(2))
		})

		It("should be a no-op for a key that was never present", func() {
			Expect(func() { cache.Remove("nonexistent") }).NotTo(Panic())
			Expect(cache.Len()).To(Equal(2))
		})
	})

	Describe("Len", func() {
		It("should track the number of distinct keys held", func() {
			cache := segmentcache.New[int](8)
			Expect(cache.Len()).To(Equal(0))
			cache.Add("a", 1)
			cache.Add("b", 2)
			Expect(cache.Len()).To(Equal(2))
			cache.Add("a", 100) // update, not a new key
			Expect(cache.Len()).To(Equal(2))
		})
	})
})
