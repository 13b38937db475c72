package segmentcache_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSegmentCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SegmentCache Suite")
}
