package postgres

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("time codec", func() {
	It("truncates to the microsecond precision TIMESTAMPTZ keeps", func() {
		in := time.Date(2026, 4, 1, 9, 0, 0, 123456789, time.UTC)
		Expect(normTime(in)).To(Equal(time.Date(2026, 4, 1, 9, 0, 0, 123456000, time.UTC)))
	})

	It("maps a nil tombstone to a null value", func() {
		Expect(nullTime(nil).Valid).To(BeFalse())
	})

	It("normalizes a set tombstone to UTC microseconds", func() {
		in := time.Date(2026, 4, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
		nt := nullTime(&in)

		Expect(nt.Valid).To(BeTrue())
		Expect(nt.Time).To(Equal(normTime(in)))
		Expect(nt.Time.Location()).To(Equal(time.UTC))
	})
})
