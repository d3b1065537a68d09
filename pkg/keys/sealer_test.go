package keys

import (
	"bytes"
	"encoding/base64"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sealer", func() {
	var sealer *Sealer

	BeforeEach(func() {
		var err error
		sealer, err = NewSealer(bytes.Repeat([]byte{0x42}, 32))
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects secrets that are not 32 bytes", func() {
		_, err := NewSealer([]byte("short"))
		Expect(err).To(HaveOccurred())
	})

	It("round-trips a provider key", func() {
		sealed, err := sealer.Seal("sk-proj-abcdef123456")
		Expect(err).NotTo(HaveOccurred())
		Expect(sealed).NotTo(ContainSubstring("sk-proj"))

		opened, err := sealer.Open(sealed)
		Expect(err).NotTo(HaveOccurred())
		Expect(opened).To(Equal("sk-proj-abcdef123456"))
	})

	It("produces a fresh nonce per seal", func() {
		a, err := sealer.Seal("same plaintext")
		Expect(err).NotTo(HaveOccurred())
		b, err := sealer.Seal("same plaintext")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(Equal(b))
	})

	It("rejects tampered ciphertext", func() {
		sealed, err := sealer.Seal("secret")
		Expect(err).NotTo(HaveOccurred())

		raw, err := base64.StdEncoding.DecodeString(sealed)
		Expect(err).NotTo(HaveOccurred())
		raw[len(raw)-1] ^= 0xff

		_, err = sealer.Open(base64.StdEncoding.EncodeToString(raw))
		Expect(err).To(MatchError(ErrInvalidCiphertext))
	})

	It("rejects garbage input", func() {
		_, err := sealer.Open("not base64 at all!!!")
		Expect(err).To(MatchError(ErrInvalidCiphertext))

		_, err = sealer.Open("AAAA")
		Expect(err).To(MatchError(ErrInvalidCiphertext))
	})

	It("hints only the key tail", func() {
		Expect(Hint("sk-proj-abcdef123456")).To(Equal("3456"))
		Expect(Hint("ab")).To(Equal("ab"))
	})
})
