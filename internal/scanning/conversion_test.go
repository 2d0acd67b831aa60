package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("prepareImageData", func() {
	var sample image.Image

	BeforeEach(func() {
		img := image.NewRGBA(image.Rect(0, 0, 8, 4))
		for x := 0; x < 8; x++ {
			img.Set(x, 1, color.Black)
		}
		sample = img
	})

	When("the capture is a JPEG", func() {
		It("converts it to PNG with the same bounds", func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, sample, nil)).To(Succeed())

			data, err := prepareImageData(buf.Bytes(), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			decoded, err := png.Decode(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Bounds()).To(Equal(sample.Bounds()))
		})
	})

	When("the content type is missing", func() {
		It("treats the capture as a JPEG", func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, sample, nil)).To(Succeed())

			data, err := prepareImageData(buf.Bytes(), "")
			Expect(err).NotTo(HaveOccurred())
			_, err = png.Decode(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the capture is already a PNG", func() {
		It("returns the bytes unchanged", func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, sample)).To(Succeed())

			data, err := prepareImageData(buf.Bytes(), " Image/PNG ")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(buf.Bytes()))
		})
	})

	When("the data is not an image", func() {
		It("returns the error", func() {
			_, err := prepareImageData([]byte("not an image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("converting image to PNG"))
		})
	})
})
