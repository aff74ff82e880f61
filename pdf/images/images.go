// Package images turns rasters into PDF image XObjects.
package images

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg" // logo formats
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
)

// Common errors
var (
	ErrInvalidDimensions = errors.New("invalid image dimensions")
	ErrDecodeFailed      = errors.New("image decode failed")
)

// ObjectAdder registers indirect objects. Both PDF writers implement it.
type ObjectAdder interface {
	AddObject(obj generic.PdfObject) generic.Reference
}

// PDFImage is an 8-bit RGB raster with an optional soft mask, both
// Flate-compressed.
type PDFImage struct {
	Width  int
	Height int
	Data   []byte
	// Alpha is nil when every pixel is opaque.
	Alpha []byte
}

// NewPDFImageFromImage converts img. Colour is stored un-premultiplied, as
// PDF soft masks expect.
func NewPDFImageFromImage(img image.Image) (*PDFImage, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrInvalidDimensions
	}
	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb = append(rgb, c.R, c.G, c.B)
			alpha = append(alpha, c.A)
			if c.A != 0xFF {
				opaque = false
			}
		}
	}
	out := &PDFImage{Width: w, Height: h, Data: filters.Deflate(rgb)}
	if !opaque {
		out.Alpha = filters.Deflate(alpha)
	}
	return out, nil
}

// DecodeFile reads a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, path, err)
	}
	return img, nil
}

// HasAlpha reports whether the image carries a soft mask.
func (img *PDFImage) HasAlpha() bool { return img.Alpha != nil }

func (img *PDFImage) stream(data []byte, colorSpace string) *generic.StreamObject {
	d := generic.NewDictionary()
	d.Set("Type", generic.NameObject("XObject"))
	d.Set("Subtype", generic.NameObject("Image"))
	d.Set("Width", generic.IntegerObject(img.Width))
	d.Set("Height", generic.IntegerObject(img.Height))
	d.Set("ColorSpace", generic.NameObject(colorSpace))
	d.Set("BitsPerComponent", generic.IntegerObject(8))
	d.Set("Filter", generic.NameObject("FlateDecode"))
	return generic.NewStream(d, data)
}

// AddXObject registers the image (and its soft mask) with w and returns
// the reference of the image XObject.
func (img *PDFImage) AddXObject(w ObjectAdder) generic.Reference {
	s := img.stream(img.Data, "DeviceRGB")
	if img.HasAlpha() {
		s.Dictionary.Set("SMask", w.AddObject(img.stream(img.Alpha, "DeviceGray")))
	}
	return w.AddObject(s)
}
