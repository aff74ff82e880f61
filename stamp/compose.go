// Package stamp composes the signature stamp raster and computes where it
// goes on a page.
package stamp

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/images"
)

// DPI is the fixed raster resolution for previews and output.
const DPI = 300

// PixelsPerMM at DPI.
const PixelsPerMM = DPI / 25.4

const (
	minFontPx       = 8
	textSafetyPx    = 8
	paddingMM       = 0.4
	topMarginMM     = 2.0
	bottomMarginMM  = 3.0
	minBlockWidthMM = 1.0
)

// ComposeRequest describes one stamp.
type ComposeRequest struct {
	// LogoPath is read when Logo is nil.
	LogoPath string
	Logo     image.Image

	Lines       SignerLines
	FontSizeMM  float64
	LogoWidthMM float64
	FontFamily  string
	FontStyle   string
	// Simplified renders the date line only.
	Simplified bool
}

// Block is a composed stamp.
type Block struct {
	PNG         []byte
	Image       *image.RGBA
	PixelWidth  int
	PixelHeight int
	WidthMM     float64
	HeightMM    float64
	// Font names the face the text was drawn with.
	Font string
}

// PDFImage converts the raster into an image XObject source.
func (b *Block) PDFImage() (*images.PDFImage, error) {
	return images.NewPDFImageFromImage(b.Image)
}

// Composer renders stamps. It is safe for concurrent use.
type Composer struct {
	fonts *fontSet
	log   *zap.Logger
}

// NewComposer creates a composer that searches fontDirs for family files.
// Nil dirs means DefaultFontDirs.
func NewComposer(fontDirs []string, log *zap.Logger) *Composer {
	if fontDirs == nil {
		fontDirs = DefaultFontDirs()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{fonts: newFontSet(fontDirs), log: log}
}

func mmToPx(mm float64) int {
	return int(math.Round(mm * PixelsPerMM))
}

// Compose renders the stamp. A missing or unreadable logo yields a nil
// block and a StampUnavailable error; callers continue without a stamp.
func (c *Composer) Compose(req ComposeRequest) (*Block, error) {
	logo := req.Logo
	if logo == nil {
		img, err := images.DecodeFile(req.LogoPath)
		if err != nil {
			return nil, errs.Wrap(errs.StampUnavailable, err, "logo").WithPath(req.LogoPath)
		}
		logo = img
	}
	lb := logo.Bounds()
	if lb.Dx() <= 0 || lb.Dy() <= 0 {
		return nil, errs.New(errs.StampUnavailable, "logo has no pixels").WithPath(req.LogoPath)
	}

	lines := append(SignerLines(nil), req.Lines...)
	if req.Simplified {
		lines = lines.Simplified()
	}
	for i := range lines {
		lines[i] = norm.NFC.String(lines[i])
	}

	fontPx := mmToPx(req.FontSizeMM)
	if fontPx < minFontPx {
		fontPx = minFontPx
	}
	res := c.fonts.Resolve(req.FontFamily, req.FontStyle, float64(fontPx))
	if res.Kind != Resolved && len(res.Errors) > 0 {
		c.log.Warn("font fallback",
			zap.String("family", req.FontFamily),
			zap.String("style", req.FontStyle),
			zap.String("using", res.Source),
			zap.Error(errs.Wrap(errs.FontResolutionFailed, res.Errors[0], "font")))
	}
	face := res.Value
	defer face.Close()

	maxLine := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > maxLine {
			maxLine = w
		}
	}
	textWidthMM := float64(maxLine+textSafetyPx) / PixelsPerMM
	widthMM := math.Max(math.Max(textWidthMM, req.LogoWidthMM), minBlockWidthMM)
	canvasW := mmToPx(widthMM)

	logoW := mmToPx(req.LogoWidthMM)
	logoH := 0
	if logoW > 0 {
		logoH = int(math.Round(float64(lb.Dy()) * float64(logoW) / float64(lb.Dx())))
	}

	padding := mmToPx(paddingMM)
	if padding < 1 {
		padding = 1
	}
	metrics := face.Metrics()
	lineH := metrics.Ascent.Ceil() + metrics.Descent.Ceil()/2
	top, bottom := mmToPx(topMarginMM), mmToPx(bottomMarginMM)

	canvasH := logoH + top + bottom
	if n := len(lines); n > 0 {
		canvasH += n*lineH + (n-1)*padding + 3*padding
	}
	if canvasH < 1 {
		canvasH = 1
	}

	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	if logoW > 0 && logoH > 0 {
		x := (canvasW - logoW) / 2
		draw.CatmullRom.Scale(canvas, image.Rect(x, top, x+logoW, top+logoH), logo, lb, draw.Over, nil)
	}

	d := &font.Drawer{Dst: canvas, Src: image.NewUniform(color.Black), Face: face}
	y := logoH + top + padding
	for _, line := range lines {
		w := d.MeasureString(line).Ceil()
		d.Dot = fixed.P((canvasW-w)/2, y+metrics.Ascent.Ceil())
		d.DrawString(line)
		y += lineH + padding
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode stamp: %w", err)
	}
	return &Block{
		PNG:         buf.Bytes(),
		Image:       canvas,
		PixelWidth:  canvasW,
		PixelHeight: canvasH,
		WidthMM:     widthMM,
		HeightMM:    widthMM * float64(canvasH) / float64(canvasW),
		Font:        res.Source,
	}, nil
}
