package pipeline

import (
	"os"

	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/images"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/stamp"
)

// Document is the working copy of one input. Mutations replace Data and
// Reader; the input file itself is never written.
type Document struct {
	// Path is the input file.
	Path   string
	Data   []byte
	Reader *reader.PdfFileReader
	// WorkDir holds this document's temporary files.
	WorkDir string

	// StampImage is the full stamp's image XObject once a mutation has
	// embedded it, so the signature widget can reuse it.
	StampImage *generic.Reference
}

// LoadDocument reads and parses the file at path.
func LoadDocument(path, workDir string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := &Document{Path: path, WorkDir: workDir}
	if err := doc.Replace(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// Replace swaps in a new revision of the document.
func (d *Document) Replace(data []byte) error {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return err
	}
	d.Data, d.Reader = data, r
	d.StampImage = nil
	return nil
}

// Geometry returns the geometry of page i. Unusable boxes fall back to A4
// with a warning.
func (d *Document) Geometry(i int, log *zap.Logger) reader.PageGeometry {
	geom, err := d.Reader.Geometry(i)
	if err != nil {
		log.Warn("page geometry unavailable, using A4",
			zap.String("path", d.Path),
			zap.Int("page", i),
			zap.Error(err))
	}
	return geom
}

// Stamp is a composed block together with the spec that positions it.
type Stamp struct {
	Block *stamp.Block
	Spec  stamp.PlacementSpec

	image *images.PDFImage
}

// Place positions the stamp on a page of geometry geom.
func (s *Stamp) Place(geom reader.PageGeometry) stamp.Placement {
	return stamp.Place(geom, s.Spec, s.Block.WidthMM, s.Block.HeightMM)
}

// PDFImage returns the block as an image XObject source, converting once.
func (s *Stamp) PDFImage() (*images.PDFImage, error) {
	if s.image == nil {
		img, err := s.Block.PDFImage()
		if err != nil {
			return nil, errs.Wrap(errs.StampUnavailable, err, "convert stamp raster")
		}
		s.image = img
	}
	return s.image, nil
}
