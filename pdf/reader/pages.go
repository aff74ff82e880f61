package reader

import (
	"fmt"
	"math"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/generic"
)

// A4 dimensions in points, used when a page carries no usable box.
const (
	A4Width  = 595.0
	A4Height = 842.0
)

// Page is a leaf of the page tree with its inheritable attributes resolved.
type Page struct {
	Index int
	Ref   generic.Reference
	Dict  *generic.DictionaryObject

	// Resources is the effective resource dictionary (possibly inherited),
	// or nil when the page has none.
	Resources *generic.DictionaryObject
	MediaBox  generic.PdfObject
	CropBox   generic.PdfObject
	Rotate    generic.PdfObject
}

// PageGeometry is the physical size and intrinsic rotation of a page.
type PageGeometry struct {
	Width    float64
	Height   float64
	Rotation int
}

// ViewSize returns the page size as a viewer shows it, with width and
// height swapped for quarter turns.
func (g PageGeometry) ViewSize() (w, h float64) {
	switch NormalizeRotation(g.Rotation) {
	case 90, 270:
		return g.Height, g.Width
	}
	return g.Width, g.Height
}

// DefaultGeometry is the A4 portrait fallback.
var DefaultGeometry = PageGeometry{Width: A4Width, Height: A4Height}

type inherited struct {
	resources generic.PdfObject
	mediaBox  generic.PdfObject
	cropBox   generic.PdfObject
	rotate    generic.PdfObject
}

func (in inherited) from(node *generic.DictionaryObject) inherited {
	if v := node.Get("Resources"); v != nil {
		in.resources = v
	}
	if v := node.Get("MediaBox"); v != nil {
		in.mediaBox = v
	}
	if v := node.Get("CropBox"); v != nil {
		in.cropBox = v
	}
	if v := node.Get("Rotate"); v != nil {
		in.rotate = v
	}
	return in
}

func (r *PdfFileReader) loadPages() error {
	pagesRef := r.Root.Get("Pages")
	if pagesRef == nil {
		return fmt.Errorf("%w: catalog has no /Pages", ErrInvalidPDF)
	}
	return r.walk(pagesRef, inherited{}, make(map[int]bool))
}

func (r *PdfFileReader) walk(obj generic.PdfObject, in inherited, visiting map[int]bool) error {
	ref, isRef := obj.(generic.Reference)
	if isRef {
		if visiting[ref.ObjectNumber] {
			return fmt.Errorf("%w: page tree cycle at %s", ErrInvalidPDF, ref)
		}
		visiting[ref.ObjectNumber] = true
		defer delete(visiting, ref.ObjectNumber)
	}
	node := r.ResolveDict(obj)
	if node == nil {
		return fmt.Errorf("%w: unreadable page tree node", ErrInvalidPDF)
	}
	in = in.from(node)

	kids := node.Get("Kids")
	if node.GetName("Type") == "Pages" || (kids != nil && node.GetName("Type") != "Page") {
		arr, _ := r.Resolve(kids)
		list, _ := arr.(generic.ArrayObject)
		for _, kid := range list {
			if err := r.walk(kid, in, visiting); err != nil {
				return err
			}
		}
		return nil
	}
	if !isRef {
		return fmt.Errorf("%w: page %d is not an indirect object", ErrInvalidPDF, len(r.pages))
	}
	r.pages = append(r.pages, &Page{
		Index:     len(r.pages),
		Ref:       ref,
		Dict:      node,
		Resources: r.ResolveDict(in.resources),
		MediaBox:  in.mediaBox,
		CropBox:   in.cropBox,
		Rotate:    in.rotate,
	})
	return nil
}

// NumPages returns the number of pages.
func (r *PdfFileReader) NumPages() int { return len(r.pages) }

// Page returns the page at index.
func (r *PdfFileReader) Page(index int) (*Page, error) {
	if index < 0 || index >= len(r.pages) {
		return nil, fmt.Errorf("page index %d out of range (document has %d pages)", index, len(r.pages))
	}
	return r.pages[index], nil
}

// Pages returns all pages in document order.
func (r *PdfFileReader) Pages() []*Page { return r.pages }

// Geometry derives the page geometry from the crop box (falling back to
// the media box) and the inherited rotation. When neither box is usable
// the A4 default is returned together with a PageGeometryUnavailable error.
func (r *PdfFileReader) Geometry(index int) (PageGeometry, error) {
	page, err := r.Page(index)
	if err != nil {
		return DefaultGeometry, errs.Wrap(errs.PageGeometryUnavailable, err, "using A4")
	}
	rotation := 0
	if v, err := r.Resolve(page.Rotate); err == nil && page.Rotate != nil {
		if f, ok := generic.ToFloat(v); ok {
			rotation = NormalizeRotation(int(f))
		}
	}

	for _, box := range []generic.PdfObject{page.CropBox, page.MediaBox} {
		if box == nil {
			continue
		}
		v, err := r.Resolve(box)
		if err != nil {
			continue
		}
		arr, ok := v.(generic.ArrayObject)
		if !ok {
			continue
		}
		rect, err := generic.NewRectangle(arr)
		if err != nil || rect.Width() <= 0 || rect.Height() <= 0 || math.IsInf(rect.Width(), 0) {
			continue
		}
		return PageGeometry{Width: rect.Width(), Height: rect.Height(), Rotation: rotation}, nil
	}
	geom := DefaultGeometry
	geom.Rotation = rotation
	return geom, errs.New(errs.PageGeometryUnavailable, fmt.Sprintf("page %d has no usable box, using A4", index))
}

// NormalizeRotation maps any /Rotate value onto {0, 90, 180, 270}.
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg - deg%90
}
