package content

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/images"
	"github.com/imzaci/imzala/pdf/writer"
)

// ImageResourceName is the resource name the stamp image is registered
// under on every page.
const ImageResourceName = "LogoImg"

// Appender paints one shared image onto pages of an incremental update.
// Existing content stream objects are never rewritten or reordered: each
// page's contents become [q, original..., Q, draw].
type Appender struct {
	w   *writer.IncrementalPdfFileWriter
	log *zap.Logger

	image   *generic.Reference
	save    *generic.Reference
	restore *generic.Reference
}

// NewAppender creates an appender over w. A nil logger discards output.
func NewAppender(w *writer.IncrementalPdfFileWriter, log *zap.Logger) *Appender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Appender{w: w, log: log}
}

// pagePlan is everything resolved for a page before anything is written.
type pagePlan struct {
	index     int
	ref       generic.Reference
	contents  generic.ArrayObject
	resources *generic.DictionaryObject
	xobjects  *generic.DictionaryObject
	name      string
	matrix    Matrix
}

// Stamp draws img on each listed page through the matrix given for it. All
// pages are resolved first; if any cannot be, nothing is written and an
// XObjectMergeFailed error is returned. It returns the stamped page indices.
func (a *Appender) Stamp(pages []int, img *images.PDFImage, matrices map[int]Matrix) ([]int, error) {
	if img == nil {
		return nil, errs.New(errs.XObjectMergeFailed, "no image to append")
	}
	plans := make([]*pagePlan, 0, len(pages))
	for _, idx := range pages {
		m, ok := matrices[idx]
		if !ok {
			return nil, errs.New(errs.XObjectMergeFailed, fmt.Sprintf("no placement for page %d", idx))
		}
		plan, err := a.plan(idx, m)
		if err != nil {
			return nil, errs.Wrap(errs.XObjectMergeFailed, err, fmt.Sprintf("page %d", idx))
		}
		plans = append(plans, plan)
	}
	if len(plans) == 0 {
		return nil, nil
	}

	imageRef := a.imageRef(img)
	save, restore := a.bracket()
	done := make([]int, 0, len(plans))
	for _, plan := range plans {
		page, err := a.w.Edit(plan.ref)
		if err != nil {
			return done, errs.Wrap(errs.XObjectMergeFailed, err, fmt.Sprintf("page %d", plan.index))
		}
		plan.xobjects.Set(plan.name, imageRef)
		plan.resources.Set("XObject", plan.xobjects)
		page.Set("Resources", plan.resources)

		draw := a.w.AddObject(filters.NewFlateStream(nil, DrawImage(plan.name, plan.matrix)))
		contents := make(generic.ArrayObject, 0, len(plan.contents)+3)
		contents = append(contents, save)
		contents = append(contents, plan.contents...)
		contents = append(contents, restore, draw)
		page.Set("Contents", contents)

		a.log.Debug("stamp appended",
			zap.Int("page", plan.index),
			zap.Int("original_streams", len(plan.contents)),
			zap.String("resource", plan.name))
		done = append(done, plan.index)
	}
	return done, nil
}

func (a *Appender) plan(idx int, m Matrix) (*pagePlan, error) {
	page, err := a.w.Reader.Page(idx)
	if err != nil {
		return nil, err
	}
	// A page already edited in this update is read back from the writer.
	dict := a.w.ResolveDict(page.Ref)
	if dict == nil {
		return nil, fmt.Errorf("page object %s is not a dictionary", page.Ref)
	}

	contents, err := a.contentRefs(dict.Get("Contents"))
	if err != nil {
		return nil, err
	}

	var resources *generic.DictionaryObject
	if own := dict.Get("Resources"); own != nil {
		resources = a.w.ResolveDict(own)
		if resources == nil {
			return nil, fmt.Errorf("resources of page %d cannot be resolved", idx)
		}
	} else if page.Resources != nil {
		resources = page.Resources
	}
	if resources == nil {
		resources = generic.NewDictionary()
	} else {
		resources = resources.Clone().(*generic.DictionaryObject)
	}

	xobjects := generic.NewDictionary()
	if x := resources.Get("XObject"); x != nil {
		d := a.w.ResolveDict(x)
		if d == nil {
			return nil, fmt.Errorf("XObject resources of page %d cannot be resolved", idx)
		}
		xobjects = d.Clone().(*generic.DictionaryObject)
	}

	return &pagePlan{
		index:     idx,
		ref:       page.Ref,
		contents:  contents,
		resources: resources,
		xobjects:  xobjects,
		name:      a.resourceName(xobjects),
		matrix:    m,
	}, nil
}

// contentRefs returns the page's content streams as references, in order.
func (a *Appender) contentRefs(obj generic.PdfObject) (generic.ArrayObject, error) {
	switch v := obj.(type) {
	case nil:
		return generic.ArrayObject{}, nil
	case generic.Reference:
		target, err := a.w.Resolve(v)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case *generic.StreamObject:
			return generic.ArrayObject{v}, nil
		case generic.ArrayObject:
			return a.contentRefs(t)
		default:
			return nil, fmt.Errorf("contents %s is a %T", v, target)
		}
	case generic.ArrayObject:
		out := make(generic.ArrayObject, 0, len(v))
		for _, item := range v {
			ref, ok := item.(generic.Reference)
			if !ok {
				return nil, fmt.Errorf("direct object in contents array")
			}
			target, err := a.w.Resolve(ref)
			if err != nil {
				return nil, err
			}
			if _, ok := target.(*generic.StreamObject); !ok {
				return nil, fmt.Errorf("contents entry %s is a %T", ref, target)
			}
			out = append(out, ref)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported contents type %T", obj)
}

// resourceName returns the name to register the image under. It is
// LogoImg unless the page already uses that name for something else.
func (a *Appender) resourceName(xobjects *generic.DictionaryObject) string {
	existing := xobjects.Get(ImageResourceName)
	if existing == nil || (a.image != nil && existing == *a.image) {
		return ImageResourceName
	}
	for i := 1; ; i++ {
		name := ImageResourceName + strconv.Itoa(i)
		if !xobjects.Has(name) {
			return name
		}
	}
}

func (a *Appender) imageRef(img *images.PDFImage) generic.Reference {
	if a.image == nil {
		ref := img.AddXObject(a.w)
		a.image = &ref
	}
	return *a.image
}

func (a *Appender) bracket() (generic.Reference, generic.Reference) {
	if a.save == nil {
		s := a.w.AddObject(generic.NewStream(generic.NewDictionary(), []byte("q\n")))
		r := a.w.AddObject(generic.NewStream(generic.NewDictionary(), []byte("\nQ\n")))
		a.save, a.restore = &s, &r
	}
	return *a.save, *a.restore
}

// ImageRef returns the shared image reference once Stamp has run.
func (a *Appender) ImageRef() (generic.Reference, bool) {
	if a.image == nil {
		return generic.Reference{}, false
	}
	return *a.image, true
}

// PageContents concatenates the decoded content streams of a page, in
// order, separated by newlines.
func PageContents(resolve func(generic.PdfObject) (generic.PdfObject, error), decode func(*generic.StreamObject) ([]byte, error), contents generic.PdfObject) ([]byte, error) {
	obj, err := resolve(contents)
	if err != nil {
		return nil, err
	}
	var items generic.ArrayObject
	switch v := obj.(type) {
	case nil:
		return nil, nil
	case *generic.StreamObject:
		items = generic.ArrayObject{v}
	case generic.ArrayObject:
		items = v
	default:
		return nil, fmt.Errorf("unsupported contents type %T", obj)
	}
	var out []byte
	for _, item := range items {
		target, err := resolve(item)
		if err != nil {
			return nil, err
		}
		s, ok := target.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("contents entry is a %T", target)
		}
		data, err := decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		out = append(out, '\n')
	}
	return out, nil
}
