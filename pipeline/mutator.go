package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/content"
	"github.com/imzaci/imzala/pdf/overlay"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/pdf/writer"
)

// Mutator carries out the page-changing strategies. Each method leaves
// doc untouched on failure.
type Mutator interface {
	// AppendXObject draws st on pages through appended content streams.
	AppendXObject(doc *Document, pages []int, st *Stamp) error
	// Merge rewrites pages with st merged into their content.
	Merge(doc *Document, pages []int, st *Stamp) error
	// Sanitize rewrites the whole document.
	Sanitize(doc *Document) error
}

// PageMutator is the Mutator used outside tests.
type PageMutator struct {
	merger *overlay.Merger
	log    *zap.Logger
}

// NewPageMutator returns a mutator backed by the content appender and the
// pdfcpu overlay.
func NewPageMutator(log *zap.Logger) *PageMutator {
	if log == nil {
		log = zap.NewNop()
	}
	return &PageMutator{merger: overlay.NewMerger(log), log: log}
}

// AppendXObject implements Mutator. The change is written as its own
// incremental revision.
func (m *PageMutator) AppendXObject(doc *Document, pages []int, st *Stamp) error {
	img, err := st.PDFImage()
	if err != nil {
		return err
	}
	matrices := make(map[int]content.Matrix, len(pages))
	for _, i := range pages {
		matrices[i] = st.Place(doc.Geometry(i, m.log)).Matrix
	}

	w := writer.NewIncrementalPdfFileWriter(doc.Reader)
	a := content.NewAppender(w, m.log)
	if _, err := a.Stamp(pages, img, matrices); err != nil {
		return err
	}
	data, err := w.Bytes()
	if err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "write stamped revision")
	}
	ref, _ := a.ImageRef()
	if err := doc.Replace(data); err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "reparse stamped revision")
	}
	doc.StampImage = &ref
	return nil
}

// Merge implements Mutator.
func (m *PageMutator) Merge(doc *Document, pages []int, st *Stamp) error {
	in, err := m.spill(doc, "in", ".pdf", doc.Data)
	if err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "")
	}
	defer os.Remove(in)
	img, err := m.spill(doc, "stamp", ".png", st.Block.PNG)
	if err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "")
	}
	defer os.Remove(img)

	stamps := make([]overlay.Stamp, 0, len(pages))
	for _, i := range pages {
		geom := doc.Geometry(i, m.log)
		pl := st.Place(geom)
		viewW, viewH := geom.ViewSize()
		stamps = append(stamps, overlay.Stamp{
			PageIndex:  i,
			CenterX:    pl.CenterX,
			CenterY:    pl.CenterY,
			WidthPt:    pl.WidthPt,
			ViewWidth:  viewW,
			ViewHeight: viewH,
		})
	}

	out := m.tempPath(doc, "merged", ".pdf")
	defer os.Remove(out)
	if err := m.merger.Merge(in, out, img, st.Block.PixelWidth, stamps); err != nil {
		return err
	}
	return m.reload(doc, out, errs.XObjectMergeFailed)
}

// Sanitize implements Mutator.
func (m *PageMutator) Sanitize(doc *Document) error {
	in, err := m.spill(doc, "in", ".pdf", doc.Data)
	if err != nil {
		return errs.Wrap(errs.StructuralRepairFailed, err, "")
	}
	defer os.Remove(in)

	out := m.tempPath(doc, "clean", ".pdf")
	defer os.Remove(out)
	if err := m.merger.Sanitize(in, out); err != nil {
		return err
	}
	return m.reload(doc, out, errs.StructuralRepairFailed)
}

func (m *PageMutator) tempPath(doc *Document, prefix, ext string) string {
	return filepath.Join(doc.WorkDir, fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), ext))
}

func (m *PageMutator) spill(doc *Document, prefix, ext string, data []byte) (string, error) {
	path := m.tempPath(doc, prefix, ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *PageMutator) reload(doc *Document, path string, kind errs.Kind) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(kind, err, "").WithPath(path)
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return errs.Wrap(kind, err, "reparse rewritten document")
	}
	if got, want := r.NumPages(), doc.Reader.NumPages(); got != want {
		return errs.New(kind, fmt.Sprintf("rewritten document has %d pages, expected %d", got, want))
	}
	doc.Data, doc.Reader, doc.StampImage = data, r, nil
	return nil
}
