// Package writer produces PDF output: whole new documents and incremental
// updates appended to an existing file.
package writer

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"time"

	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
)

// Producer is written into the info dictionary of new documents.
const Producer = "imzala"

// PdfFileWriter builds a new PDF from scratch.
type PdfFileWriter struct {
	Version string
	Root    *generic.DictionaryObject
	Info    *generic.DictionaryObject

	objects  []*generic.IndirectObject
	pagesRef generic.Reference
	pages    *generic.DictionaryObject
}

// NewPdfFileWriter creates an empty document with a catalog and page tree.
func NewPdfFileWriter() *PdfFileWriter {
	w := &PdfFileWriter{Version: "1.7"}
	w.pages = generic.NewDictionary()
	w.pages.Set("Type", generic.NameObject("Pages"))
	w.pages.Set("Kids", generic.ArrayObject{})
	w.pages.Set("Count", generic.IntegerObject(0))
	w.pagesRef = w.AddObject(w.pages)

	w.Root = generic.NewDictionary()
	w.Root.Set("Type", generic.NameObject("Catalog"))
	w.Root.Set("Pages", w.pagesRef)

	w.Info = generic.NewDictionary()
	w.Info.Set("Producer", generic.NewTextString(Producer))
	return w
}

// AddObject registers obj and returns its reference.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	num := len(w.objects) + 1
	w.objects = append(w.objects, generic.NewIndirectObject(num, 0, obj))
	return generic.NewReference(num, 0)
}

// Object returns the registered object behind ref.
func (w *PdfFileWriter) Object(ref generic.Reference) generic.PdfObject {
	if ref.ObjectNumber < 1 || ref.ObjectNumber > len(w.objects) {
		return nil
	}
	return w.objects[ref.ObjectNumber-1].Object
}

// AddPage appends a page with the given size and content. A nil resources
// dictionary gets an empty one.
func (w *PdfFileWriter) AddPage(width, height float64, contents []byte, resources *generic.DictionaryObject) (generic.Reference, *generic.DictionaryObject) {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", w.pagesRef)
	page.Set("MediaBox", generic.ArrayObject{
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.RealObject(width), generic.RealObject(height),
	})
	if resources == nil {
		resources = generic.NewDictionary()
	}
	page.Set("Resources", resources)
	if contents != nil {
		page.Set("Contents", w.AddObject(filters.NewFlateStream(nil, contents)))
	}
	ref := w.AddObject(page)
	kids := append(w.pages.GetArray("Kids"), ref)
	w.pages.Set("Kids", kids)
	w.pages.Set("Count", generic.IntegerObject(len(kids)))
	return ref, page
}

// Write serializes the document.
func (w *PdfFileWriter) Write(out io.Writer) error {
	rootRef := w.AddObject(w.Root)
	infoRef := w.AddObject(w.Info)
	defer func() { w.objects = w.objects[:len(w.objects)-2] }()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", w.Version)
	offsets := make([]int64, len(w.objects))
	for i, obj := range w.objects {
		offsets[i] = int64(buf.Len())
		if err := obj.Write(&buf); err != nil {
			return err
		}
	}

	id := md5.Sum(buf.Bytes())
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(w.objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(len(w.objects)+1))
	trailer.Set("Root", rootRef)
	trailer.Set("Info", infoRef)
	trailer.Set("ID", generic.ArrayObject{generic.NewHexString(id[:]), generic.NewHexString(id[:])})
	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	_, err := out.Write(buf.Bytes())
	return err
}

// Bytes serializes the document into memory.
func (w *PdfFileWriter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatDate formats t as a PDF date string.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	if offset == 0 {
		return t.Format("D:20060102150405") + "Z"
	}
	return fmt.Sprintf("%s%c%02d'%02d'", t.Format("D:20060102150405"), sign, offset/3600, (offset%3600)/60)
}
