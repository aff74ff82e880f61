// Package testpdf builds small PDF fixtures for tests.
package testpdf

import (
	"bytes"
	"fmt"

	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/writer"
)

// Page describes one fixture page.
type Page struct {
	Width, Height float64
	Rotate        int
	Content       string
}

// A4Page is an unrotated A4 page drawing a single rectangle.
func A4Page(i int) Page {
	return Page{Width: 595, Height: 842, Content: fmt.Sprintf("0 0 1 rg %d 100 50 50 re f", 100+i)}
}

// Options adjusts the generated document.
type Options struct {
	// Signed adds a signature field with a dummy signature value.
	Signed bool
	// FieldNames adds unsigned text fields with these names.
	FieldNames []string
}

// Build returns a serialized document with the given pages.
func Build(opts Options, pages ...Page) []byte {
	w := writer.NewPdfFileWriter()
	var first generic.Reference
	for i, p := range pages {
		ref, dict := w.AddPage(p.Width, p.Height, []byte(p.Content), nil)
		if p.Rotate != 0 {
			dict.Set("Rotate", generic.IntegerObject(p.Rotate))
		}
		if i == 0 {
			first = ref
		}
	}

	var fields generic.ArrayObject
	for _, name := range opts.FieldNames {
		f := generic.NewDictionary()
		f.Set("FT", generic.NameObject("Tx"))
		f.Set("T", generic.NewTextString(name))
		fields = append(fields, w.AddObject(f))
	}
	if opts.Signed {
		sig := generic.NewDictionary()
		sig.Set("Type", generic.NameObject("Sig"))
		sig.Set("Filter", generic.NameObject("Adobe.PPKLite"))
		sig.Set("SubFilter", generic.NameObject("adbe.pkcs7.detached"))
		sig.Set("ByteRange", generic.ArrayObject{generic.IntegerObject(0), generic.IntegerObject(10), generic.IntegerObject(20), generic.IntegerObject(30)})
		sig.Set("Contents", generic.NewHexString(make([]byte, 8)))
		field := generic.NewDictionary()
		field.Set("Type", generic.NameObject("Annot"))
		field.Set("Subtype", generic.NameObject("Widget"))
		field.Set("FT", generic.NameObject("Sig"))
		field.Set("T", generic.NewTextString("Signature_1"))
		field.Set("Rect", generic.ArrayObject{generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0)})
		field.Set("V", w.AddObject(sig))
		field.Set("P", first)
		fields = append(fields, w.AddObject(field))
	}
	if len(fields) > 0 {
		form := generic.NewDictionary()
		form.Set("Fields", fields)
		if opts.Signed {
			form.Set("SigFlags", generic.IntegerObject(3))
		}
		w.Root.Set("AcroForm", w.AddObject(form))
	}

	data, err := w.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}

// A4 returns an unsigned document of n A4 pages.
func A4(n int) []byte {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = A4Page(i)
	}
	return Build(Options{}, pages...)
}

// SignedA4 returns an n-page A4 document carrying a dummy signature.
func SignedA4(n int) []byte {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = A4Page(i)
	}
	return Build(Options{Signed: true}, pages...)
}

// ObjectStreamPage returns a one-page document indexed by a cross-reference
// stream. Its 200x300 page dictionary (object 3) lives in an object stream.
func ObjectStreamPage() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	header := "3 0 "
	objStm := header + "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 300] >>"
	off4 := buf.Len()
	fmt.Fprintf(&buf, "4 0 obj\n<< /Type /ObjStm /N 1 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(header), len(objStm), objStm)

	off5 := buf.Len()
	rows := [][]byte{
		{0, 0, 0, 0},
		{1, byte(off1 >> 8), byte(off1), 0},
		{1, byte(off2 >> 8), byte(off2), 0},
		{2, 0, 4, 0},
		{1, byte(off4 >> 8), byte(off4), 0},
		{1, byte(off5 >> 8), byte(off5), 0},
	}
	xrefData := bytes.Join(rows, nil)
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /XRef /Size 6 /W [1 2 1] /Root 1 0 R /Length %d >>\nstream\n", len(xrefData))
	buf.Write(xrefData)
	fmt.Fprintf(&buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", off5)
	return buf.Bytes()
}
