package writer_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/imzaci/imzala/internal/testpdf"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/pdf/writer"
)

func TestFormatDate(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "D:20240102030405Z"},
		{time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("TRT", 3*3600)), "D:20241231230000+03'00'"},
		{time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("X", -(5*3600 + 30*60))), "D:20240601080000-05'30'"},
	}
	for _, tt := range tests {
		if got := writer.FormatDate(tt.t); got != tt.want {
			t.Errorf("FormatDate(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestNewDocumentRoundTrip(t *testing.T) {
	w := writer.NewPdfFileWriter()
	w.AddPage(300, 400, []byte("0 g 0 0 10 10 re f"), nil)
	w.AddPage(595, 842, nil, nil)
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if r.NumPages() != 2 {
		t.Fatalf("NumPages = %d", r.NumPages())
	}
	g, _ := r.Geometry(0)
	if g.Width != 300 || g.Height != 400 {
		t.Errorf("geometry = %+v", g)
	}

	again, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("serializing twice should give identical output")
	}
}

func TestIncrementalUpdatePreservesOriginal(t *testing.T) {
	orig := testpdf.A4(2)
	r, err := reader.NewPdfFileReaderFromBytes(orig)
	if err != nil {
		t.Fatal(err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	page, _, err := w.Page(1)
	if err != nil {
		t.Fatal(err)
	}
	page.Set("Rotate", generic.IntegerObject(90))

	again, _, _ := w.Page(1)
	if again != page {
		t.Error("Page should return the same mutable copy")
	}

	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, orig) {
		t.Fatal("original bytes were modified")
	}

	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.XRefOffsets) != 2 || r2.XRefOffsets[1] != r.XRefOffsets[0] {
		t.Errorf("xref chain = %v, original %v", r2.XRefOffsets, r.XRefOffsets)
	}
	g0, _ := r2.Geometry(0)
	g1, _ := r2.Geometry(1)
	if g0.Rotation != 0 || g1.Rotation != 90 {
		t.Errorf("rotations = %d, %d", g0.Rotation, g1.Rotation)
	}
}

func TestAcroFormCreated(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.A4(1))
	if err != nil {
		t.Fatal(err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	form, err := w.AcroForm()
	if err != nil {
		t.Fatal(err)
	}
	f := generic.NewDictionary()
	f.Set("FT", generic.NameObject("Sig"))
	f.Set("T", generic.NewTextString("Signature_42"))
	form.Set("Fields", append(form.GetArray("Fields"), w.AddObject(f)))

	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.FieldNames()["Signature_42"] {
		t.Errorf("field not visible after update: %v", r2.FieldNames())
	}
}

func TestWriteWithSignature(t *testing.T) {
	orig := testpdf.A4(1)
	r, err := reader.NewPdfFileReaderFromBytes(orig)
	if err != nil {
		t.Fatal(err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)

	sig := generic.NewDictionary()
	sig.Set("Type", generic.NameObject("Sig"))
	sig.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	ph := w.AddSignaturePlaceholder(sig, 64)

	field := generic.NewDictionary()
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString("Signature_1"))
	field.Set("V", ph.Ref)
	form, _ := w.AcroForm()
	form.Set("Fields", generic.ArrayObject{w.AddObject(field)})

	info, err := w.WriteWithSignature()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(info.Data, orig) {
		t.Fatal("original bytes were modified")
	}
	br := info.ByteRange
	if br[0] != 0 || br[2]+br[3] != int64(len(info.Data)) {
		t.Errorf("byte range %v does not span the file (len %d)", br, len(info.Data))
	}
	if gap := br[2] - br[1]; gap != 64*2+2 {
		t.Errorf("excluded gap = %d, want %d", gap, 64*2+2)
	}
	if info.Data[br[1]] != '<' || info.Data[br[2]-1] != '>' {
		t.Error("byte range gap should be exactly the hex string")
	}
	if len(info.DataToSign()) != len(info.Data)-130 {
		t.Errorf("DataToSign length = %d", len(info.DataToSign()))
	}

	if err := info.Embed(bytes.Repeat([]byte{0xAB}, 10)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(info.Data[info.ContentsOffset:]), strings.Repeat("ab", 10)+"00") {
		t.Error("signature not embedded at contents offset")
	}
	if err := info.Embed(make([]byte, 65)); !errors.Is(err, writer.ErrSignatureTooLarge) {
		t.Errorf("expected ErrSignatureTooLarge, got %v", err)
	}

	r2, err := reader.NewPdfFileReaderFromBytes(info.Data)
	if err != nil {
		t.Fatal(err)
	}
	sigs := r2.EmbeddedSignatures()
	if len(sigs) != 1 || sigs[0].ByteRange != br {
		t.Fatalf("re-read signatures %+v, want byte range %v", sigs, br)
	}
	if len(sigs[0].Contents) != 64 || sigs[0].Contents[0] != 0xAB {
		t.Error("contents not readable after embedding")
	}
}

func TestWriteWithSignatureRequiresPlaceholder(t *testing.T) {
	r, _ := reader.NewPdfFileReaderFromBytes(testpdf.A4(1))
	if _, err := writer.NewIncrementalPdfFileWriter(r).WriteWithSignature(); err == nil {
		t.Error("expected error without placeholder")
	}
}

func TestIncrementalOnReconstructedInput(t *testing.T) {
	data := testpdf.A4(1)
	idx := bytes.LastIndex(data, []byte("startxref"))
	broken := append(append([]byte(nil), data[:idx]...), []byte("startxref\n1\n%%EOF\n")...)

	r, err := reader.NewPdfFileReaderFromBytes(broken)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Reconstructed {
		t.Fatal("fixture should require reconstruction")
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	page, _, _ := w.Page(0)
	page.Set("Rotate", generic.IntegerObject(180))
	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reconstructed {
		t.Error("update section should carry a complete xref")
	}
	if g, _ := r2.Geometry(0); g.Rotation != 180 {
		t.Errorf("rotation = %d", g.Rotation)
	}
}

// lastSection returns the bytes at the final startxref offset.
func lastSection(t *testing.T, data []byte) []byte {
	t.Helper()
	idx := bytes.LastIndex(data, []byte("startxref"))
	var off int
	if _, err := fmt.Sscanf(string(data[idx+len("startxref"):]), "%d", &off); err != nil {
		t.Fatal(err)
	}
	return data[off:]
}

func TestIncrementalKeepsXRefStreamForm(t *testing.T) {
	orig := testpdf.ObjectStreamPage()
	r, err := reader.NewPdfFileReaderFromBytes(orig)
	if err != nil {
		t.Fatal(err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	w.AddObject(generic.NewTextString("ek"))
	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, orig) {
		t.Fatal("original bytes were modified")
	}
	if sec := lastSection(t, out); !bytes.HasPrefix(sec, []byte("7 0 obj")) {
		t.Errorf("update section starts with %q, want an xref stream object", sec[:min(len(sec), 16)])
	}

	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reconstructed || len(r2.XRefOffsets) != 2 || r2.XRefOffsets[1] != r.XRefOffsets[0] {
		t.Errorf("xref chain = %v, original %v", r2.XRefOffsets, r.XRefOffsets)
	}
	if size, _ := r2.Trailer.GetInt("Size"); size != 8 {
		t.Errorf("Size = %d, want 8", size)
	}
	obj, err := r2.GetObject(6)
	if s, ok := obj.(*generic.StringObject); err != nil || !ok || s.Text() != "ek" {
		t.Errorf("new object = %v, %v", obj, err)
	}
	if g, err := r2.Geometry(0); err != nil || g.Width != 200 {
		t.Errorf("compressed page = %+v, %v", g, err)
	}
}

func TestIncrementalOnReconstructedObjectStreams(t *testing.T) {
	data := testpdf.ObjectStreamPage()
	idx := bytes.LastIndex(data, []byte("startxref"))
	broken := append(append([]byte(nil), data[:idx]...), []byte("startxref\n999999\n%%EOF\n")...)

	r, err := reader.NewPdfFileReaderFromBytes(broken)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Reconstructed {
		t.Fatal("fixture should require reconstruction")
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	root, err := w.Root()
	if err != nil {
		t.Fatal(err)
	}
	root.Set("Lang", generic.NewTextString("tr-TR"))
	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reconstructed {
		t.Fatal("update section should carry a complete xref")
	}
	if _, ok := r2.Trailer.GetInt("Prev"); ok {
		t.Error("Prev points at an unusable section")
	}
	if e := r2.XRef[3]; e == nil || e.ObjectStreamRef != 4 {
		t.Errorf("entry for compressed page = %+v", e)
	}
	if g, err := r2.Geometry(0); err != nil || g.Height != 300 {
		t.Errorf("compressed page = %+v, %v", g, err)
	}
	if lang, ok := r2.Root.Get("Lang").(*generic.StringObject); !ok || lang.Text() != "tr-TR" {
		t.Error("catalog update lost")
	}
}
