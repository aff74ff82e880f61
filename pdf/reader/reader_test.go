package reader_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/internal/testpdf"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/reader"
)

// assemble writes objects 1..n with a classic xref table.
func assemble(objects []string, trailerExtra string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, trailerExtra, xref)
	return buf.Bytes()
}

func TestReadGeneratedDocument(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.A4(3))
	if err != nil {
		t.Fatalf("NewPdfFileReaderFromBytes: %v", err)
	}
	if r.NumPages() != 3 {
		t.Fatalf("NumPages = %d, want 3", r.NumPages())
	}
	if r.Version != "1.7" {
		t.Errorf("Version = %q", r.Version)
	}
	geom, err := r.Geometry(2)
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if diff := cmp.Diff(reader.PageGeometry{Width: 595, Height: 842}, geom); diff != "" {
		t.Errorf("geometry mismatch (-want +got):\n%s", diff)
	}
	if r.Reconstructed {
		t.Error("valid document should not need reconstruction")
	}
}

func TestInheritedAttributes(t *testing.T) {
	data := assemble([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /Rotate 90 /MediaBox [0 0 612 792] /Resources << /ProcSet [/PDF] >> >>",
		"<< /Type /Page /Parent 2 0 R >>",
		"<< /Type /Page /Parent 2 0 R /Rotate -90 /CropBox [10 10 310 410] >>",
	}, "")
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		page int
		want reader.PageGeometry
	}{
		{0, reader.PageGeometry{Width: 612, Height: 792, Rotation: 90}},
		{1, reader.PageGeometry{Width: 300, Height: 400, Rotation: 270}},
	}
	for _, tt := range tests {
		got, err := r.Geometry(tt.page)
		if err != nil {
			t.Errorf("page %d: %v", tt.page, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("page %d geometry (-want +got):\n%s", tt.page, diff)
		}
	}

	p, _ := r.Page(0)
	if p.Resources == nil || !p.Resources.Has("ProcSet") {
		t.Error("resources not inherited")
	}
	if p.Ref.ObjectNumber != 3 {
		t.Errorf("page ref = %s", p.Ref)
	}
}

func TestGeometryFallsBackToA4(t *testing.T) {
	data := assemble([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 0 0] /Rotate 180 >>",
	}, "")
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	geom, err := r.Geometry(0)
	if !errs.Is(err, errs.PageGeometryUnavailable) {
		t.Errorf("expected PageGeometryUnavailable, got %v", err)
	}
	want := reader.PageGeometry{Width: 595, Height: 842, Rotation: 180}
	if geom != want {
		t.Errorf("geometry = %+v, want %+v", geom, want)
	}

	if _, err := r.Geometry(5); !errs.Is(err, errs.PageGeometryUnavailable) {
		t.Errorf("out of range page should report PageGeometryUnavailable, got %v", err)
	}
}

func TestNormalizeRotation(t *testing.T) {
	tests := map[int]int{0: 0, 90: 90, -90: 270, 450: 90, 360: 0, 45: 0, 200: 180, -450: 270}
	for in, want := range tests {
		if got := reader.NormalizeRotation(in); got != want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestViewSize(t *testing.T) {
	for rot, want := range map[int][2]float64{0: {595, 842}, 90: {842, 595}, 180: {595, 842}, 270: {842, 595}, -90: {842, 595}} {
		w, h := reader.PageGeometry{Width: 595, Height: 842, Rotation: rot}.ViewSize()
		if w != want[0] || h != want[1] {
			t.Errorf("rotation %d: view %gx%g, want %gx%g", rot, w, h, want[0], want[1])
		}
	}
}

func TestXRefStreamAndObjectStream(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.ObjectStreamPage())
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasXRefStream {
		t.Error("HasXRefStream should be set")
	}
	geom, err := r.Geometry(0)
	if err != nil {
		t.Fatal(err)
	}
	if geom.Width != 200 || geom.Height != 300 {
		t.Errorf("geometry = %+v", geom)
	}
}

func TestReconstructBrokenXRef(t *testing.T) {
	data := testpdf.A4(2)
	idx := bytes.LastIndex(data, []byte("startxref"))
	broken := append([]byte(nil), data[:idx]...)
	broken = append(broken, []byte("startxref\n999999\n%%EOF\n")...)

	r, err := reader.NewPdfFileReaderFromBytes(broken)
	if err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}
	if !r.Reconstructed {
		t.Error("Reconstructed should be set")
	}
	if r.NumPages() != 2 {
		t.Errorf("NumPages = %d", r.NumPages())
	}
}

func TestReconstructIndexesObjectStreams(t *testing.T) {
	data := testpdf.ObjectStreamPage()
	idx := bytes.LastIndex(data, []byte("startxref"))
	broken := append(append([]byte(nil), data[:idx]...), []byte("startxref\n999999\n%%EOF\n")...)

	r, err := reader.NewPdfFileReaderFromBytes(broken)
	if err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}
	if !r.Reconstructed || !r.HasXRefStream {
		t.Errorf("reconstructed %v, xref stream %v", r.Reconstructed, r.HasXRefStream)
	}
	want := reader.XRefEntry{InUse: true, ObjectStreamRef: 4, IndexInStream: 0}
	if e := r.XRef[3]; e == nil || *e != want {
		t.Errorf("entry for object 3 = %+v, want %+v", e, want)
	}
	geom, err := r.Geometry(0)
	if err != nil {
		t.Fatal(err)
	}
	if geom.Width != 200 || geom.Height != 300 {
		t.Errorf("geometry = %+v", geom)
	}
}

func TestRejectsGarbage(t *testing.T) {
	if _, err := reader.NewPdfFileReaderFromBytes([]byte("hello world")); !errors.Is(err, reader.ErrInvalidPDF) {
		t.Errorf("expected ErrInvalidPDF, got %v", err)
	}
}

func TestRejectsEncrypted(t *testing.T) {
	data := assemble([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
		"<< /Filter /Standard /V 2 >>",
	}, "/Encrypt 3 0 R ")
	if _, err := reader.NewPdfFileReaderFromBytes(data); !errors.Is(err, reader.ErrEncrypted) {
		t.Errorf("expected ErrEncrypted, got %v", err)
	}
}

func TestSignatureDetection(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.SignedA4(1))
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasSignatures() {
		t.Fatal("signed fixture not detected")
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 1 {
		t.Fatalf("EmbeddedSignatures = %d", len(sigs))
	}
	if sigs[0].FieldName != "Signature_1" || sigs[0].ByteRange != [4]int64{0, 10, 20, 30} {
		t.Errorf("unexpected signature %+v", sigs[0])
	}
	if sigs[0].SubFilter() != "adbe.pkcs7.detached" {
		t.Errorf("SubFilter = %q", sigs[0].SubFilter())
	}

	unsigned, err := reader.NewPdfFileReaderFromBytes(testpdf.Build(testpdf.Options{FieldNames: []string{"Name"}}, testpdf.A4Page(0)))
	if err != nil {
		t.Fatal(err)
	}
	if unsigned.HasSignatures() {
		t.Error("unsigned fixture detected as signed")
	}
	if !unsigned.FieldNames()["Name"] {
		t.Errorf("FieldNames = %v", unsigned.FieldNames())
	}
}

func TestLooksSigned(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{"<< /Type /Sig /ByteRange [0 1 2 3] >>", true},
		{"<</Type/Sig/ByteRange[0 1 2 3]>>", true},
		{"<< /Type /SigRef /ByteRange [0 1 2 3] >>", false},
		{"<< /Type /Sig >>", false},
	}
	for _, tt := range tests {
		if got := reader.LooksSigned([]byte(tt.data)); got != tt.want {
			t.Errorf("LooksSigned(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestHierarchicalFieldNames(t *testing.T) {
	data := assemble([]string{
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [4 0 R] >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] >>",
		"<< /T (parent) /FT /Sig /Kids [5 0 R] >>",
		"<< /T (child) /Parent 4 0 R >>",
	}, "")
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	fields := r.Fields()
	if len(fields) != 1 || fields[0].Name != "parent.child" || fields[0].Type != "Sig" {
		t.Errorf("fields = %+v", fields)
	}
	if r.HasSignatures() {
		t.Error("field without value should not count as signed")
	}
}

func TestResolveDict(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.A4(1))
	if err != nil {
		t.Fatal(err)
	}
	if d := r.ResolveDict(r.RootRef()); d == nil || d.GetName("Type") != "Catalog" {
		t.Error("ResolveDict(root) failed")
	}
	if d := r.ResolveDict(generic.NewReference(999, 0)); d != nil {
		t.Error("missing object should resolve to nil")
	}
}
