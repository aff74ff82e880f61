package writer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/reader"
)

// Errors returned by the incremental writer.
var (
	ErrNoRoot            = errors.New("document has no catalog")
	ErrSignatureTooLarge = errors.New("signature does not fit the reserved space")
)

// IncrementalPdfFileWriter appends an update section to an existing file.
// Bytes of the original file are never touched: changed objects are
// written again under their old numbers after the original data.
type IncrementalPdfFileWriter struct {
	Reader *reader.PdfFileReader

	objects    map[int]*generic.IndirectObject
	nextObjNum int
	sigRef     *generic.Reference
	sigSize    int
}

// NewIncrementalPdfFileWriter creates a writer on top of r.
func NewIncrementalPdfFileWriter(r *reader.PdfFileReader) *IncrementalPdfFileWriter {
	return &IncrementalPdfFileWriter{
		Reader:     r,
		objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: r.MaxObjectNumber() + 1,
	}
}

// AddObject registers a new object.
func (w *IncrementalPdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	num := w.nextObjNum
	w.nextObjNum++
	w.objects[num] = generic.NewIndirectObject(num, 0, obj)
	return generic.NewReference(num, 0)
}

// UpdateObject replaces the object behind ref in the update section.
func (w *IncrementalPdfFileWriter) UpdateObject(ref generic.Reference, obj generic.PdfObject) {
	w.objects[ref.ObjectNumber] = generic.NewIndirectObject(ref.ObjectNumber, ref.GenerationNumber, obj)
}

// GetObject returns the current version of an object.
func (w *IncrementalPdfFileWriter) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := w.objects[objNum]; ok {
		return obj.Object, nil
	}
	return w.Reader.GetObject(objNum)
}

// Resolve follows references against the current state.
func (w *IncrementalPdfFileWriter) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		next, err := w.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, fmt.Errorf("reference chain too deep")
}

// ResolveDict resolves obj to a dictionary, or nil.
func (w *IncrementalPdfFileWriter) ResolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	v, err := w.Resolve(obj)
	if err != nil {
		return nil
	}
	switch d := v.(type) {
	case *generic.DictionaryObject:
		return d
	case *generic.StreamObject:
		return d.Dictionary
	}
	return nil
}

// Edit returns a mutable copy of the dictionary behind ref, registered for
// rewriting. Repeated calls return the same copy.
func (w *IncrementalPdfFileWriter) Edit(ref generic.Reference) (*generic.DictionaryObject, error) {
	if obj, ok := w.objects[ref.ObjectNumber]; ok {
		if d, ok := obj.Object.(*generic.DictionaryObject); ok {
			return d, nil
		}
		return nil, fmt.Errorf("object %s is not a dictionary", ref)
	}
	obj, err := w.Reader.GetObject(ref.ObjectNumber)
	if err != nil {
		return nil, err
	}
	d, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("object %s is not a dictionary", ref)
	}
	c := d.Clone().(*generic.DictionaryObject)
	w.UpdateObject(ref, c)
	return c, nil
}

// Root returns a mutable copy of the catalog.
func (w *IncrementalPdfFileWriter) Root() (*generic.DictionaryObject, error) {
	ref := w.Reader.RootRef()
	if ref.ObjectNumber == 0 {
		return nil, ErrNoRoot
	}
	return w.Edit(ref)
}

// AcroForm returns a mutable interactive form dictionary, creating one
// when the document has none.
func (w *IncrementalPdfFileWriter) AcroForm() (*generic.DictionaryObject, error) {
	root, err := w.Root()
	if err != nil {
		return nil, err
	}
	switch v := root.Get("AcroForm").(type) {
	case generic.Reference:
		return w.Edit(v)
	case *generic.DictionaryObject:
		return v, nil
	}
	form := generic.NewDictionary()
	form.Set("Fields", generic.ArrayObject{})
	root.Set("AcroForm", w.AddObject(form))
	return form, nil
}

// Page returns a mutable copy of the page dictionary at index.
func (w *IncrementalPdfFileWriter) Page(index int) (*generic.DictionaryObject, generic.Reference, error) {
	page, err := w.Reader.Page(index)
	if err != nil {
		return nil, generic.Reference{}, err
	}
	d, err := w.Edit(page.Ref)
	return d, page.Ref, err
}

// HasChanges reports whether anything would be written.
func (w *IncrementalPdfFileWriter) HasChanges() bool { return len(w.objects) > 0 }

// Write appends the update section to the original data.
func (w *IncrementalPdfFileWriter) Write(out io.Writer) error {
	data, _, err := w.serialize()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Bytes returns the updated document.
func (w *IncrementalPdfFileWriter) Bytes() ([]byte, error) {
	data, _, err := w.serialize()
	return data, err
}

type xrefRow struct {
	num int
	gen int
	// offset holds the containing object stream for compressed rows.
	offset     int64
	compressed bool
}

// serialize returns the full output and, when a signature placeholder was
// registered, the offsets of its ByteRange and Contents tokens.
func (w *IncrementalPdfFileWriter) serialize() ([]byte, *placeholderOffsets, error) {
	var buf bytes.Buffer
	orig := w.Reader.Data()
	buf.Write(orig)
	if len(orig) > 0 && orig[len(orig)-1] != '\n' && orig[len(orig)-1] != '\r' {
		buf.WriteByte('\n')
	}

	nums := make([]int, 0, len(w.objects))
	for n := range w.objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var rows []xrefRow
	var ph *placeholderOffsets
	for _, n := range nums {
		obj := w.objects[n]
		rows = append(rows, xrefRow{num: n, gen: obj.GenerationNumber, offset: int64(buf.Len())})
		if w.sigRef != nil && n == w.sigRef.ObjectNumber {
			p, err := w.writeSignatureObject(&buf, obj)
			if err != nil {
				return nil, nil, err
			}
			ph = p
			continue
		}
		if err := obj.Write(&buf); err != nil {
			return nil, nil, err
		}
	}

	// A file whose xref was rebuilt has no usable previous section, so the
	// update must list every live object itself.
	streamXRefs := w.Reader.HasXRefStream
	if w.Reader.Reconstructed {
		for n, e := range w.Reader.XRef {
			if _, updated := w.objects[n]; updated || !e.InUse {
				continue
			}
			if e.ObjectStreamRef > 0 {
				rows = append(rows, xrefRow{num: n, gen: e.IndexInStream, offset: int64(e.ObjectStreamRef), compressed: true})
				streamXRefs = true
				continue
			}
			rows = append(rows, xrefRow{num: n, gen: e.Generation, offset: e.Offset})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].num < rows[j].num })
	}

	xrefOffset := int64(buf.Len())
	var err error
	if streamXRefs {
		err = w.writeXRefStream(&buf, rows, orig, xrefOffset)
	} else {
		err = w.writeXRefTable(&buf, rows, orig)
	}
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), ph, nil
}

// subsections splits sorted rows into runs of consecutive object numbers.
func subsections(rows []xrefRow) [][]xrefRow {
	var out [][]xrefRow
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].num == rows[j-1].num+1 {
			j++
		}
		out = append(out, rows[i:j])
		i = j
	}
	return out
}

func (w *IncrementalPdfFileWriter) writeXRefTable(buf *bytes.Buffer, rows []xrefRow, orig []byte) error {
	buf.WriteString("xref\n")
	if w.Reader.Reconstructed {
		buf.WriteString("0 1\n0000000000 65535 f \n")
	}
	for _, sub := range subsections(rows) {
		fmt.Fprintf(buf, "%d %d\n", sub[0].num, len(sub))
		for _, row := range sub {
			fmt.Fprintf(buf, "%010d %05d n \n", row.offset, row.gen)
		}
	}
	buf.WriteString("trailer\n")
	return w.trailer(orig, w.nextObjNum).Write(buf)
}

// writeXRefStream writes the section as a cross-reference stream, which
// is the only form able to point into object streams. The stream takes
// the next free object number.
func (w *IncrementalPdfFileWriter) writeXRefStream(buf *bytes.Buffer, rows []xrefRow, orig []byte, xrefOffset int64) error {
	xrefNum := w.nextObjNum
	all := make([]xrefRow, 0, len(rows)+2)
	if w.Reader.Reconstructed {
		all = append(all, xrefRow{num: 0, gen: 65535, offset: -1})
	}
	all = append(all, rows...)
	all = append(all, xrefRow{num: xrefNum, offset: xrefOffset})

	var maxField int64
	for _, row := range all {
		maxField = max(maxField, row.offset)
	}
	w2 := 1
	for w2 < 8 && maxField >= 1<<(8*w2) {
		w2++
	}

	var data []byte
	var index generic.ArrayObject
	for _, sub := range subsections(all) {
		index = append(index, generic.IntegerObject(sub[0].num), generic.IntegerObject(len(sub)))
		for _, row := range sub {
			typ, f2 := byte(1), row.offset
			switch {
			case row.offset < 0:
				typ, f2 = 0, 0
			case row.compressed:
				typ = 2
			}
			data = append(data, typ)
			for i := w2 - 1; i >= 0; i-- {
				data = append(data, byte(f2>>(8*i)))
			}
			data = append(data, byte(row.gen>>8), byte(row.gen))
		}
	}

	dict := w.trailer(orig, xrefNum+1)
	dict.Set("Type", generic.NameObject("XRef"))
	dict.Set("W", generic.ArrayObject{generic.IntegerObject(1), generic.IntegerObject(w2), generic.IntegerObject(2)})
	dict.Set("Index", index)
	return generic.NewIndirectObject(xrefNum, 0, filters.NewFlateStream(dict, data)).Write(buf)
}

func (w *IncrementalPdfFileWriter) trailer(orig []byte, size int) *generic.DictionaryObject {
	src := w.Reader.Trailer
	t := generic.NewDictionary()
	t.Set("Size", generic.IntegerObject(size))
	t.Set("Root", w.Reader.RootRef())
	if info := src.Get("Info"); info != nil {
		t.Set("Info", info)
	}
	if !w.Reader.Reconstructed && len(w.Reader.XRefOffsets) > 0 {
		t.Set("Prev", generic.IntegerObject(w.Reader.XRefOffsets[0]))
	}

	// The first identifier is permanent; the second changes with every
	// revision and is derived from the revision content.
	var id1 []byte
	if ids := src.GetArray("ID"); len(ids) > 0 {
		if s, ok := ids[0].(*generic.StringObject); ok {
			id1 = s.Value
		}
	}
	h := sha256.New()
	h.Write(orig)
	fmt.Fprintf(h, "%d", w.nextObjNum)
	sum := h.Sum(nil)
	if id1 == nil {
		id1 = sum[16:]
	}
	t.Set("ID", generic.ArrayObject{generic.NewHexString(id1), generic.NewHexString(sum[:16])})
	return t
}
