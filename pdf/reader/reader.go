// Package reader parses PDF files: cross-reference data, objects, the page
// tree and existing signatures.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF     = errors.New("invalid PDF file")
	ErrNoXRef         = errors.New("no xref found")
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidXRef    = errors.New("invalid xref")
	ErrEncrypted      = errors.New("encrypted PDF files are not supported")
)

// XRefEntry locates one object.
type XRefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
	// Set for objects stored inside an object stream.
	ObjectStreamRef int
	IndexInStream   int
}

// PdfFileReader is a parsed PDF held in memory.
type PdfFileReader struct {
	data    []byte
	Version string
	Trailer *generic.DictionaryObject
	XRef    map[int]*XRefEntry
	Root    *generic.DictionaryObject

	// XRefOffsets lists xref section offsets, newest first.
	XRefOffsets   []int64
	HasXRefStream bool
	// Reconstructed is set when the xref was rebuilt by scanning the file.
	Reconstructed bool

	objects map[int]generic.PdfObject
	pages   []*Page
}

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// Open reads and parses the file at path.
func Open(path string) (*PdfFileReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewPdfFileReaderFromBytes(data)
}

// NewPdfFileReaderFromBytes parses data.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:    data,
		XRef:    make(map[int]*XRefEntry),
		objects: make(map[int]generic.PdfObject),
	}
	head := data[:min(1024, len(data))]
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidPDF)
	}
	r.Version = string(m[1])

	if err := r.readXRef(); err != nil {
		if rerr := r.reconstruct(); rerr != nil {
			return nil, fmt.Errorf("%w (reconstruction: %v)", err, rerr)
		}
	}
	if r.Trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}
	if err := r.loadCatalog(); err != nil {
		return nil, err
	}
	return r, nil
}

// Data returns the original file bytes.
func (r *PdfFileReader) Data() []byte { return r.data }

func (r *PdfFileReader) readXRef() error {
	idx := bytes.LastIndex(r.data, []byte("startxref"))
	if idx < 0 {
		return ErrNoXRef
	}
	p := generic.NewParser(r.data)
	p.Seek(idx + len("startxref"))
	off, err := p.ParseObject()
	if err != nil {
		return fmt.Errorf("%w: startxref: %v", ErrInvalidXRef, err)
	}
	offset, ok := off.(generic.IntegerObject)
	if !ok {
		return fmt.Errorf("%w: startxref is not an integer", ErrInvalidXRef)
	}

	seen := make(map[int64]bool)
	next := int64(offset)
	for next > 0 || (next == 0 && len(r.XRefOffsets) == 0) {
		if seen[next] {
			break
		}
		seen[next] = true
		if next >= int64(len(r.data)) {
			return fmt.Errorf("%w: offset %d out of range", ErrInvalidXRef, next)
		}
		r.XRefOffsets = append(r.XRefOffsets, next)

		trailer, err := r.readSection(next)
		if err != nil {
			return err
		}
		if r.Trailer == nil {
			r.Trailer = trailer
		}
		if stm, ok := trailer.GetInt("XRefStm"); ok && !seen[stm] {
			seen[stm] = true
			if _, err := r.readSection(stm); err != nil {
				return err
			}
		}
		prev, ok := trailer.GetInt("Prev")
		if !ok {
			break
		}
		next = prev
	}
	if r.Trailer == nil {
		return ErrNoXRef
	}
	return nil
}

func (r *PdfFileReader) readSection(offset int64) (*generic.DictionaryObject, error) {
	p := generic.NewParser(r.data)
	p.Seek(int(offset))
	p.SkipWhitespace()
	if bytes.HasPrefix(r.data[p.Pos():], []byte("xref")) {
		return r.parseXRefTable(p)
	}
	r.HasXRefStream = true
	return r.parseXRefStream(p)
}

// GetObject returns the object with the given number, following the xref.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}
	entry, ok := r.XRef[objNum]
	if !ok || !entry.InUse {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}
	var obj generic.PdfObject
	var err error
	if entry.ObjectStreamRef > 0 {
		obj, err = r.objectFromStream(entry.ObjectStreamRef, entry.IndexInStream)
	} else {
		obj, err = r.objectAt(entry.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) objectAt(offset int64) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrInvalidXRef, offset)
	}
	p := generic.NewParser(r.data)
	p.Seek(int(offset))
	p.ResolveLength = r.resolveLength
	ind, err := p.ParseIndirectObject()
	if err != nil {
		return nil, err
	}
	return ind.Object, nil
}

func (r *PdfFileReader) resolveLength(ref generic.Reference) (int64, bool) {
	obj, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(generic.IntegerObject)
	return int64(n), ok
}

// Resolve follows references until a direct object is reached.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		next, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, fmt.Errorf("%w: reference chain too deep", ErrInvalidPDF)
}

// ResolveDict resolves obj and returns it as a dictionary (the dictionary
// of a stream is accepted), or nil.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	v, err := r.Resolve(obj)
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

// DecodeStream returns the decoded bytes of a stream.
func (r *PdfFileReader) DecodeStream(s *generic.StreamObject) ([]byte, error) {
	return filters.Decode(s)
}

func (r *PdfFileReader) loadCatalog() error {
	rootRef, ok := r.Trailer.Get("Root").(generic.Reference)
	if !ok {
		return fmt.Errorf("%w: trailer has no /Root", ErrInvalidPDF)
	}
	root := r.ResolveDict(rootRef)
	if root == nil {
		return fmt.Errorf("%w: catalog %s unreadable", ErrInvalidPDF, rootRef)
	}
	r.Root = root
	return r.loadPages()
}

// RootRef returns the catalog reference.
func (r *PdfFileReader) RootRef() generic.Reference {
	ref, _ := r.Trailer.Get("Root").(generic.Reference)
	return ref
}

// MaxObjectNumber returns the highest object number the file uses.
func (r *PdfFileReader) MaxObjectNumber() int {
	maxNum := 0
	if size, ok := r.Trailer.GetInt("Size"); ok {
		maxNum = int(size) - 1
	}
	for n := range r.XRef {
		if n > maxNum {
			maxNum = n
		}
	}
	return maxNum
}

var objHeaderRe = regexp.MustCompile(`(?m)(\d+)\s+(\d+)\s+obj\b`)

// reconstruct rebuilds the xref by scanning for object headers. Later
// definitions win, matching incremental update semantics.
func (r *PdfFileReader) reconstruct() error {
	r.XRef = make(map[int]*XRefEntry)
	r.objects = make(map[int]generic.PdfObject)
	r.XRefOffsets = nil
	r.Trailer = nil

	for _, m := range objHeaderRe.FindAllSubmatchIndex(r.data, -1) {
		if m[0] > 0 && !generic.IsWhitespace(r.data[m[0]-1]) {
			continue
		}
		var num, gen int
		fmt.Sscanf(string(r.data[m[2]:m[3]]), "%d", &num)
		fmt.Sscanf(string(r.data[m[4]:m[5]]), "%d", &gen)
		r.XRef[num] = &XRefEntry{Offset: int64(m[0]), Generation: gen, InUse: true}
	}
	if len(r.XRef) == 0 {
		return fmt.Errorf("%w: no objects found", ErrInvalidPDF)
	}
	r.HasXRefStream = r.indexObjectStreams() > 0

	if idx := bytes.LastIndex(r.data, []byte("trailer")); idx >= 0 {
		p := generic.NewParser(r.data)
		p.Seek(idx + len("trailer"))
		if obj, err := p.ParseObject(); err == nil {
			if d, ok := obj.(*generic.DictionaryObject); ok && d.Has("Root") {
				d.Delete("Prev")
				d.Delete("XRefStm")
				r.Trailer = d
			}
		}
	}
	if r.Trailer == nil {
		for num := range r.XRef {
			if d := r.ResolveDict(generic.NewReference(num, 0)); d != nil && d.GetName("Type") == "Catalog" {
				r.Trailer = generic.NewDictionary()
				r.Trailer.Set("Root", generic.NewReference(num, r.XRef[num].Generation))
				break
			}
		}
	}
	if r.Trailer == nil {
		return fmt.Errorf("%w: no catalog found", ErrInvalidPDF)
	}
	r.Trailer.Set("Size", generic.IntegerObject(r.MaxObjectNumber()+1))
	r.Reconstructed = true
	return nil
}

// indexObjectStreams registers the members of every object stream found
// by the scan. Top-level definitions take precedence; among streams the
// one later in the file wins. It returns the number of entries added.
func (r *PdfFileReader) indexObjectStreams() int {
	var streams []int
	for num, e := range r.XRef {
		if e.ObjectStreamRef == 0 {
			streams = append(streams, num)
		}
	}
	sort.Slice(streams, func(i, j int) bool { return r.XRef[streams[i]].Offset < r.XRef[streams[j]].Offset })

	added := 0
	for _, num := range streams {
		obj, err := r.GetObject(num)
		if err != nil {
			continue
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok || stream.Dictionary.GetName("Type") != "ObjStm" {
			continue
		}
		data, err := filters.Decode(stream)
		if err != nil {
			continue
		}
		n, _ := stream.Dictionary.GetInt("N")
		first, _ := stream.Dictionary.GetInt("First")
		if first <= 0 || first > int64(len(data)) {
			continue
		}
		hp := generic.NewParser(data[:first])
		for i := 0; i < int(n); i++ {
			member, err := hp.ParseObject()
			if err != nil {
				break
			}
			if _, err := hp.ParseObject(); err != nil {
				break
			}
			m, ok := member.(generic.IntegerObject)
			if !ok {
				break
			}
			if e, known := r.XRef[int(m)]; known && e.ObjectStreamRef == 0 {
				continue
			}
			if _, known := r.XRef[int(m)]; !known {
				added++
			}
			r.XRef[int(m)] = &XRefEntry{InUse: true, ObjectStreamRef: num, IndexInStream: i}
		}
	}
	return added
}
