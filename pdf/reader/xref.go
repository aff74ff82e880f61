package reader

import (
	"fmt"

	"github.com/imzaci/imzala/pdf/filters"
	"github.com/imzaci/imzala/pdf/generic"
)

// parseXRefTable reads a classic "xref" section followed by its trailer.
// Entries already known from a newer section are kept.
func (r *PdfFileReader) parseXRefTable(p *generic.Parser) (*generic.DictionaryObject, error) {
	p.ReadKeyword() // xref
	for {
		p.SkipWhitespace()
		save := p.Pos()
		if kw := p.ReadKeyword(); kw == "trailer" {
			break
		}
		p.Seek(save)

		startObj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: subsection header: %v", ErrInvalidXRef, err)
		}
		count, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: subsection header: %v", ErrInvalidXRef, err)
		}
		start, ok1 := startObj.(generic.IntegerObject)
		n, ok2 := count.(generic.IntegerObject)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: malformed subsection header", ErrInvalidXRef)
		}
		for i := 0; i < int(n); i++ {
			off, err := p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidXRef, int(start)+i, err)
			}
			gen, err := p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidXRef, int(start)+i, err)
			}
			kind := p.ReadKeyword()
			o, _ := off.(generic.IntegerObject)
			g, _ := gen.(generic.IntegerObject)
			num := int(start) + i
			if _, known := r.XRef[num]; known {
				continue
			}
			r.XRef[num] = &XRefEntry{Offset: int64(o), Generation: int(g), InUse: kind == "n"}
		}
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrInvalidXRef, err)
	}
	trailer, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrInvalidXRef)
	}
	return trailer, nil
}

// parseXRefStream reads a cross-reference stream; its dictionary doubles
// as the trailer.
func (r *PdfFileReader) parseXRefStream(p *generic.Parser) (*generic.DictionaryObject, error) {
	p.ResolveLength = r.resolveLength
	ind, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXRef, err)
	}
	stream, ok := ind.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: expected xref stream at object %d", ErrInvalidXRef, ind.ObjectNumber)
	}
	dict := stream.Dictionary
	data, err := filters.Decode(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXRef, err)
	}

	wArr := dict.GetArray("W")
	if len(wArr) != 3 {
		return nil, fmt.Errorf("%w: /W must have 3 entries", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wArr {
		n, _ := v.(generic.IntegerObject)
		w[i] = int(n)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero entry size", ErrInvalidXRef)
	}

	var index []int
	if arr := dict.GetArray("Index"); arr != nil {
		for _, v := range arr {
			n, _ := v.(generic.IntegerObject)
			index = append(index, int(n))
		}
	} else if size, ok := dict.GetInt("Size"); ok {
		index = []int{0, int(size)}
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		for j := 0; j < index[i+1]; j++ {
			if pos+entrySize > len(data) {
				break
			}
			row := data[pos : pos+entrySize]
			pos += entrySize
			num := index[i] + j
			if _, known := r.XRef[num]; known {
				continue
			}
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row, 0, w[0])
			}
			f2 := field(row, w[0], w[1])
			f3 := field(row, w[0]+w[1], w[2])
			switch typ {
			case 1:
				r.XRef[num] = &XRefEntry{Offset: f2, Generation: int(f3), InUse: true}
			case 2:
				r.XRef[num] = &XRefEntry{ObjectStreamRef: int(f2), IndexInStream: int(f3), InUse: true}
			default:
				r.XRef[num] = &XRefEntry{Generation: int(f3)}
			}
		}
	}
	return dict, nil
}

// field reads a big-endian unsigned field.
func field(row []byte, start, width int) int64 {
	var v int64
	for i := 0; i < width && start+i < len(row); i++ {
		v = v<<8 | int64(row[start+i])
	}
	return v
}

// objectFromStream extracts the object at index from an object stream.
func (r *PdfFileReader) objectFromStream(streamNum, index int) (generic.PdfObject, error) {
	obj, err := r.GetObject(streamNum)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", streamNum)
	}
	data, err := filters.Decode(stream)
	if err != nil {
		return nil, err
	}
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if index < 0 || int64(index) >= n || first > int64(len(data)) {
		return nil, fmt.Errorf("index %d out of range in object stream %d", index, streamNum)
	}

	hp := generic.NewParser(data[:first])
	var offset int64 = -1
	for i := 0; i <= index; i++ {
		if _, err := hp.ParseObject(); err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", streamNum, err)
		}
		off, err := hp.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", streamNum, err)
		}
		o, _ := off.(generic.IntegerObject)
		offset = int64(o)
	}
	if first+offset >= int64(len(data)) {
		return nil, fmt.Errorf("object offset out of range in object stream %d", streamNum)
	}
	p := generic.NewParser(data)
	p.Seek(int(first + offset))
	return p.ParseObject()
}
