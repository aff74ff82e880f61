// Package filters decodes and encodes PDF stream data.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/imzaci/imzala/pdf/generic"
)

// Errors returned by the filters.
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// Filter is a single stream filter.
type Filter interface {
	Name() string
	Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error)
}

type flate struct{}

func (flate) Name() string { return "FlateDecode" }

func (flate) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	predictor, _ := parms.GetInt("Predictor")
	if predictor < 10 {
		return out, nil
	}
	columns, ok := parms.GetInt("Columns")
	if !ok {
		columns = 1
	}
	colors, ok := parms.GetInt("Colors")
	if !ok {
		colors = 1
	}
	bpc, ok := parms.GetInt("BitsPerComponent")
	if !ok {
		bpc = 8
	}
	bpp := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)
	return unpredictPNG(out, rowLen, bpp)
}

// unpredictPNG reverses PNG row predictors (each row prefixed by a type byte).
func unpredictPNG(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	if rowLen <= 0 || len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: predictor data length %d does not fit row length %d", ErrDecodeFailed, len(data), rowLen)
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		kind := data[r*stride]
		row := append([]byte(nil), data[r*stride+1:(r+1)*stride]...)
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch kind {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: unknown PNG predictor %d", ErrDecodeFailed, kind)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := absInt(p-int(a)), absInt(p-int(b)), absInt(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

type asciiHex struct{}

func (asciiHex) Name() string { return "ASCIIHexDecode" }

func (asciiHex) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	digits := make([]byte, 0, len(data))
	for _, c := range data {
		if c == '>' {
			break
		}
		if !generic.IsWhitespace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

type ascii85Filter struct{}

func (ascii85Filter) Name() string { return "ASCII85Decode" }

func (ascii85Filter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	out := make([]byte, 4*len(data)/5+4)
	n, _, err := ascii85.Decode(out, data, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out[:n], nil
}

var registry = map[string]Filter{
	"FlateDecode":    flate{},
	"Fl":             flate{},
	"ASCIIHexDecode": asciiHex{},
	"AHx":            asciiHex{},
	"ASCII85Decode":  ascii85Filter{},
	"A85":            ascii85Filter{},
}

// Get returns the filter registered under name.
func Get(name string) (Filter, error) {
	if f, ok := registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// Decode applies the /Filter chain declared in the stream dictionary.
func Decode(s *generic.StreamObject) ([]byte, error) {
	var names []string
	var parms []*generic.DictionaryObject
	switch f := s.Dictionary.Get("Filter").(type) {
	case nil:
		return s.Data, nil
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if n, ok := item.(generic.NameObject); ok {
				names = append(names, string(n))
			}
		}
	}
	switch p := s.Dictionary.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		parms = []*generic.DictionaryObject{p}
	case generic.ArrayObject:
		for _, item := range p {
			d, _ := item.(*generic.DictionaryObject)
			parms = append(parms, d)
		}
	}

	data := s.Data
	for i, name := range names {
		f, err := Get(name)
		if err != nil {
			return nil, err
		}
		var parm *generic.DictionaryObject
		if i < len(parms) {
			parm = parms[i]
		}
		if data, err = f.Decode(data, parm); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return data, nil
}

// Deflate compresses data with zlib for a FlateDecode stream.
func Deflate(data []byte) []byte {
	var buf bytes.Buffer
	w, _ := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

// NewFlateStream creates a FlateDecode stream holding data.
func NewFlateStream(dict *generic.DictionaryObject, data []byte) *generic.StreamObject {
	s := generic.NewStream(dict, Deflate(data))
	s.Dictionary.Set("Filter", generic.NameObject("FlateDecode"))
	return s
}
