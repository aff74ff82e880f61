package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/imzaci/imzala/pdf/generic"
)

// byteRangeWidth is the fixed width of the ByteRange token, wide enough
// for four 10-digit offsets.
const byteRangeWidth = 4*10 + 5

type placeholderOffsets struct {
	byteRange int64
	contents  int64
}

// SignaturePlaceholder is a registered signature dictionary whose
// /ByteRange and /Contents are filled in after layout.
type SignaturePlaceholder struct {
	Ref          generic.Reference
	Dict         *generic.DictionaryObject
	ContentsSize int
}

// AddSignaturePlaceholder registers sigDict as the signature value of
// this revision, reserving contentsSize bytes for the CMS blob. Any
// /ByteRange or /Contents already in sigDict are replaced at write time.
func (w *IncrementalPdfFileWriter) AddSignaturePlaceholder(sigDict *generic.DictionaryObject, contentsSize int) *SignaturePlaceholder {
	sigDict.Set("ByteRange", generic.ArrayObject{})
	sigDict.Set("Contents", generic.NewHexString(nil))
	ref := w.AddObject(sigDict)
	w.sigRef = &ref
	w.sigSize = contentsSize
	return &SignaturePlaceholder{Ref: ref, Dict: sigDict, ContentsSize: contentsSize}
}

func (w *IncrementalPdfFileWriter) writeSignatureObject(buf *bytes.Buffer, obj *generic.IndirectObject) (*placeholderOffsets, error) {
	dict, ok := obj.Object.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("signature object %d is not a dictionary", obj.ObjectNumber)
	}
	ph := &placeholderOffsets{}
	fmt.Fprintf(buf, "%d %d obj\n<<", obj.ObjectNumber, obj.GenerationNumber)
	for _, key := range dict.Keys() {
		buf.WriteString(" ")
		if err := generic.NameObject(key).Write(buf); err != nil {
			return nil, err
		}
		buf.WriteString(" ")
		switch key {
		case "ByteRange":
			ph.byteRange = int64(buf.Len())
			buf.WriteString("[" + strings.Repeat(" ", byteRangeWidth-2) + "]")
		case "Contents":
			ph.contents = int64(buf.Len())
			buf.WriteByte('<')
			buf.WriteString(strings.Repeat("0", w.sigSize*2))
			buf.WriteByte('>')
		default:
			if err := dict.Get(key).Write(buf); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteString(" >>\nendobj\n")
	return ph, nil
}

// SignatureInfo is a laid-out document awaiting its signature.
type SignatureInfo struct {
	Data           []byte
	ByteRange      [4]int64
	ContentsOffset int64
	ContentsSize   int
}

// WriteWithSignature lays out the update with the signature placeholder,
// patches the /ByteRange in place and returns the result for signing.
func (w *IncrementalPdfFileWriter) WriteWithSignature() (*SignatureInfo, error) {
	if w.sigRef == nil {
		return nil, fmt.Errorf("no signature placeholder registered")
	}
	data, ph, err := w.serialize()
	if err != nil {
		return nil, err
	}
	if ph == nil {
		return nil, fmt.Errorf("signature placeholder was not written")
	}
	contentsEnd := ph.contents + int64(w.sigSize*2) + 2
	br := [4]int64{0, ph.contents, contentsEnd, int64(len(data)) - contentsEnd}
	token := fmt.Sprintf("[%d %d %d %d]", br[0], br[1], br[2], br[3])
	if len(token) > byteRangeWidth {
		return nil, fmt.Errorf("byte range %s exceeds reserved width", token)
	}
	token += strings.Repeat(" ", byteRangeWidth-len(token))
	copy(data[ph.byteRange:], token)
	return &SignatureInfo{Data: data, ByteRange: br, ContentsOffset: ph.contents + 1, ContentsSize: w.sigSize}, nil
}

// DataToSign returns the bytes covered by the byte range.
func (s *SignatureInfo) DataToSign() []byte {
	out := make([]byte, 0, s.ByteRange[1]+s.ByteRange[3])
	out = append(out, s.Data[s.ByteRange[0]:s.ByteRange[0]+s.ByteRange[1]]...)
	return append(out, s.Data[s.ByteRange[2]:s.ByteRange[2]+s.ByteRange[3]]...)
}

// Reader returns an io.Reader over the signed byte ranges.
func (s *SignatureInfo) Reader() io.Reader {
	return io.MultiReader(
		bytes.NewReader(s.Data[s.ByteRange[0]:s.ByteRange[0]+s.ByteRange[1]]),
		bytes.NewReader(s.Data[s.ByteRange[2]:s.ByteRange[2]+s.ByteRange[3]]),
	)
}

// Embed writes the DER signature into the reserved /Contents space.
func (s *SignatureInfo) Embed(signature []byte) error {
	if len(signature) > s.ContentsSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrSignatureTooLarge, len(signature), s.ContentsSize)
	}
	hex.Encode(s.Data[s.ContentsOffset:], signature)
	return nil
}
