// Package generic provides the PDF object model shared by the reader and
// the writers.
package generic

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PdfObject is implemented by every PDF value.
type PdfObject interface {
	// Write serializes the object in PDF syntax.
	Write(w io.Writer) error
	// Clone returns a deep copy.
	Clone() PdfObject
}

// Reference is an indirect reference "n g R".
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

// NewReference creates a reference.
func NewReference(objNum, genNum int) Reference {
	return Reference{ObjectNumber: objNum, GenerationNumber: genNum}
}

func (r Reference) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.ObjectNumber, r.GenerationNumber)
	return err
}

func (r Reference) Clone() PdfObject { return r }

func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// IndirectObject is an object definition "n g obj ... endobj".
type IndirectObject struct {
	ObjectNumber     int
	GenerationNumber int
	Object           PdfObject
}

// NewIndirectObject creates an indirect object.
func NewIndirectObject(objNum, genNum int, obj PdfObject) *IndirectObject {
	return &IndirectObject{ObjectNumber: objNum, GenerationNumber: genNum, Object: obj}
}

func (i *IndirectObject) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", i.ObjectNumber, i.GenerationNumber); err != nil {
		return err
	}
	if i.Object != nil {
		if err := i.Object.Write(w); err != nil {
			return err
		}
	} else if _, err := io.WriteString(w, "null"); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

func (i *IndirectObject) Clone() PdfObject {
	c := &IndirectObject{ObjectNumber: i.ObjectNumber, GenerationNumber: i.GenerationNumber}
	if i.Object != nil {
		c.Object = i.Object.Clone()
	}
	return c
}

// Reference returns a reference to this object.
func (i *IndirectObject) Reference() Reference {
	return Reference{ObjectNumber: i.ObjectNumber, GenerationNumber: i.GenerationNumber}
}

// NullObject is the PDF null.
type NullObject struct{}

func (NullObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

func (n NullObject) Clone() PdfObject { return n }

// BooleanObject is a PDF boolean.
type BooleanObject bool

func (b BooleanObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatBool(bool(b)))
	return err
}

func (b BooleanObject) Clone() PdfObject { return b }

// IntegerObject is a PDF integer.
type IntegerObject int64

func (i IntegerObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

func (i IntegerObject) Clone() PdfObject { return i }

// RealObject is a PDF real number.
type RealObject float64

func (r RealObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, FormatReal(float64(r)))
	return err
}

func (r RealObject) Clone() PdfObject { return r }

// FormatReal formats f without exponent and without trailing zeros.
func FormatReal(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

// NameObject is a PDF name, stored without the leading slash.
type NameObject string

func (n NameObject) Write(w io.Writer) error {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || c == '#' || IsDelimiter(c) {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (n NameObject) Clone() PdfObject { return n }

// StringObject is a PDF string, literal or hexadecimal.
type StringObject struct {
	Value []byte
	IsHex bool
}

// NewLiteralString creates a literal string.
func NewLiteralString(s string) *StringObject {
	return &StringObject{Value: []byte(s)}
}

// NewHexString creates a hexadecimal string.
func NewHexString(data []byte) *StringObject {
	return &StringObject{Value: data, IsHex: true}
}

// NewTextString creates a text string, UTF-16BE with BOM when s is not
// representable in Latin-1.
func NewTextString(s string) *StringObject {
	wide := false
	for _, r := range s {
		if r > 0xFF {
			wide = true
			break
		}
	}
	if !wide {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return &StringObject{Value: out}
	}
	buf := []byte{0xFE, 0xFF}
	for _, r := range s {
		if r > 0xFFFF {
			r -= 0x10000
			hi, lo := 0xD800+(r>>10), 0xDC00+(r&0x3FF)
			buf = append(buf, byte(hi>>8), byte(hi), byte(lo>>8), byte(lo))
			continue
		}
		buf = append(buf, byte(r>>8), byte(r))
	}
	return &StringObject{Value: buf}
}

func (s *StringObject) Write(w io.Writer) error {
	if s.IsHex {
		_, err := fmt.Fprintf(w, "<%s>", hex.EncodeToString(s.Value))
		return err
	}
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, c := range s.Value {
		switch c {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			if c < 32 || c > 126 {
				fmt.Fprintf(&buf, "\\%03o", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *StringObject) Clone() PdfObject {
	return &StringObject{Value: append([]byte(nil), s.Value...), IsHex: s.IsHex}
}

// Text decodes the string as a PDF text string.
func (s *StringObject) Text() string {
	v := s.Value
	if len(v) >= 2 && v[0] == 0xFE && v[1] == 0xFF {
		units := make([]rune, 0, len(v)/2)
		for i := 2; i+1 < len(v); i += 2 {
			u := rune(v[i])<<8 | rune(v[i+1])
			if u >= 0xD800 && u < 0xDC00 && i+3 < len(v) {
				lo := rune(v[i+2])<<8 | rune(v[i+3])
				u = 0x10000 + (u-0xD800)<<10 + (lo - 0xDC00)
				i += 2
			}
			units = append(units, u)
		}
		return string(units)
	}
	runes := make([]rune, len(v))
	for i, c := range v {
		runes[i] = rune(c)
	}
	return string(runes)
}

// ArrayObject is a PDF array.
type ArrayObject []PdfObject

func (a ArrayObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if err := item.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

func (a ArrayObject) Clone() PdfObject {
	out := make(ArrayObject, len(a))
	for i, item := range a {
		out[i] = item.Clone()
	}
	return out
}

// DictionaryObject is a PDF dictionary preserving insertion order.
type DictionaryObject struct {
	entries map[string]PdfObject
	order   []string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *DictionaryObject {
	return &DictionaryObject{entries: make(map[string]PdfObject)}
}

func (d *DictionaryObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.order {
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := NameObject(key).Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := d.entries[key].Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, " >>")
	return err
}

func (d *DictionaryObject) Clone() PdfObject {
	out := NewDictionary()
	for _, key := range d.order {
		out.Set(key, d.entries[key].Clone())
	}
	return out
}

// Set stores value under key; a nil value deletes the key.
func (d *DictionaryObject) Set(key string, value PdfObject) {
	if value == nil {
		d.Delete(key)
		return
	}
	if _, ok := d.entries[key]; !ok {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the raw value for key, or nil.
func (d *DictionaryObject) Get(key string) PdfObject {
	if d == nil {
		return nil
	}
	return d.entries[key]
}

// Has reports whether key is present.
func (d *DictionaryObject) Has(key string) bool {
	if d == nil {
		return false
	}
	_, ok := d.entries[key]
	return ok
}

// Delete removes key.
func (d *DictionaryObject) Delete(key string) {
	if _, ok := d.entries[key]; !ok {
		return
	}
	delete(d.entries, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *DictionaryObject) Keys() []string {
	return append([]string(nil), d.order...)
}

// SortedKeys returns the keys sorted.
func (d *DictionaryObject) SortedKeys() []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (d *DictionaryObject) Len() int { return len(d.order) }

// GetName returns the name stored under key, or "".
func (d *DictionaryObject) GetName(key string) string {
	if n, ok := d.Get(key).(NameObject); ok {
		return string(n)
	}
	return ""
}

// GetInt returns the integer stored under key.
func (d *DictionaryObject) GetInt(key string) (int64, bool) {
	switch v := d.Get(key).(type) {
	case IntegerObject:
		return int64(v), true
	case RealObject:
		return int64(v), true
	}
	return 0, false
}

// GetNumber returns the number stored under key.
func (d *DictionaryObject) GetNumber(key string) (float64, bool) {
	return ToFloat(d.Get(key))
}

// GetArray returns the array stored under key, or nil.
func (d *DictionaryObject) GetArray(key string) ArrayObject {
	if a, ok := d.Get(key).(ArrayObject); ok {
		return a
	}
	return nil
}

// GetDict returns the dictionary stored under key, or nil.
func (d *DictionaryObject) GetDict(key string) *DictionaryObject {
	if v, ok := d.Get(key).(*DictionaryObject); ok {
		return v
	}
	return nil
}

// StreamObject is a stream: a dictionary and its raw (still encoded) bytes.
type StreamObject struct {
	Dictionary *DictionaryObject
	Data       []byte
}

// NewStream creates a stream.
func NewStream(dict *DictionaryObject, data []byte) *StreamObject {
	if dict == nil {
		dict = NewDictionary()
	}
	return &StreamObject{Dictionary: dict, Data: data}
}

func (s *StreamObject) Write(w io.Writer) error {
	s.Dictionary.Set("Length", IntegerObject(len(s.Data)))
	if err := s.Dictionary.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

func (s *StreamObject) Clone() PdfObject {
	return &StreamObject{
		Dictionary: s.Dictionary.Clone().(*DictionaryObject),
		Data:       append([]byte(nil), s.Data...),
	}
}

// Rectangle is a PDF rectangle normalised so that LL <= UR.
type Rectangle struct {
	LLX, LLY float64
	URX, URY float64
}

// NewRectangle reads a four-number array.
func NewRectangle(arr ArrayObject) (*Rectangle, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("rectangle must have 4 elements, got %d", len(arr))
	}
	var v [4]float64
	for i, obj := range arr {
		f, ok := ToFloat(obj)
		if !ok {
			return nil, fmt.Errorf("rectangle element %d is not a number", i)
		}
		v[i] = f
	}
	r := &Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r, nil
}

// ToArray converts the rectangle to a PDF array.
func (r *Rectangle) ToArray() ArrayObject {
	return ArrayObject{RealObject(r.LLX), RealObject(r.LLY), RealObject(r.URX), RealObject(r.URY)}
}

// Width returns the rectangle width.
func (r *Rectangle) Width() float64 { return r.URX - r.LLX }

// Height returns the rectangle height.
func (r *Rectangle) Height() float64 { return r.URY - r.LLY }

// ToFloat converts a numeric object to float64.
func ToFloat(obj PdfObject) (float64, bool) {
	switch v := obj.(type) {
	case IntegerObject:
		return float64(v), true
	case RealObject:
		return float64(v), true
	}
	return 0, false
}

// Serialize returns the PDF syntax for obj.
func Serialize(obj PdfObject) []byte {
	var buf bytes.Buffer
	_ = obj.Write(&buf)
	return buf.Bytes()
}
