package reader

import (
	"regexp"

	"github.com/imzaci/imzala/pdf/generic"
)

// EmbeddedSignature is a signed signature field.
type EmbeddedSignature struct {
	FieldName  string
	Field      *generic.DictionaryObject
	Dictionary *generic.DictionaryObject
	ByteRange  [4]int64
	Contents   []byte
}

// SubFilter returns the signature sub-filter.
func (e *EmbeddedSignature) SubFilter() string {
	return e.Dictionary.GetName("SubFilter")
}

// Reason returns the /Reason text, if any.
func (e *EmbeddedSignature) Reason() string {
	if s, ok := e.Dictionary.Get("Reason").(*generic.StringObject); ok {
		return s.Text()
	}
	return ""
}

// FormField is a terminal AcroForm field with its fully qualified name.
type FormField struct {
	Name string
	Dict *generic.DictionaryObject
	Type string
}

// AcroForm returns the interactive form dictionary, or nil.
func (r *PdfFileReader) AcroForm() *generic.DictionaryObject {
	return r.ResolveDict(r.Root.Get("AcroForm"))
}

// Fields lists the terminal form fields. Field type is inherited from
// parent fields.
func (r *PdfFileReader) Fields() []FormField {
	form := r.AcroForm()
	if form == nil {
		return nil
	}
	arr, _ := r.Resolve(form.Get("Fields"))
	roots, _ := arr.(generic.ArrayObject)
	var out []FormField
	seen := make(map[int]bool)
	var visit func(obj generic.PdfObject, prefix, ft string)
	visit = func(obj generic.PdfObject, prefix, ft string) {
		if ref, ok := obj.(generic.Reference); ok {
			if seen[ref.ObjectNumber] {
				return
			}
			seen[ref.ObjectNumber] = true
		}
		d := r.ResolveDict(obj)
		if d == nil {
			return
		}
		name := prefix
		if t, ok := d.Get("T").(*generic.StringObject); ok {
			if name != "" {
				name += "."
			}
			name += t.Text()
		}
		if v := d.GetName("FT"); v != "" {
			ft = v
		}
		kidsObj, _ := r.Resolve(d.Get("Kids"))
		kids, _ := kidsObj.(generic.ArrayObject)
		hasFieldKids := false
		for _, k := range kids {
			if kd := r.ResolveDict(k); kd != nil && kd.Has("T") {
				hasFieldKids = true
				break
			}
		}
		if !hasFieldKids {
			out = append(out, FormField{Name: name, Dict: d, Type: ft})
			return
		}
		for _, k := range kids {
			visit(k, name, ft)
		}
	}
	for _, f := range roots {
		visit(f, "", "")
	}
	return out
}

// FieldNames returns the set of fully qualified field names.
func (r *PdfFileReader) FieldNames() map[string]bool {
	names := make(map[string]bool)
	for _, f := range r.Fields() {
		if f.Name != "" {
			names[f.Name] = true
		}
	}
	return names
}

// EmbeddedSignatures returns the signature fields that carry a value.
func (r *PdfFileReader) EmbeddedSignatures() []*EmbeddedSignature {
	var sigs []*EmbeddedSignature
	for _, f := range r.Fields() {
		if f.Type != "Sig" {
			continue
		}
		v := r.ResolveDict(f.Dict.Get("V"))
		if v == nil {
			continue
		}
		sig := &EmbeddedSignature{FieldName: f.Name, Field: f.Dict, Dictionary: v}
		if br := v.GetArray("ByteRange"); len(br) == 4 {
			for i, item := range br {
				n, _ := generic.ToFloat(item)
				sig.ByteRange[i] = int64(n)
			}
		}
		if c, ok := v.Get("Contents").(*generic.StringObject); ok {
			sig.Contents = c.Value
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

var (
	sigTypeRe   = regexp.MustCompile(`/Type\s*/Sig\b`)
	byteRangeRe = regexp.MustCompile(`/ByteRange\s*\[`)
)

// LooksSigned reports whether the raw bytes contain a signature dictionary.
// It catches signatures the field walk misses, such as orphaned values in
// damaged forms.
func LooksSigned(data []byte) bool {
	return sigTypeRe.Match(data) && byteRangeRe.Match(data)
}

// HasSignatures reports whether the document already carries signatures.
func (r *PdfFileReader) HasSignatures() bool {
	if len(r.EmbeddedSignatures()) > 0 {
		return true
	}
	return LooksSigned(r.data)
}
