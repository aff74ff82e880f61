// Package fields describes the signature fields added to documents: their
// placement, generated names and DocMDP certification policy.
package fields

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/imzaci/imzala/pdf/generic"
)

// Common errors
var (
	ErrFieldNameCollision = errors.New("signature field name already exists")
	ErrInvalidFieldSpec   = errors.New("invalid signature field specification")
	ErrUnknownPolicy      = errors.New("unknown permission policy")
)

// Widget annotation flags: Print and Locked.
const widgetFlags = 4 | 128

// SigFlags bits on the interactive form: SignaturesExist and AppendOnly.
const (
	SigFlagSignaturesExist = 1
	SigFlagAppendOnly      = 2
)

// SigFieldSpec specifies a signature field to create. A zero Box makes
// the signature invisible.
type SigFieldSpec struct {
	Name      string
	Box       [4]float64
	PageIndex int
}

// Invisible reports whether the field has no visual extent.
func (s SigFieldSpec) Invisible() bool {
	return s.Box[2]-s.Box[0] == 0 || s.Box[3]-s.Box[1] == 0
}

// Rect returns the field box as a rectangle.
func (s SigFieldSpec) Rect() *generic.Rectangle {
	return &generic.Rectangle{LLX: s.Box[0], LLY: s.Box[1], URX: s.Box[2], URY: s.Box[3]}
}

// BoxFromRect converts a rectangle into a field box.
func BoxFromRect(r *generic.Rectangle) [4]float64 {
	if r == nil {
		return [4]float64{}
	}
	return [4]float64{r.LLX, r.LLY, r.URX, r.URY}
}

// Validate checks the spec against the names already in the document.
func (s SigFieldSpec) Validate(existing map[string]bool) error {
	if s.Name == "" {
		return fmt.Errorf("%w: field name is required", ErrInvalidFieldSpec)
	}
	if strings.Contains(s.Name, ".") {
		return fmt.Errorf("%w: field name %q must not contain '.'", ErrInvalidFieldSpec, s.Name)
	}
	if s.PageIndex < 0 {
		return fmt.Errorf("%w: negative page index %d", ErrInvalidFieldSpec, s.PageIndex)
	}
	if existing[s.Name] {
		return fmt.Errorf("%w: %s", ErrFieldNameCollision, s.Name)
	}
	return nil
}

// NameGenerator produces field names of the form Signature_<unix seconds>.
type NameGenerator struct {
	clock clockwork.Clock
}

// NewNameGenerator returns a generator reading time from clock; nil uses
// the real clock.
func NewNameGenerator(clock clockwork.Clock) *NameGenerator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NameGenerator{clock: clock}
}

// Next returns the name for a signature applied now.
func (g *NameGenerator) Next() string {
	return fmt.Sprintf("Signature_%d", g.clock.Now().Unix())
}

// CreateSignatureField builds a merged signature field and widget
// annotation pointing at the signature value sigRef on page pageRef.
func CreateSignatureField(spec SigFieldSpec, sigRef, pageRef generic.Reference) (*generic.DictionaryObject, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: field name is required", ErrInvalidFieldSpec)
	}
	field := generic.NewDictionary()
	field.Set("Type", generic.NameObject("Annot"))
	field.Set("Subtype", generic.NameObject("Widget"))
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString(spec.Name))
	field.Set("V", sigRef)
	field.Set("P", pageRef)
	field.Set("F", generic.IntegerObject(widgetFlags))
	if spec.Invisible() {
		field.Set("Rect", (&generic.Rectangle{}).ToArray())
	} else {
		field.Set("Rect", spec.Rect().ToArray())
	}
	return field, nil
}

// EnsureSigFlags ORs flags into the form's /SigFlags.
func EnsureSigFlags(acroForm *generic.DictionaryObject, flags int) {
	current := 0
	if f, ok := acroForm.Get("SigFlags").(generic.IntegerObject); ok {
		current = int(f)
	}
	acroForm.Set("SigFlags", generic.IntegerObject(current|flags))
}

// DocMDPPolicy is the DocMDP permission level of a certification
// signature. PolicyNone leaves the document uncertified.
type DocMDPPolicy int

const (
	PolicyNone        DocMDPPolicy = 0
	PolicySigningOnly DocMDPPolicy = 1
	PolicyFormFill    DocMDPPolicy = 2
	PolicyAnnotations DocMDPPolicy = 3
)

var policyCodes = map[string]DocMDPPolicy{
	"":             PolicyNone,
	"none":         PolicyNone,
	"signing_only": PolicySigningOnly,
	"form_fill":    PolicyFormFill,
	"annotations":  PolicyAnnotations,
}

// ParseDocMDPPolicy maps a permission code to its policy.
func ParseDocMDPPolicy(code string) (DocMDPPolicy, error) {
	p, ok := policyCodes[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return PolicyNone, fmt.Errorf("%w: %q", ErrUnknownPolicy, code)
	}
	return p, nil
}

func (p DocMDPPolicy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicySigningOnly:
		return "signing_only"
	case PolicyFormFill:
		return "form_fill"
	case PolicyAnnotations:
		return "annotations"
	}
	return fmt.Sprintf("DocMDPPolicy(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p DocMDPPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DocMDPPolicy) UnmarshalText(text []byte) error {
	v, err := ParseDocMDPPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SignatureReference returns the /Reference array certifying the
// document with this policy, or nil for PolicyNone.
func (p DocMDPPolicy) SignatureReference() generic.ArrayObject {
	if p == PolicyNone {
		return nil
	}
	params := generic.NewDictionary()
	params.Set("Type", generic.NameObject("TransformParams"))
	params.Set("P", generic.IntegerObject(p))
	params.Set("V", generic.NameObject("1.2"))

	ref := generic.NewDictionary()
	ref.Set("Type", generic.NameObject("SigRef"))
	ref.Set("TransformMethod", generic.NameObject("DocMDP"))
	ref.Set("DigestMethod", generic.NameObject("SHA256"))
	ref.Set("TransformParams", params)
	return generic.ArrayObject{ref}
}

// CertificationPolicy reads the DocMDP policy from a signature dictionary's
// /Reference entries. Only direct objects are inspected.
func CertificationPolicy(sig *generic.DictionaryObject) (DocMDPPolicy, bool) {
	for _, item := range sig.GetArray("Reference") {
		ref, ok := item.(*generic.DictionaryObject)
		if !ok || ref.GetName("TransformMethod") != "DocMDP" {
			continue
		}
		p := PolicyFormFill
		if params := ref.GetDict("TransformParams"); params != nil {
			if v, ok := params.GetInt("P"); ok && v >= 1 && v <= 3 {
				p = DocMDPPolicy(v)
			}
		}
		return p, true
	}
	return PolicyNone, false
}
