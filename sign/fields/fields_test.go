package fields

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/imzaci/imzala/pdf/generic"
)

func TestNameGenerator(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	g := NewNameGenerator(clock)
	if got := g.Next(); got != "Signature_1700000000" {
		t.Errorf("Next() = %q", got)
	}
	clock.Advance(3 * time.Second)
	if got := g.Next(); got != "Signature_1700000003" {
		t.Errorf("Next() after advance = %q", got)
	}
}

func TestSigFieldSpecValidate(t *testing.T) {
	existing := map[string]bool{"Signature_1": true}
	tests := []struct {
		name string
		spec SigFieldSpec
		want error
	}{
		{"ok", SigFieldSpec{Name: "Signature_2"}, nil},
		{"collision", SigFieldSpec{Name: "Signature_1"}, ErrFieldNameCollision},
		{"empty", SigFieldSpec{}, ErrInvalidFieldSpec},
		{"dotted", SigFieldSpec{Name: "a.b"}, ErrInvalidFieldSpec},
		{"negative page", SigFieldSpec{Name: "x", PageIndex: -1}, ErrInvalidFieldSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(existing)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateSignatureField(t *testing.T) {
	sigRef := generic.NewReference(10, 0)
	pageRef := generic.NewReference(3, 0)

	visible, err := CreateSignatureField(SigFieldSpec{Name: "Signature_5", Box: [4]float64{10, 20, 110, 70}}, sigRef, pageRef)
	if err != nil {
		t.Fatal(err)
	}
	rect, err := generic.NewRectangle(visible.GetArray("Rect"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([4]float64{10, 20, 110, 70}, BoxFromRect(rect)); diff != "" {
		t.Errorf("Rect mismatch (-want +got):\n%s", diff)
	}
	if visible.GetName("FT") != "Sig" || visible.GetName("Subtype") != "Widget" {
		t.Errorf("unexpected field type: %v %v", visible.GetName("FT"), visible.GetName("Subtype"))
	}
	if visible.Get("V") != sigRef || visible.Get("P") != pageRef {
		t.Errorf("V/P not wired")
	}

	invisible, err := CreateSignatureField(SigFieldSpec{Name: "Signature_6"}, sigRef, pageRef)
	if err != nil {
		t.Fatal(err)
	}
	rect, _ = generic.NewRectangle(invisible.GetArray("Rect"))
	if rect.Width() != 0 || rect.Height() != 0 {
		t.Errorf("invisible field rect = %+v", rect)
	}

	if _, err := CreateSignatureField(SigFieldSpec{}, sigRef, pageRef); !errors.Is(err, ErrInvalidFieldSpec) {
		t.Errorf("empty name: got %v", err)
	}
}

func TestEnsureSigFlags(t *testing.T) {
	form := generic.NewDictionary()
	form.Set("SigFlags", generic.IntegerObject(SigFlagSignaturesExist))
	EnsureSigFlags(form, SigFlagSignaturesExist|SigFlagAppendOnly)
	if got, _ := form.GetInt("SigFlags"); got != 3 {
		t.Errorf("SigFlags = %d, want 3", got)
	}
}

func TestParseDocMDPPolicy(t *testing.T) {
	tests := []struct {
		code string
		want DocMDPPolicy
		err  bool
	}{
		{"signing_only", PolicySigningOnly, false},
		{"form_fill", PolicyFormFill, false},
		{"Annotations", PolicyAnnotations, false},
		{"", PolicyNone, false},
		{"everything", PolicyNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseDocMDPPolicy(tt.code)
			if (err != nil) != tt.err {
				t.Fatalf("err = %v, want error %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("policy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignatureReference(t *testing.T) {
	if PolicyNone.SignatureReference() != nil {
		t.Error("PolicyNone must not certify")
	}
	arr := PolicyFormFill.SignatureReference()
	if len(arr) != 1 {
		t.Fatalf("got %d references", len(arr))
	}
	ref := arr[0].(*generic.DictionaryObject)
	if ref.GetName("TransformMethod") != "DocMDP" {
		t.Errorf("TransformMethod = %q", ref.GetName("TransformMethod"))
	}
	if p, _ := ref.GetDict("TransformParams").GetInt("P"); p != 2 {
		t.Errorf("P = %d, want 2", p)
	}
}

func TestPolicyTextRoundTrip(t *testing.T) {
	var p DocMDPPolicy
	if err := p.UnmarshalText([]byte("annotations")); err != nil {
		t.Fatal(err)
	}
	text, _ := p.MarshalText()
	if string(text) != "annotations" {
		t.Errorf("MarshalText = %q", text)
	}
}

func TestCertificationPolicy(t *testing.T) {
	for _, p := range []DocMDPPolicy{PolicySigningOnly, PolicyFormFill, PolicyAnnotations} {
		sig := generic.NewDictionary()
		sig.Set("Reference", p.SignatureReference())
		got, ok := CertificationPolicy(sig)
		if !ok || got != p {
			t.Errorf("CertificationPolicy(%s) = %s, %v", p, got, ok)
		}
	}
	if _, ok := CertificationPolicy(generic.NewDictionary()); ok {
		t.Error("approval signature reported as certification")
	}
}
