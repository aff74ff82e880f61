package filters

import (
	"bytes"
	"errors"
	"testing"

	"github.com/imzaci/imzala/pdf/generic"
)

func TestFlateRoundTrip(t *testing.T) {
	payload := []byte("q 1 0 0 1 0 0 cm /LogoImg Do Q")
	s := NewFlateStream(nil, payload)
	if s.Dictionary.GetName("Filter") != "FlateDecode" {
		t.Fatal("filter not set")
	}
	got, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decoded %q", got)
	}
}

func TestDeflateDeterministic(t *testing.T) {
	a := Deflate(bytes.Repeat([]byte("abc"), 100))
	b := Deflate(bytes.Repeat([]byte("abc"), 100))
	if !bytes.Equal(a, b) {
		t.Error("Deflate output differs between calls")
	}
}

func TestUnpredictPNG(t *testing.T) {
	// two rows of 3 bytes: row 0 Sub, row 1 Up
	data := []byte{
		1, 1, 1, 1,
		2, 1, 1, 1,
	}
	got, err := unpredictPNG(data, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 2, 3, 4}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := unpredictPNG([]byte{1, 2, 3}, 3, 1); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := unpredictPNG([]byte{9, 0}, 1, 1); err == nil {
		t.Error("expected unknown predictor error")
	}
}

func TestFlateWithPredictorParms(t *testing.T) {
	raw := []byte{2, 5, 6, 2, 1, 1}
	s := generic.NewStream(nil, Deflate(raw))
	s.Dictionary.Set("Filter", generic.NameObject("FlateDecode"))
	parms := generic.NewDictionary()
	parms.Set("Predictor", generic.IntegerObject(12))
	parms.Set("Columns", generic.IntegerObject(2))
	s.Dictionary.Set("DecodeParms", parms)

	got, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{5, 6, 6, 7}; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFilterChain(t *testing.T) {
	s := generic.NewStream(nil, []byte("48656C6C6F>"))
	s.Dictionary.Set("Filter", generic.ArrayObject{generic.NameObject("AHx")})
	got, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello" {
		t.Errorf("got %q", got)
	}
}

func TestASCII85(t *testing.T) {
	got, err := ascii85Filter{}.Decode([]byte("<~87cURDZ~>"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello" {
		t.Errorf("got %q", got)
	}
}

func TestUnsupported(t *testing.T) {
	s := generic.NewStream(nil, []byte{0xFF})
	s.Dictionary.Set("Filter", generic.NameObject("JBIG2Decode"))
	if _, err := Decode(s); !errors.Is(err, ErrUnsupportedFilter) {
		t.Errorf("expected ErrUnsupportedFilter, got %v", err)
	}
}

func TestNoFilter(t *testing.T) {
	s := generic.NewStream(nil, []byte("raw"))
	got, err := Decode(s)
	if err != nil || string(got) != "raw" {
		t.Errorf("got %q, %v", got, err)
	}
}
