package content

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/imzaci/imzala/pdf/generic"
)

func TestBuilderRender(t *testing.T) {
	out := string(NewBuilder().
		SaveState().
		SetFillRGB(0, 0, 1).
		Rectangle(10, 20, 100, 50).
		Fill().
		RestoreState().
		Render())

	for _, want := range []string{"q\n", "0 0 1 rg\n", "10 20 100 50 re\n", "f\n", "Q\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered stream missing %q:\n%s", want, out)
		}
	}
}

func TestParse(t *testing.T) {
	data := []byte("q 1 0 0 1 10.5 -20 cm /Im1 Do Q\n% comment\nBT /F1 12 Tf (a \\) b) Tj [1 (x) 2] TJ ET")
	cs, err := NewParser(data).Parse()
	if err != nil {
		t.Fatal(err)
	}
	var ops []Operator
	for _, op := range cs.Operations {
		ops = append(ops, op.Operator)
	}
	want := []Operator{"q", "cm", "Do", "Q", "BT", "Tf", "Tj", "TJ", "ET"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("operators (-want +got):\n%s", diff)
	}
	cm := cs.Operations[1].Operands
	if len(cm) != 6 || cm[4] != generic.RealObject(10.5) || cm[5] != generic.IntegerObject(-20) {
		t.Errorf("cm operands = %v", cm)
	}
	if cs.Operations[2].Operands[0] != generic.NameObject("Im1") {
		t.Errorf("Do operand = %v", cs.Operations[2].Operands[0])
	}
	if s := cs.Operations[6].Operands[0].(*generic.StringObject); string(s.Value) != "a ) b" {
		t.Errorf("Tj operand = %q", s.Value)
	}
	if arr := cs.Operations[7].Operands[0].(generic.ArrayObject); len(arr) != 3 {
		t.Errorf("TJ operand = %v", arr)
	}
}

func TestParseInlineImage(t *testing.T) {
	data := []byte("q BI /W 2 /H 1 /CS /G /BPC 8 ID \x00EI\xff EI Q")
	cs, err := NewParser(data).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cs.Count(OpEndInlineImage) != 1 || cs.Count(OpRestoreState) != 1 {
		t.Errorf("unexpected operations %v", cs.Operations)
	}
}

func TestDrawImage(t *testing.T) {
	got := string(DrawImage("LogoImg", Matrix{42.5, 0, 0, 20.25, 100, 700.1234}))
	want := "q 42.500 0.000 0.000 20.250 100.000 700.123 cm /LogoImg Do Q"
	if got != want {
		t.Errorf("DrawImage = %q, want %q", got, want)
	}
}

func TestRotateScale(t *testing.T) {
	tests := []struct {
		name  string
		angle float64
	}{
		{"upright", 0},
		{"quarter", 90},
		{"negative quarter", -90},
		{"half", 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := RotateScale(40, 20, 300, 400, tt.angle)
			// The unit square's centre lands on the requested centre.
			x, y := m.Apply(0.5, 0.5)
			if math.Abs(x-300) > 1e-9 || math.Abs(y-400) > 1e-9 {
				t.Errorf("centre = (%v, %v)", x, y)
			}
			// Edge lengths are preserved.
			if w := math.Hypot(m[0], m[1]); math.Abs(w-40) > 1e-9 {
				t.Errorf("width = %v", w)
			}
			if h := math.Hypot(m[2], m[3]); math.Abs(h-20) > 1e-9 {
				t.Errorf("height = %v", h)
			}
		})
	}

	if m := RotateScale(40, 20, 300, 400, 0); m != (Matrix{40, 0, 0, 20, 280, 390}) {
		t.Errorf("upright matrix = %v", m)
	}
}
