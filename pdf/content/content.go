// Package content reads and writes PDF content streams and appends
// isolated drawing instructions to existing pages.
package content

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/imzaci/imzala/pdf/generic"
)

// Operator is a content stream operator.
type Operator string

// Operators used when stamping and inspecting pages.
const (
	OpSaveState    Operator = "q"
	OpRestoreState Operator = "Q"
	OpSetCTM       Operator = "cm"
	OpSetGState    Operator = "gs"

	OpRectangle Operator = "re"
	OpFill      Operator = "f"
	OpStroke    Operator = "S"
	OpEndPath   Operator = "n"
	OpClip      Operator = "W"

	OpBeginText Operator = "BT"
	OpEndText   Operator = "ET"
	OpSetFont   Operator = "Tf"
	OpTextMove  Operator = "Td"
	OpShowText  Operator = "Tj"

	OpSetFillRGB  Operator = "rg"
	OpSetFillGray Operator = "g"

	OpPaintXObject Operator = "Do"

	OpBeginInlineImage Operator = "BI"
	OpBeginImageData   Operator = "ID"
	OpEndInlineImage   Operator = "EI"
)

// Operation is an operator with its operands.
type Operation struct {
	Operator Operator
	Operands []generic.PdfObject
}

// ContentStream is a parsed or generated sequence of operations.
type ContentStream struct {
	Operations []Operation
}

// AddOperation appends an operation.
func (cs *ContentStream) AddOperation(op Operator, operands ...generic.PdfObject) {
	cs.Operations = append(cs.Operations, Operation{Operator: op, Operands: operands})
}

// Count returns how many times op occurs.
func (cs *ContentStream) Count(op Operator) int {
	n := 0
	for _, o := range cs.Operations {
		if o.Operator == op {
			n++
		}
	}
	return n
}

// Render serializes the stream, one operation per line.
func (cs *ContentStream) Render() []byte {
	var buf bytes.Buffer
	for _, op := range cs.Operations {
		for _, operand := range op.Operands {
			operand.Write(&buf)
			buf.WriteByte(' ')
		}
		buf.WriteString(string(op.Operator))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

// Identity is the identity transform.
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// RotateScale returns the matrix that draws a unit square as a w by h box
// centred at (cx, cy), turned clockwise by angle degrees.
func RotateScale(w, h, cx, cy, angle float64) Matrix {
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	a, b := w*cos, -w*sin
	c, d := h*sin, h*cos
	return Matrix{a, b, c, d, cx - (a+c)/2, cy - (b+d)/2}
}

// Apply maps a point through m.
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Builder assembles a content stream.
type Builder struct {
	stream ContentStream
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func reals(vs ...float64) []generic.PdfObject {
	out := make([]generic.PdfObject, len(vs))
	for i, v := range vs {
		out[i] = generic.RealObject(v)
	}
	return out
}

// SaveState emits q.
func (b *Builder) SaveState() *Builder {
	b.stream.AddOperation(OpSaveState)
	return b
}

// RestoreState emits Q.
func (b *Builder) RestoreState() *Builder {
	b.stream.AddOperation(OpRestoreState)
	return b
}

// Transform emits cm.
func (b *Builder) Transform(m Matrix) *Builder {
	b.stream.AddOperation(OpSetCTM, reals(m[:]...)...)
	return b
}

// Rectangle emits re.
func (b *Builder) Rectangle(x, y, w, h float64) *Builder {
	b.stream.AddOperation(OpRectangle, reals(x, y, w, h)...)
	return b
}

// Fill emits f.
func (b *Builder) Fill() *Builder {
	b.stream.AddOperation(OpFill)
	return b
}

// SetFillRGB emits rg.
func (b *Builder) SetFillRGB(r, g, bl float64) *Builder {
	b.stream.AddOperation(OpSetFillRGB, reals(r, g, bl)...)
	return b
}

// PaintXObject emits Do.
func (b *Builder) PaintXObject(name string) *Builder {
	b.stream.AddOperation(OpPaintXObject, generic.NameObject(name))
	return b
}

// Build returns the assembled stream.
func (b *Builder) Build() *ContentStream { return &b.stream }

// Render serializes the assembled stream.
func (b *Builder) Render() []byte { return b.stream.Render() }

// DrawImage returns the isolated instruction that paints the named image
// XObject through m. Operands carry three decimals.
func DrawImage(name string, m Matrix) []byte {
	var buf bytes.Buffer
	buf.WriteString("q ")
	for _, v := range m {
		buf.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
		buf.WriteByte(' ')
	}
	buf.WriteString("cm ")
	generic.NameObject(name).Write(&buf)
	buf.WriteString(" Do Q")
	return buf.Bytes()
}

// Parser tokenizes content streams. Operands are parsed with the object
// parser so numbers, names, strings and arrays come back typed.
type Parser struct {
	p *generic.Parser
}

// NewParser creates a parser over data.
func NewParser(data []byte) *Parser {
	return &Parser{p: generic.NewParser(data)}
}

// Parse reads every operation in the stream.
func (cp *Parser) Parse() (*ContentStream, error) {
	cs := &ContentStream{}
	var operands []generic.PdfObject
	for {
		cp.p.SkipWhitespace()
		if cp.p.AtEOF() {
			break
		}
		start := cp.p.Pos()
		kw := cp.p.ReadKeyword()
		switch {
		case kw == "":
			cp.p.Seek(start)
			obj, err := cp.p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("operand at %d: %w", start, err)
			}
			operands = append(operands, obj)
			continue
		case kw == "true" || kw == "false":
			operands = append(operands, generic.BooleanObject(kw == "true"))
			continue
		case kw == "null":
			operands = append(operands, generic.NullObject{})
			continue
		case isNumeric(kw):
			cp.p.Seek(start)
			obj, err := cp.p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("operand at %d: %w", start, err)
			}
			operands = append(operands, obj)
			continue
		}
		op := Operator(kw)
		cs.AddOperation(op, operands...)
		operands = nil
		if op == OpBeginImageData {
			cp.skipInlineImage()
		}
	}
	return cs, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

// skipInlineImage moves past binary inline image data up to EI.
func (cp *Parser) skipInlineImage() {
	data := cp.p.Data()
	pos := cp.p.Pos() + 1
	for pos+2 <= len(data) {
		if data[pos] == 'E' && data[pos+1] == 'I' &&
			generic.IsWhitespace(data[pos-1]) &&
			(pos+2 == len(data) || generic.IsWhitespace(data[pos+2]) || generic.IsDelimiter(data[pos+2])) {
			cp.p.Seek(pos)
			return
		}
		pos++
	}
	cp.p.Seek(len(data))
}
