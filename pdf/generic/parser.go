package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Parse errors.
var (
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	ErrInvalidObject = errors.New("invalid PDF object")
	ErrInvalidString = errors.New("invalid PDF string")
	ErrInvalidName   = errors.New("invalid PDF name")
	ErrInvalidNumber = errors.New("invalid PDF number")
	ErrInvalidStream = errors.New("invalid PDF stream")
)

// IsWhitespace reports PDF whitespace characters.
func IsWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == 0 || b == '\f'
}

// IsDelimiter reports PDF delimiter characters.
func IsDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// Parser reads PDF objects from a byte slice.
type Parser struct {
	data []byte
	pos  int

	// ResolveLength resolves an indirect /Length. When nil, or when it
	// fails, the stream end is located by searching for "endstream".
	ResolveLength func(ref Reference) (int64, bool)
}

// NewParser creates a parser positioned at the start of data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// Data returns the underlying buffer.
func (p *Parser) Data() []byte { return p.data }

// Seek moves to an absolute offset.
func (p *Parser) Seek(pos int) { p.pos = pos }

// AtEOF reports whether only whitespace and comments remain.
func (p *Parser) AtEOF() bool {
	p.SkipWhitespace()
	return p.pos >= len(p.data)
}

// SkipWhitespace skips whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case IsWhitespace(c):
			p.pos++
		case c == '%':
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// ReadKeyword reads a run of regular characters.
func (p *Parser) ReadKeyword() string {
	p.SkipWhitespace()
	start := p.pos
	for p.pos < len(p.data) && !IsWhitespace(p.data[p.pos]) && !IsDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

func (p *Parser) peek() (byte, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	return p.data[p.pos], true
}

// ParseObject parses the next object. "n g R" sequences become a Reference.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	c, ok := p.peek()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	switch {
	case c == '(':
		return p.parseLiteral()
	case c == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			p.pos += 2
			return p.parseDictBody()
		}
		return p.parseHex()
	case c == '[':
		p.pos++
		return p.parseArrayBody()
	case c == '/':
		return p.parseName()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumberOrReference()
	}
	start := p.pos
	switch kw := p.ReadKeyword(); kw {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	case "":
		p.pos = start
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidObject, c, start)
	default:
		return nil, fmt.Errorf("%w: unexpected keyword %q at offset %d", ErrInvalidObject, kw, start)
	}
}

func (p *Parser) parseLiteral() (*StringObject, error) {
	p.pos++
	var buf bytes.Buffer
	depth := 1
	for {
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated literal", ErrInvalidString)
		}
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
		case '\\':
			if p.pos >= len(p.data) {
				return nil, fmt.Errorf("%w: dangling escape", ErrInvalidString)
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if c, ok := p.peek(); ok && c == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2; i++ {
						d, ok := p.peek()
						if !ok || d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						p.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
			continue
		}
		buf.WriteByte(c)
	}
}

func (p *Parser) parseHex() (*StringObject, error) {
	p.pos++
	end := bytes.IndexByte(p.data[p.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
	}
	digits := make([]byte, 0, end)
	for _, c := range p.data[p.pos : p.pos+end] {
		if !IsWhitespace(c) {
			digits = append(digits, c)
		}
	}
	p.pos += end + 1
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: out, IsHex: true}, nil
}

func (p *Parser) parseName() (NameObject, error) {
	p.pos++
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if IsWhitespace(c) || IsDelimiter(c) {
			break
		}
		p.pos++
		if c == '#' && p.pos+1 < len(p.data) {
			v, err := strconv.ParseUint(string(p.data[p.pos:p.pos+2]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: bad escape", ErrInvalidName)
			}
			buf.WriteByte(byte(v))
			p.pos += 2
			continue
		}
		buf.WriteByte(c)
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseNumber() (PdfObject, error) {
	start := p.pos
	isReal := false
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if c == '.' {
			isReal = true
		} else if !(c >= '0' && c <= '9') && !((c == '-' || c == '+') && p.pos == start) {
			break
		}
		p.pos++
	}
	tok := string(p.data[start:p.pos])
	if isReal {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
		}
		return RealObject(f), nil
	}
	i, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, tok)
	}
	return IntegerObject(i), nil
}

func (p *Parser) parseNumberOrReference() (PdfObject, error) {
	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	num, ok := first.(IntegerObject)
	if !ok || num < 0 {
		return first, nil
	}
	save := p.pos
	p.SkipWhitespace()
	if c, ok := p.peek(); !ok || c < '0' || c > '9' {
		p.pos = save
		return first, nil
	}
	second, err := p.parseNumber()
	gen, isInt := second.(IntegerObject)
	if err != nil || !isInt {
		p.pos = save
		return first, nil
	}
	p.SkipWhitespace()
	if c, ok := p.peek(); ok && c == 'R' {
		next := p.pos + 1
		if next >= len(p.data) || IsWhitespace(p.data[next]) || IsDelimiter(p.data[next]) {
			p.pos = next
			return Reference{ObjectNumber: int(num), GenerationNumber: int(gen)}, nil
		}
	}
	p.pos = save
	return first, nil
}

func (p *Parser) parseArrayBody() (ArrayObject, error) {
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidObject)
		}
		if c == ']' {
			p.pos++
			return arr, nil
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseDictBody() (*DictionaryObject, error) {
	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidObject)
		}
		if c == '>' {
			if p.pos+1 < len(p.data) && p.data[p.pos+1] == '>' {
				p.pos += 2
				return dict, nil
			}
			return nil, fmt.Errorf("%w: stray '>' at offset %d", ErrInvalidObject, p.pos)
		}
		if c != '/' {
			return nil, fmt.Errorf("%w: dictionary key expected at offset %d", ErrInvalidObject, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("value for /%s: %w", key, err)
		}
		if _, isNull := value.(NullObject); isNull {
			continue
		}
		dict.Set(string(key), value)
	}
}

// ParseIndirectObject parses "n g obj <object> [stream ... endstream] endobj".
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.SkipWhitespace()
	start := p.pos
	num, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: object number at offset %d", ErrInvalidObject, start)
	}
	p.SkipWhitespace()
	gen, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: generation at offset %d", ErrInvalidObject, start)
	}
	n, ok1 := num.(IntegerObject)
	g, ok2 := gen.(IntegerObject)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: non-integer object header at offset %d", ErrInvalidObject, start)
	}
	if kw := p.ReadKeyword(); kw != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, kw)
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*DictionaryObject); ok {
		save := p.pos
		if p.ReadKeyword() == "stream" {
			data, err := p.readStreamData(dict)
			if err != nil {
				return nil, err
			}
			obj = &StreamObject{Dictionary: dict, Data: data}
		} else {
			p.pos = save
		}
	}
	save := p.pos
	if p.ReadKeyword() != "endobj" {
		p.pos = save
	}
	return NewIndirectObject(int(n), int(g), obj), nil
}

func (p *Parser) readStreamData(dict *DictionaryObject) ([]byte, error) {
	if p.pos < len(p.data) && p.data[p.pos] == '\r' {
		p.pos++
	}
	if p.pos < len(p.data) && p.data[p.pos] == '\n' {
		p.pos++
	}
	start := p.pos

	length := int64(-1)
	switch v := dict.Get("Length").(type) {
	case IntegerObject:
		length = int64(v)
	case Reference:
		if p.ResolveLength != nil {
			if l, ok := p.ResolveLength(v); ok {
				length = l
			}
		}
	}
	if length >= 0 && start+int(length) <= len(p.data) {
		end := start + int(length)
		probe := NewParser(p.data)
		probe.pos = end
		if probe.ReadKeyword() == "endstream" {
			p.pos = probe.pos
			return p.data[start:end], nil
		}
	}

	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing endstream", ErrInvalidStream)
	}
	end := start + idx
	if end > start && p.data[end-1] == '\n' {
		end--
		if end > start && p.data[end-1] == '\r' {
			end--
		}
	} else if end > start && p.data[end-1] == '\r' {
		end--
	}
	p.pos = start + idx + len("endstream")
	return p.data[start:end], nil
}
