package stamp

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// ResolutionKind tags the outcome of a fallback chain.
type ResolutionKind int

const (
	// Resolved means one of the preferred candidates loaded.
	Resolved ResolutionKind = iota
	// Fallback means only a fallback candidate loaded.
	Fallback
	// Unavailable means nothing loaded.
	Unavailable
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Fallback:
		return "fallback"
	}
	return "unavailable"
}

// Candidate is one entry of a fallback chain.
type Candidate[T any] struct {
	Name string
	Load func() (T, error)
}

// Resolution is the tagged result of ResolveFirstAvailable.
type Resolution[T any] struct {
	Kind   ResolutionKind
	Value  T
	Source string
	// Errors holds the failure of every candidate tried before Source.
	Errors []error
}

// ResolveFirstAvailable evaluates preferred candidates in order, then
// fallbacks, and returns the first that loads.
func ResolveFirstAvailable[T any](preferred, fallbacks []Candidate[T]) Resolution[T] {
	var res Resolution[T]
	for i, chain := range [][]Candidate[T]{preferred, fallbacks} {
		for _, c := range chain {
			v, err := c.Load()
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("%s: %w", c.Name, err))
				continue
			}
			res.Value, res.Source = v, c.Name
			res.Kind = Resolved
			if i == 1 {
				res.Kind = Fallback
			}
			return res
		}
	}
	res.Kind = Unavailable
	return res
}

// turkishProbe must be covered by any accepted font.
const turkishProbe = "ĞÜŞİÖÇğüşıöç"

// familyFiles maps short family names to regular, bold and italic files.
var familyFiles = map[string][3]string{
	"Segoe":   {"segoeui.ttf", "segoeuib.ttf", "segoeuii.ttf"},
	"Arial":   {"arial.ttf", "arialbd.ttf", "ariali.ttf"},
	"Times":   {"times.ttf", "timesbd.ttf", "timesi.ttf"},
	"Verdana": {"verdana.ttf", "verdanab.ttf", "verdanai.ttf"},
	"Tahoma":  {"tahoma.ttf", "tahomabd.ttf", "tahomai.ttf"},
	"Courier": {"cour.ttf", "courbd.ttf", "couri.ttf"},
}

var genericFiles = [3][]string{
	{"DejaVuSans.ttf", "arial.ttf", "LiberationSans-Regular.ttf"},
	{"DejaVuSans-Bold.ttf", "arialbd.ttf", "LiberationSans-Bold.ttf"},
	{"DejaVuSans-Oblique.ttf", "ariali.ttf", "LiberationSans-Italic.ttf"},
}

// DefaultFontDirs returns the platform font directories searched for
// family files.
func DefaultFontDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{filepath.Join(os.Getenv("WINDIR"), "Fonts")}
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{"/Library/Fonts", "/System/Library/Fonts/Supplemental", filepath.Join(home, "Library", "Fonts")}
	}
	home, _ := os.UserHomeDir()
	return []string{
		"/usr/share/fonts/truetype/dejavu",
		"/usr/share/fonts/truetype/msttcorefonts",
		"/usr/share/fonts/truetype/liberation",
		"/usr/share/fonts/TTF",
		"/usr/share/fonts",
		filepath.Join(home, ".fonts"),
	}
}

// fontSet loads and caches parsed font files.
type fontSet struct {
	dirs []string

	mu     sync.Mutex
	parsed map[string]*sfnt.Font
}

func newFontSet(dirs []string) *fontSet {
	return &fontSet{dirs: dirs, parsed: make(map[string]*sfnt.Font)}
}

func (fs *fontSet) locate(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	for _, dir := range fs.dirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("not found in font directories")
}

func (fs *fontSet) parse(key string, load func() ([]byte, error)) (*sfnt.Font, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.parsed[key]; ok {
		return f, nil
	}
	data, err := load()
	if err != nil {
		return nil, err
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := covers(f, turkishProbe); err != nil {
		return nil, err
	}
	fs.parsed[key] = f
	return f, nil
}

func covers(f *sfnt.Font, probe string) error {
	var buf sfnt.Buffer
	for _, r := range probe {
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil {
			return err
		}
		if idx == 0 {
			return fmt.Errorf("no glyph for %q", r)
		}
	}
	return nil
}

func faceAt(f *sfnt.Font, sizePx float64) (font.Face, error) {
	// At 72 DPI one point is one pixel.
	return opentype.NewFace(f, &opentype.FaceOptions{Size: sizePx, DPI: 72, Hinting: font.HintingNone})
}

func (fs *fontSet) fileCandidate(name string, sizePx float64) Candidate[font.Face] {
	return Candidate[font.Face]{
		Name: name,
		Load: func() (font.Face, error) {
			path, err := fs.locate(name)
			if err != nil {
				return nil, err
			}
			f, err := fs.parse(path, func() ([]byte, error) { return os.ReadFile(path) })
			if err != nil {
				return nil, err
			}
			return faceAt(f, sizePx)
		},
	}
}

func (fs *fontSet) embeddedCandidate(name string, ttf []byte, sizePx float64) Candidate[font.Face] {
	return Candidate[font.Face]{
		Name: name,
		Load: func() (font.Face, error) {
			f, err := fs.parse(name, func() ([]byte, error) { return ttf, nil })
			if err != nil {
				return nil, err
			}
			return faceAt(f, sizePx)
		},
	}
}

// styleIndex selects regular (0), bold (1) or italic (2). Italic wins over
// bold.
func styleIndex(style string) int {
	switch {
	case strings.Contains(style, "Italic"):
		return 2
	case strings.Contains(style, "Bold"):
		return 1
	}
	return 0
}

// Resolve builds the fallback chain for family and style at sizePx and
// returns the first face that loads. The chain never ends empty.
func (fs *fontSet) Resolve(family, style string, sizePx float64) Resolution[font.Face] {
	si := styleIndex(style)
	var preferred []Candidate[font.Face]
	family = strings.TrimSpace(family)
	if family != "" {
		base := strings.Fields(family)[0]
		if files, ok := familyFiles[base]; ok {
			if si != 0 {
				preferred = append(preferred, fs.fileCandidate(files[si], sizePx))
			}
			preferred = append(preferred, fs.fileCandidate(files[0], sizePx))
		} else {
			// An unknown family may be a path to a font file.
			preferred = append(preferred, fs.fileCandidate(family, sizePx))
		}
	}

	var fallbacks []Candidate[font.Face]
	for _, name := range genericFiles[si] {
		fallbacks = append(fallbacks, fs.fileCandidate(name, sizePx))
	}
	embedded := [3][]byte{goregular.TTF, gobold.TTF, goitalic.TTF}
	if si == 2 && strings.Contains(style, "Bold") {
		fallbacks = append(fallbacks, fs.embeddedCandidate("gobolditalic", gobolditalic.TTF, sizePx))
	}
	fallbacks = append(fallbacks, fs.embeddedCandidate("go"+[]string{"regular", "bold", "italic"}[si], embedded[si], sizePx))
	fallbacks = append(fallbacks, Candidate[font.Face]{
		Name: "basicfont",
		Load: func() (font.Face, error) { return basicfont.Face7x13, nil },
	})
	return ResolveFirstAvailable(preferred, fallbacks)
}
