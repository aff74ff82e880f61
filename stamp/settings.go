package stamp

import (
	"fmt"
	"math"
	"strings"
)

// Placement codes.
const (
	TopRight    = "top-right"
	TopLeft     = "top-left"
	BottomRight = "bottom-right"
	BottomLeft  = "bottom-left"
	Center      = "center"
)

// PointsPerMM converts millimetres to PDF points.
const PointsPerMM = 72.0 / 25.4

// PlacementSpec is the user-controlled stamp layout.
type PlacementSpec struct {
	Placement   string  `json:"placement" mapstructure:"placement"`
	MarginXMM   float64 `json:"margin_x_mm" mapstructure:"margin_x_mm"`
	MarginYMM   float64 `json:"margin_y_mm" mapstructure:"margin_y_mm"`
	FontSizeMM  float64 `json:"width_mm" mapstructure:"width_mm"`
	LogoWidthMM float64 `json:"logo_width_mm" mapstructure:"logo_width_mm"`
	FontFamily  string  `json:"font_family" mapstructure:"font_family"`
	FontStyle   string  `json:"font_style" mapstructure:"font_style"`
}

// DefaultSpec mirrors the desktop defaults.
func DefaultSpec() PlacementSpec {
	return PlacementSpec{
		Placement:   TopRight,
		MarginXMM:   12,
		MarginYMM:   25,
		FontSizeMM:  3,
		LogoWidthMM: 15,
		FontFamily:  "Segoe",
		FontStyle:   "Bold",
	}
}

// SimplifiedSpec is the preset used for the per-page stamp in multi-signer
// mode.
func SimplifiedSpec(base PlacementSpec) PlacementSpec {
	base.Placement = BottomRight
	base.MarginXMM = 5
	base.MarginYMM = 5
	base.FontSizeMM = 4.5
	base.LogoWidthMM = 20
	return base
}

// Validate rejects non-finite values and negative sizes. Margins may be
// negative.
func (s PlacementSpec) Validate() error {
	fields := []struct {
		name     string
		v        float64
		negative bool
	}{
		{"margin_x_mm", s.MarginXMM, true},
		{"margin_y_mm", s.MarginYMM, true},
		{"width_mm", s.FontSizeMM, false},
		{"logo_width_mm", s.LogoWidthMM, false},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s: not a finite number", f.name)
		}
		if !f.negative && f.v < 0 {
			return fmt.Errorf("%s: must not be negative", f.name)
		}
	}
	switch s.Placement {
	case TopRight, TopLeft, BottomRight, BottomLeft, Center, "":
	default:
		return fmt.Errorf("placement: unknown code %q", s.Placement)
	}
	return nil
}

// Bold reports whether the style asks for a bold face.
func (s PlacementSpec) Bold() bool { return strings.Contains(s.FontStyle, "Bold") }

// Italic reports whether the style asks for an italic face.
func (s PlacementSpec) Italic() bool { return strings.Contains(s.FontStyle, "Italic") }
