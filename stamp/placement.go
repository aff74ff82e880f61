package stamp

import (
	"math"

	"github.com/imzaci/imzala/pdf/content"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/reader"
)

// Placement is where a block lands on a page.
type Placement struct {
	// Top-left corner and centre in the viewer's coordinates (points,
	// origin top-left, after page rotation).
	VisualX, VisualY float64
	CenterX, CenterY float64

	// Centre in page space (origin bottom-left, before rotation).
	PhysX, PhysY float64
	// Angle is the clockwise rotation applied to the image.
	Angle float64

	WidthPt, HeightPt float64
	Matrix            content.Matrix
}

// Place maps a block of widthMM x heightMM onto a page. Coordinates are
// never clamped to the page.
func Place(geom reader.PageGeometry, spec PlacementSpec, widthMM, heightMM float64) Placement {
	w, h := widthMM*PointsPerMM, heightMM*PointsPerMM
	mx, my := spec.MarginXMM*PointsPerMM, spec.MarginYMM*PointsPerMM

	rot := reader.NormalizeRotation(geom.Rotation)
	viewW, viewH := geom.ViewSize()

	var vx, vy float64
	switch spec.Placement {
	case TopLeft:
		vx, vy = mx, my
	case BottomRight:
		vx, vy = viewW-mx-w, viewH-my-h
	case BottomLeft:
		vx, vy = mx, viewH-my-h
	case Center:
		// Margins act as offsets from the middle.
		vx, vy = (viewW-w)/2+mx, (viewH-h)/2+my
	default:
		vx, vy = viewW-mx-w, my
	}
	cx, cy := vx+w/2, vy+h/2

	var px, py, angle float64
	switch rot {
	case 90:
		px, py, angle = cy, cx, -90
	case 180:
		px, py, angle = geom.Width-cx, geom.Height-cy, 180
	case 270:
		px, py, angle = geom.Width-cy, geom.Height-cx, 90
	default:
		px, py, angle = cx, geom.Height-cy, 0
	}

	return Placement{
		VisualX: vx, VisualY: vy,
		CenterX: cx, CenterY: cy,
		PhysX: px, PhysY: py,
		Angle:    angle,
		WidthPt:  w,
		HeightPt: h,
		Matrix:   content.RotateScale(w, h, px, py, angle),
	}
}

// Rect returns the axis-aligned page-space box covered by the image.
func (p Placement) Rect() *generic.Rectangle {
	w, h := p.WidthPt, p.HeightPt
	if math.Mod(math.Abs(p.Angle), 180) == 90 {
		w, h = h, w
	}
	return &generic.Rectangle{
		LLX: p.PhysX - w/2, LLY: p.PhysY - h/2,
		URX: p.PhysX + w/2, URY: p.PhysY + h/2,
	}
}
