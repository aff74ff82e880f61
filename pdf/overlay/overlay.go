// Package overlay rewrites whole documents with pdfcpu. It backs the
// fallback paths of stamping: merging the stamp image into page content when
// the incremental XObject route fails, and a structural clean-up pass over
// the merged result.
package overlay

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
)

var disableConfigDir sync.Once

// Configuration returns a pdfcpu configuration that tolerates damaged input
// and never touches the user's pdfcpu config directory.
func Configuration() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Stamp positions the stamp image on one page. Coordinates are in points
// in the viewer's space: origin top-left, after page rotation. pdfcpu lays
// watermarks out in that space and undoes /Rotate itself.
type Stamp struct {
	// PageIndex is zero based.
	PageIndex        int
	CenterX, CenterY float64
	WidthPt          float64
	ViewWidth        float64
	ViewHeight       float64
}

// Description renders s as a pdfcpu watermark description for an image
// pixelWidth pixels wide. The image is centred on the stamp centre and
// drawn upright.
func (s Stamp) Description(pixelWidth int) string {
	scale := 1.0
	if pixelWidth > 0 {
		scale = s.WidthPt / float64(pixelWidth)
	}
	// Offsets run from the page centre, y up.
	dx := s.CenterX - s.ViewWidth/2
	dy := s.ViewHeight/2 - s.CenterY
	return fmt.Sprintf("pos:c, off:%.2f %.2f, scale:%.4f abs, rot:0, op:1", dx, dy, scale)
}

// Merger runs pdfcpu operations on files.
type Merger struct {
	conf *model.Configuration
	log  *zap.Logger
}

// NewMerger returns a merger logging to log.
func NewMerger(log *zap.Logger) *Merger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Merger{conf: Configuration(), log: log}
}

// Merge draws the PNG at imagePath onto the pages named by stamps and
// writes the rewritten document to outPath. The output is a new document,
// so it must never be used on signed input.
func (m *Merger) Merge(inPath, outPath, imagePath string, pixelWidth int, stamps []Stamp) error {
	if len(stamps) == 0 {
		return errs.New(errs.XObjectMergeFailed, "no pages to merge").WithPath(inPath)
	}
	byPage := make(map[int]*model.Watermark, len(stamps))
	for _, s := range stamps {
		wm, err := pdfcpu.ParseImageWatermarkDetails(imagePath, s.Description(pixelWidth), true, types.POINTS)
		if err != nil {
			return errs.Wrap(errs.XObjectMergeFailed, err, "parse stamp watermark").WithPath(imagePath)
		}
		byPage[s.PageIndex+1] = wm
	}

	in, err := os.Open(inPath)
	if err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "").WithPath(inPath)
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := api.AddWatermarksMap(in, &buf, byPage, m.conf); err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "merge stamp into pages").WithPath(inPath)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.XObjectMergeFailed, err, "").WithPath(outPath)
	}
	m.log.Debug("stamp merged into page content",
		zap.String("path", outPath),
		zap.Int("pages", len(stamps)))
	return nil
}

// Sanitize rewrites the document at inPath through pdfcpu's optimizer,
// rebuilding the cross-reference table and dropping duplicate resources.
func (m *Merger) Sanitize(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return errs.Wrap(errs.StructuralRepairFailed, err, "").WithPath(inPath)
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := api.Optimize(in, &buf, m.conf); err != nil {
		return errs.Wrap(errs.StructuralRepairFailed, err, "optimize").WithPath(inPath)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.StructuralRepairFailed, err, "").WithPath(outPath)
	}
	return nil
}

// PageCount returns the number of pages pdfcpu sees in rs.
func PageCount(rs io.ReadSeeker) (int, error) {
	return api.PageCount(rs, Configuration())
}
