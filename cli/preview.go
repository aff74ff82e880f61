package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/imzaci/imzala/config"
	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/stamp"
)

// PreviewOptions contains options for the preview command.
type PreviewOptions struct {
	SettingsFile string
	LogoPath     string
	Name         string
	Serial       string
	Simplified   bool
	PDF          string
	Page         int
	Rotate       int
	FontDirs     string
	JSON         bool
}

// PreviewReport describes a composed stamp and where it would land.
type PreviewReport struct {
	Output      string  `json:"output,omitempty"`
	Font        string  `json:"font,omitempty"`
	PixelWidth  int     `json:"pixel_width"`
	PixelHeight int     `json:"pixel_height"`
	WidthMM     float64 `json:"width_mm"`
	HeightMM    float64 `json:"height_mm"`
	Page        int     `json:"page"`
	PageWidth   float64 `json:"page_width"`
	PageHeight  float64 `json:"page_height"`
	Rotation    int     `json:"rotation"`
	VisualX     float64 `json:"visual_x"`
	VisualY     float64 `json:"visual_y"`
	PhysX       float64 `json:"phys_x"`
	PhysY       float64 `json:"phys_y"`
	Angle       float64 `json:"angle"`
	Warning     string  `json:"warning,omitempty"`
}

// PreviewCommand implements the 'preview' command.
func PreviewCommand(args []string) {
	previewFlags := flag.NewFlagSet("preview", flag.ExitOnError)

	var opts PreviewOptions

	previewFlags.StringVar(&opts.SettingsFile, "settings", "", "Signature settings file (JSON)")
	previewFlags.StringVar(&opts.LogoPath, "logo", "", "Stamp logo image")
	previewFlags.StringVar(&opts.Name, "name", "AD SOYAD", "Signer name shown on the stamp")
	previewFlags.StringVar(&opts.Serial, "serial", "0", "Certificate serial number shown on the stamp")
	previewFlags.BoolVar(&opts.Simplified, "simplified", false, "Render the date-only stamp used on later pages in multi-signer mode")
	previewFlags.StringVar(&opts.PDF, "pdf", "", "Take the page geometry from this PDF")
	previewFlags.IntVar(&opts.Page, "page", 1, "Page of -pdf to place the stamp on")
	previewFlags.IntVar(&opts.Rotate, "rotate", 0, "Page rotation for an A4 page when -pdf is not given")
	previewFlags.StringVar(&opts.FontDirs, "font-dir", "", "Extra directory searched for fonts")
	previewFlags.BoolVar(&opts.JSON, "json", false, "Output the report in JSON format")

	previewFlags.Usage = func() {
		fmt.Printf("Usage: %s preview [options] <stamp.png>\n\n", os.Args[0])
		fmt.Println("Compose the signature stamp, write it as PNG and report its placement.")
		fmt.Println("")
		fmt.Println("Options:")
		previewFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s preview -logo logo.png -settings imza.json stamp.png\n", os.Args[0])
		fmt.Printf("  %s preview -logo logo.png -pdf belge.pdf -page 2 -json stamp.png\n", os.Args[0])
	}

	if err := previewFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(previewFlags.Args()) < 1 || opts.LogoPath == "" {
		previewFlags.Usage()
		osExit(1)
	}

	report, err := previewStamp(previewFlags.Arg(0), &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			osExit(1)
		}
		return
	}
	if report.Output != "" {
		fmt.Printf("Stamp written to %s\n", report.Output)
		fmt.Printf("  Font:      %s\n", report.Font)
		fmt.Printf("  Size:      %dx%d px, %.1fx%.1f mm\n", report.PixelWidth, report.PixelHeight, report.WidthMM, report.HeightMM)
	} else {
		fmt.Printf("No stamp written, estimated size %.1fx%.1f mm\n", report.WidthMM, report.HeightMM)
	}
	fmt.Printf("  Page %d:    %.1fx%.1f pt, rotated %d\n", report.Page, report.PageWidth, report.PageHeight, report.Rotation)
	fmt.Printf("  On screen: top-left (%.1f, %.1f) pt\n", report.VisualX, report.VisualY)
	fmt.Printf("  In page:   centre (%.1f, %.1f) pt, angle %g\n", report.PhysX, report.PhysY, report.Angle)
	if report.Warning != "" {
		fmt.Printf("  Warning:   %s\n", report.Warning)
	}
}

func previewStamp(output string, opts *PreviewOptions) (*PreviewReport, error) {
	spec, err := config.LoadSignatureSettings(opts.SettingsFile)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if opts.Simplified {
		spec = stamp.SimplifiedSpec(spec)
	}

	report := &PreviewReport{Output: output, Page: opts.Page}
	geom := reader.PageGeometry{Width: reader.A4Width, Height: reader.A4Height, Rotation: opts.Rotate}
	if opts.PDF != "" {
		r, err := reader.Open(opts.PDF)
		if err != nil {
			return nil, fmt.Errorf("failed to read PDF: %w", err)
		}
		if geom, err = r.Geometry(opts.Page - 1); err != nil {
			report.Warning = err.Error()
		}
	}

	var dirs []string
	if opts.FontDirs != "" {
		dirs = composerDirs([]string{opts.FontDirs})
	}
	lines := stamp.NewSignerLines(opts.Name, opts.Serial, time.Now())
	if opts.Simplified {
		lines = lines.Simplified()
	}
	block, err := stamp.NewComposer(dirs, nil).Compose(stamp.ComposeRequest{
		LogoPath:    opts.LogoPath,
		Lines:       lines,
		FontSizeMM:  spec.FontSizeMM,
		LogoWidthMM: spec.LogoWidthMM,
		FontFamily:  spec.FontFamily,
		FontStyle:   spec.FontStyle,
	})
	var widthMM, heightMM float64
	switch {
	case errs.Is(err, errs.StampUnavailable):
		// Report where an estimated block would land; nothing is written.
		widthMM = math.Max(spec.LogoWidthMM, 1)
		heightMM = stamp.EstimateHeightMM(0, spec.FontSizeMM, spec.LogoWidthMM, len(lines))
		report.Output = ""
		report.Warning = err.Error()
	case err != nil:
		return nil, err
	default:
		if err := os.WriteFile(output, block.PNG, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write stamp: %w", err)
		}
		widthMM, heightMM = block.WidthMM, block.HeightMM
		report.Font = block.Font
		report.PixelWidth, report.PixelHeight = block.PixelWidth, block.PixelHeight
	}

	pl := stamp.Place(geom, spec, widthMM, heightMM)
	report.WidthMM, report.HeightMM = widthMM, heightMM
	report.PageWidth, report.PageHeight = geom.Width, geom.Height
	report.Rotation = reader.NormalizeRotation(geom.Rotation)
	report.VisualX, report.VisualY = pl.VisualX, pl.VisualY
	report.PhysX, report.PhysY = pl.PhysX, pl.PhysY
	report.Angle = pl.Angle
	return report, nil
}
