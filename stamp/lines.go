package stamp

import (
	"strings"
	"time"
)

// Line prefixes.
const (
	SignerLabel  = "İmzalayan:"
	datePrefix   = "Tarih: "
	serialPrefix = "SN: "
)

// SignerLines is the ordered text shown under the logo: label, name, date
// and serial. Empty entries are left out.
type SignerLines []string

// NewSignerLines builds the lines from certificate metadata. The date is
// rendered as dd.mm.yyyy in the location of at.
func NewSignerLines(name, serial string, at time.Time) SignerLines {
	lines := SignerLines{}
	if name != "" {
		lines = append(lines, SignerLabel, name)
	}
	if !at.IsZero() {
		lines = append(lines, datePrefix+at.Format("02.01.2006"))
	}
	if serial != "" {
		lines = append(lines, serialPrefix+serial)
	}
	return lines
}

// Simplified keeps only the date line.
func (l SignerLines) Simplified() SignerLines {
	out := SignerLines{}
	for _, line := range l {
		if strings.HasPrefix(line, "Tarih:") {
			out = append(out, line)
		}
	}
	return out
}
