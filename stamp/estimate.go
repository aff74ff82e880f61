package stamp

// DefaultEstimatedHeightMM is used when neither logo nor text is known.
const DefaultEstimatedHeightMM = 20.0

// EstimateHeightMM approximates the block height when no stamp could be
// composed. logoAspect is height over width of the logo, zero if unknown.
// The result is a rough layout hint only.
func EstimateHeightMM(logoAspect, fontSizeMM, logoWidthMM float64, lines int) float64 {
	logoH := 0.0
	if logoAspect > 0 {
		logoH = logoAspect * logoWidthMM
	}
	textH := 0.0
	if lines > 0 && fontSizeMM > 0 {
		textH = float64(lines*175+110) / 1000 * fontSizeMM
	}
	if logoH+textH <= 0 {
		return DefaultEstimatedHeightMM
	}
	return logoH + textH
}
