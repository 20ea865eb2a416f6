package browser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/specterhq/specterqa/internal/config"
)

// Coordinate phrases the oracle produces, in order of reliability.
var (
	xyCoordRegex     = regexp.MustCompile(`(?i)x\s*=\s*(\d+(?:\.\d+)?)\s*[,;]\s*y\s*=\s*(\d+(?:\.\d+)?)`)
	parenCoordRegex  = regexp.MustCompile(`\(\s*(\d+(?:\.\d+)?)\s*,\s*(\d+(?:\.\d+)?)\s*\)`)
	approxCoordRegex = regexp.MustCompile(`(?i)(?:approximately|approx\.?|around|near|at)\s+(\d+(?:\.\d+)?)\s*,\s*(\d+(?:\.\d+)?)`)
	bareCoordRegex   = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*,\s*(\d+(?:\.\d+)?)\s*$`)
)

// coordFalsePositiveWords are tokens that make a bare "N, M" string look like
// a coordinate when it is actually prose ("row 3, item 2").
var coordFalsePositiveWords = []string{
	"row", "column", "col", "page", "item", "step", "section", "line", "option", "tab",
}

// parseCoordinates extracts an (x, y) pair from a target phrase. Bare "N, M"
// is only accepted when the string is short and contains no words that
// suggest it is counting UI elements rather than naming pixels.
func parseCoordinates(target string) (x, y float64, ok bool) {
	for _, re := range []*regexp.Regexp{xyCoordRegex, parenCoordRegex, approxCoordRegex} {
		if m := re.FindStringSubmatch(target); m != nil {
			return mustFloat(m[1]), mustFloat(m[2]), true
		}
	}

	if len(target) <= 20 {
		lower := strings.ToLower(target)
		for _, w := range coordFalsePositiveWords {
			if strings.Contains(lower, w) {
				return 0, 0, false
			}
		}
		if m := bareCoordRegex.FindStringSubmatch(target); m != nil {
			return mustFloat(m[1]), mustFloat(m[2]), true
		}
	}
	return 0, 0, false
}

// hasCoordinates reports whether the target contains any coordinate phrase.
func hasCoordinates(target string) bool {
	_, _, ok := parseCoordinates(target)
	return ok
}

// toCSSCoords maps oracle-provided coordinates onto the logical (CSS pixel)
// viewport. Vision models read pixels off the physical screenshot, which on
// scaled displays is larger than the CSS viewport. If both values already fit
// within 110% of the logical viewport they are passed through untouched;
// otherwise both are divided by the device scale factor.
func toCSSCoords(x, y float64, cfg config.BrowserConfig) (float64, float64) {
	maxX := float64(cfg.ViewportWidth) * 1.1
	maxY := float64(cfg.ViewportHeight) * 1.1
	if x <= maxX && y <= maxY {
		return x, y
	}
	dsf := cfg.DeviceScaleFactor
	if dsf <= 0 {
		dsf = 1
	}
	return x / dsf, y / dsf
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
