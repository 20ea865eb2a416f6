package browser

import (
	"regexp"
	"strings"
)

// labelButtonRegex pulls the label out of phrases like `the "Submit" button`
// or `Save button`.
var labelButtonRegex = regexp.MustCompile(`(?i)(?:the\s+)?['"]?([^'"]+?)['"]?\s+(button|link|tab|icon|menu item|option|checkbox|field)\s*$`)

// coordSuffixRegex strips trailing coordinate hints: "Submit button at
// x=120, y=340" or "Submit (120, 340)".
var coordSuffixRegex = regexp.MustCompile(`(?i)\s*(?:at|near|around)?\s*(?:\(\s*\d+(?:\.\d+)?\s*,\s*\d+(?:\.\d+)?\s*\)|x\s*=\s*\d+(?:\.\d+)?\s*[,;]\s*y\s*=\s*\d+(?:\.\d+)?)\s*$`)

// contextPrepositions split a target into the element label and the region
// that contains it ("Delete in the sidebar" -> "Delete" + "sidebar").
var contextPrepositions = []string{
	" in the ", " on the ", " within the ", " inside the ",
	" in ", " on ", " within ", " inside ", " under ", " next to ", " at the ",
}

// symbolStripRegex removes decorative Unicode (arrows, bullets, emoji) that
// the oracle copies from the screenshot but the DOM rarely contains.
var symbolStripRegex = regexp.MustCompile(`[^\p{L}\p{N}\s'&/.,:;!?$%()-]`)

// iconAriaLabels translates icon descriptions into the accessible names those
// icons conventionally carry. Checked before coordinates so an icon described
// in words still resolves through the accessibility tree.
var iconAriaLabels = map[string]string{
	"hamburger":        "Open navigation menu",
	"hamburger menu":   "Open navigation menu",
	"hamburger icon":   "Open navigation menu",
	"menu icon":        "Open navigation menu",
	"three lines":      "Open navigation menu",
	"x":                "Close",
	"x icon":           "Close",
	"x button":         "Close",
	"close icon":       "Close",
	"cross":            "Close",
	"gear":             "Settings",
	"gear icon":        "Settings",
	"cog":              "Settings",
	"settings icon":    "Settings",
	"magnifying glass": "Search",
	"search icon":      "Search",
	"cart":             "Shopping cart",
	"cart icon":        "Shopping cart",
	"shopping cart":    "Shopping cart",
	"bell":             "Notifications",
	"bell icon":        "Notifications",
	"user icon":        "Account",
	"avatar":           "Account",
	"profile icon":     "Account",
	"person icon":      "Account",
	"heart":            "Favorites",
	"heart icon":       "Favorites",
	"trash":            "Delete",
	"trash icon":       "Delete",
	"bin":              "Delete",
	"plus":             "Add",
	"plus icon":        "Add",
	"plus button":      "Add",
	"back arrow":       "Back",
	"arrow back":       "Back",
	"left arrow":       "Back",
	"three dots":       "More options",
	"ellipsis":         "More options",
	"kebab menu":       "More options",
}

// clickCandidate pairs a label to try with the optional region context used
// for ancestor disambiguation.
type clickCandidate struct {
	Label   string `json:"label"`
	Context string `json:"context,omitempty"`
}

// deriveClickCandidates turns an oracle target phrase into an ordered,
// deduplicated list of labels to resolve against the page. Order encodes
// priority: extracted labels first, the raw phrase last.
func deriveClickCandidates(target string) []clickCandidate {
	trimmed := strings.TrimSpace(target)
	var out []clickCandidate

	add := func(label, context string) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		out = append(out, clickCandidate{Label: label, Context: strings.TrimSpace(context)})
	}

	// Coordinate suffixes never help label matching.
	stripped := strings.TrimSpace(coordSuffixRegex.ReplaceAllString(trimmed, ""))

	// `the "Save" button` -> Save
	var extracted, noun string
	if m := labelButtonRegex.FindStringSubmatch(stripped); m != nil {
		extracted, noun = m[1], strings.ToLower(m[2])
		add(extracted, "")
	}

	if stripped != trimmed {
		add(stripped, "")
	}

	// "Delete in the sidebar" -> primary "Delete" with context "sidebar".
	primary, context := splitContext(stripped)
	if context != "" {
		add(primary, context)
		add(primary, "")
	}

	// Decorative symbols rarely survive into the DOM text.
	if symbolless := strings.TrimSpace(symbolStripRegex.ReplaceAllString(stripped, "")); symbolless != "" && symbolless != stripped {
		add(symbolless, "")
	}

	// Icon descriptions map to conventional accessible names. The extracted
	// label matters for phrases like "hamburger menu icon", where the full
	// target is not a dictionary key but the label without the noun is.
	for _, phrase := range []string{stripped, extracted, primary} {
		if label, ok := iconAriaLabels[strings.ToLower(strings.TrimSpace(phrase))]; ok {
			add(label, "")
		}
	}
	// "settings gear icon": the label itself is compound, but its last word
	// names the icon.
	if noun == "icon" {
		if words := strings.Fields(strings.ToLower(extracted)); len(words) > 0 {
			if label, ok := iconAriaLabels[words[len(words)-1]]; ok {
				add(label, "")
			}
		}
	}

	// The raw phrase goes last: sometimes the oracle quotes the DOM exactly.
	add(trimmed, "")

	return dedupCandidates(out)
}

// splitContext separates "label <preposition> region" into its parts. The
// leading article of the region is dropped.
func splitContext(s string) (primary, context string) {
	lower := strings.ToLower(s)
	for _, prep := range contextPrepositions {
		if idx := strings.Index(lower, prep); idx > 0 {
			primary = s[:idx]
			context = s[idx+len(prep):]
			for _, article := range []string{"the ", "a ", "an "} {
				context = strings.TrimPrefix(context, article)
			}
			return primary, context
		}
	}
	return s, ""
}

// dedupCandidates removes duplicates case-insensitively while preserving the
// priority order of the first occurrence.
func dedupCandidates(in []clickCandidate) []clickCandidate {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, c := range in {
		key := strings.ToLower(c.Label) + "\x00" + strings.ToLower(c.Context)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// dismissKeywords and openMenuKeywords gate the click fast paths.
var dismissKeywords = []string{"dismiss", "close", "got it", "accept", "no thanks", "maybe later"}
var overlayNouns = []string{"modal", "dialog", "popup", "pop-up", "overlay", "banner", "cookie", "notification", "toast"}
var openMenuKeywords = []string{"hamburger", "navigation menu", "menu icon", "open menu", "open the menu"}

// isDismissTarget reports whether the target asks to get rid of an overlay.
func isDismissTarget(target string) bool {
	lower := strings.ToLower(target)
	hasVerb := false
	for _, k := range dismissKeywords {
		if strings.Contains(lower, k) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return false
	}
	for _, n := range overlayNouns {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// isMenuOpenTarget reports whether the target asks to open the main menu.
func isMenuOpenTarget(target string) bool {
	lower := strings.ToLower(target)
	for _, k := range openMenuKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
