package company

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// displaySeparators are Croatian legal-form and ownership markers, checked in
// order. Everything from the first one found (past position 0) is cut.
var displaySeparators = []string{
	"j.d.o.o",
	"jednostavno društvo s ograničenom odgovornošću",
	"d.o.o",
	"društvo sa ograničenom odgovornošću",
	"društvo s ograničenom odgovornošću",
	"društvo s ograničenom odgovoronošću",
	"d.d",
	"dioničko društvo",
	"građevinski obrt",
	"sezonski obrt",
	"soboslikarski obrt",
	"ugostiteljski obrt",
	"zajednički obrt",
	",obrt",
	", obrt",
	"obrt za",
	"pružatelj ugostiteljskih usluga",
	"vl.",
	"vlasnik",
	",",
}

// CleanDisplayName shortens a legal name to a display name by dropping the
// legal form and anything after it. A separator at the very start is
// ignored. Returns name unchanged when nothing useful would remain.
func CleanDisplayName(name string) string {
	cleaned := strings.TrimSpace(name)
	// Rune-for-rune lowering keeps rune offsets aligned with cleaned.
	lower := strings.Map(unicode.ToLower, cleaned)

	for _, sep := range displaySeparators {
		i := strings.Index(lower, sep)
		if i == 0 {
			continue
		}
		if i > 0 {
			n := utf8.RuneCountInString(lower[:i])
			cleaned = strings.Trim(string([]rune(cleaned)[:n]), " ,-")
			break
		}
	}

	if cleaned == "" {
		return name
	}
	return cleaned
}

var (
	// Letters NFKD leaves undecomposed.
	slugLetters = strings.NewReplacer("Đ", "D", "đ", "d", "Ł", "L", "ł", "l", "Ø", "O", "ø", "o", "ß", "ss")
	slugStrip   = regexp.MustCompile(`[^\w\s-]`)
	slugDash    = regexp.MustCompile(`[-\s]+`)
)

// Slugify folds s to lowercase ASCII, drops punctuation and joins words with
// hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	folded, _, err := transform.String(t, slugLetters.Replace(s))
	if err != nil {
		folded = s
	}
	folded = slugStrip.ReplaceAllString(strings.ToLower(folded), "")
	return strings.Trim(slugDash.ReplaceAllString(folded, "-"), "-_")
}

// NewIDName builds a unique-enough public identifier from a display name and
// a random number below 10^12.
func NewIDName(displayName string) string {
	return Slugify(fmt.Sprintf("%s%d", displayName, rand.Int64N(1_000_000_000_000)))
}
