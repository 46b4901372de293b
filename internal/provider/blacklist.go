package provider

import (
	"regexp"
	"strings"
	"sync"
)

// Blacklisted returns true if any term appears as a whole word
// (case-insensitive) in text. Empty terms are ignored.
//
// Called by every provider's Filter before dedup; a match silently
// discards the listing.
func Blacklisted(text string, terms []string) bool {
	if len(terms) == 0 || text == "" {
		return false
	}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if wordPattern(term).MatchString(text) {
			return true
		}
	}
	return false
}

// patterns caches compiled term patterns; blacklists are checked for every
// listing of every run.
var patterns sync.Map // term → *regexp.Regexp

// wordPattern matches term bounded by non-letter/digit runes. \b is ASCII-only
// in RE2, so the boundaries are spelled out to cover umlauts and accents.
func wordPattern(term string) *regexp.Regexp {
	if re, ok := patterns.Load(term); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(term) + `($|[^\p{L}\p{N}])`)
	actual, _ := patterns.LoadOrStore(term, re)
	return actual.(*regexp.Regexp)
}

// KeepListing is the default Filter used by the bundled providers: the
// listing is kept unless a blacklist term hits its title or description.
func KeepListing(title, description string, blacklist []string) bool {
	return !Blacklisted(title+" "+description, blacklist)
}
