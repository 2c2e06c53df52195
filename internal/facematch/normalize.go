package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// CleanDisplayName trims, NFC-normalizes and collapses inner whitespace.
// The result is what gets stored as an identity's display name.
func CleanDisplayName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// NormalizeName folds a name for comparison (lowercase, no diacritics, spaces for dashes).
func NormalizeName(name string) string {
	name = RemoveDiacritics(CleanDisplayName(name))
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// NameMatches reports whether query is contained in name after folding both.
func NameMatches(name, query string) bool {
	q := NormalizeName(query)
	if q == "" {
		return false
	}
	return strings.Contains(NormalizeName(name), q)
}
