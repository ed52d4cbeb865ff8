package plugins

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ParseAuthor extracts the name from an npm-style person string.
//
// Grammar:
//
//	person = name [ "<" email ">" ] [ "(" url ")" ]
//
// The name is everything before the first "<" or "(", trimmed. A string
// holding only an email or url yields "".
func ParseAuthor(s string) string {
	if i := strings.IndexAny(s, "<("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// StartCase splits s into words on separators and lower-to-upper case
// changes and capitalizes each word: "plugin-test" -> "Plugin Test",
// "myPlugin" -> "My Plugin".
func StartCase(s string) string {
	words := splitWords(s)
	if len(words) == 0 {
		return ""
	}
	caser := cases.Title(language.Und, cases.NoLower)
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

func splitWords(s string) []string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	var prev rune
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			prev = 0
			continue
		}
		if unicode.IsUpper(r) && prev != 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			flush()
		}
		current = append(current, r)
		prev = r
	}
	flush()
	return words
}
