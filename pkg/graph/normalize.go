package graph

import (
	"regexp"
	"strings"
)

var stopwords = map[string]struct{}{
	"of": {}, "the": {}, "and": {}, "in": {}, "for": {}, "to": {}, "with": {}, "on": {}, "at": {},
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Label is a normalized entity name and its dedup key.
type Label struct {
	Label string
	Slug  string
}

// Normalize trims and collapses whitespace and title-cases each word. Labels
// longer than three words lose stopwords and are cut to three words. The
// slug is the lowercase label with non-alphanumeric runs replaced by "-".
func Normalize(input string) Label {
	words := strings.Fields(input)
	if len(words) == 0 {
		return Label{Label: "Untitled", Slug: "untitled"}
	}

	for i, w := range words {
		words[i] = titleCase(w)
	}

	if len(words) > 3 {
		kept := make([]string, 0, len(words))
		for _, w := range words {
			if _, stop := stopwords[strings.ToLower(w)]; !stop {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			kept = words
		}
		if len(kept) > 3 {
			kept = kept[:3]
		}
		words = kept
	}

	label := strings.Join(words, " ")
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(label), "-"), "-")
	if slug == "" {
		// punctuation-only labels share one bucket
		slug = "untitled"
	}
	return Label{Label: label, Slug: slug}
}

func titleCase(word string) string {
	r := []rune(word)
	return strings.ToUpper(string(r[:1])) + strings.ToLower(string(r[1:]))
}
