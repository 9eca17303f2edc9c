package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minTitleLen   = 3
	maxTitleLen   = 50
	titleWords    = 5
	defaultTitle  = "New Chat"
	titleQuoteSet = "\"'`“”‘’"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "i'm": true, "im": true, "my": true, "me": true,
	"is": true, "am": true, "are": true, "was": true, "have": true, "has": true, "having": true,
	"been": true, "and": true, "or": true, "of": true, "to": true, "in": true, "on": true, "for": true,
	"with": true, "it": true, "its": true, "this": true, "that": true, "so": true, "since": true,
	"hi": true, "hello": true, "hey": true, "please": true, "some": true, "got": true, "feel": true,
	"feeling": true, "do": true, "what": true, "can": true, "you": true,
}

// CleanTitle validates a generated title: surrounding whitespace and quotes
// are removed, and results shorter than 3 or longer than 50 runes are rejected.
func CleanTitle(raw string) (string, bool) {
	t := strings.TrimSpace(raw)
	t = strings.Trim(t, titleQuoteSet)
	t = strings.TrimSpace(t)
	n := utf8.RuneCountInString(t)
	if n < minTitleLen || n > maxTitleLen {
		return "", false
	}
	return t, true
}

// FallbackTitle derives a deterministic title from the first significant
// words of text.
func FallbackTitle(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	var picked []string
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" || stopWords[strings.ToLower(w)] {
			continue
		}
		picked = append(picked, w)
		if len(picked) == titleWords {
			break
		}
	}
	if len(picked) == 0 {
		picked = words
		if len(picked) > titleWords {
			picked = picked[:titleWords]
		}
	}

	title := ""
	for _, w := range picked {
		next := w
		if title != "" {
			next = title + " " + w
		}
		if utf8.RuneCountInString(next) > maxTitleLen {
			break
		}
		title = next
	}
	if title == "" && len(picked) > 0 {
		title = string([]rune(picked[0])[:maxTitleLen])
	}
	if utf8.RuneCountInString(title) < minTitleLen {
		return defaultTitle
	}
	return capitalize(title)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
