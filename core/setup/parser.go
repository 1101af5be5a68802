// Package setup extracts confirmed language preferences from agent replies.
// The translation agent signals a finished setup dialogue with a short
// confirmation phrase ("Thanks! Setup is complete. Now we speak ..."); this
// package recognizes those phrases and parses the embedded language list.
// It performs no I/O.
package setup

import (
	"regexp"
	"strings"
)

// Confirmation phrases checked as plain substrings of the lowered text.
var confirmationPhrases = []string{
	"setup is complete",
	"setup complete",
	"configuration successful",
	"great! i can now translate",
	"perfect! now i can help you with",
	"excellent! i'm ready to translate",
}

// Contextual patterns checked when no plain phrase matches.
var contextualPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)now we speak\s+[a-z]+`),
	regexp.MustCompile(`(?is)ready for\s+[a-z]+.*translation`),
	regexp.MustCompile(`(?is)send your message and i('|’)?ll translate`),
	regexp.MustCompile(`(?is)send your message and i will translate`),
}

// Extraction patterns tried in order; the first capturing match wins.
var extractPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)now we speak\s+([^.\n!?]+)`),
	regexp.MustCompile(`(?is)translate\s+(?:between\s+)?([A-Za-z]+(?:,\s*[A-Za-z]+)+)`),
	regexp.MustCompile(`(?i)help you with\s+([A-Za-z]+(?:,\s*[A-Za-z]+)*)`),
	regexp.MustCompile(`(?i)ready to translate\s+([A-Za-z]+(?:,\s*[A-Za-z]+)*)`),
	regexp.MustCompile(`(?i)ready for\s+([A-Za-z]+(?:,\s*[A-Za-z]+)*)\s+translation`),
}

// betweenPattern handles "between X and Y" phrasing with exactly two languages.
var betweenPattern = regexp.MustCompile(`(?i)between\s+([A-Za-z]+)\s+and\s+([A-Za-z]+)`)

// listSplitter breaks a captured list on commas, semicolons, and the word "and".
var listSplitter = regexp.MustCompile(`(?i)[,;]|\s+and\s+`)

// trailingSentence strips everything from the first sentence terminator onward.
var trailingSentence = regexp.MustCompile(`[.!?].*$`)

// Filler words that can leak into a captured list but are never languages.
var excludedWords = map[string]struct{}{
	"send": {}, "your": {}, "message": {}, "text": {}, "can": {},
	"help": {}, "translate": {}, "between": {}, "with": {}, "for": {},
	"now": {}, "speak": {}, "we": {},
}

// Parse reports whether text is a setup confirmation and returns the ordered
// language list it carries. The match is case-insensitive and non-anchored:
// the phrase may sit anywhere inside a longer reply. A confirmation with no
// extractable languages is treated as no-match so an empty preference is
// never persisted.
func Parse(text string) ([]string, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	if !isConfirmation(text) {
		return nil, false
	}

	for _, raw := range captureCandidates(text) {
		if names := splitLanguages(raw); len(names) > 0 {
			return names, true
		}
	}
	return nil, false
}

func isConfirmation(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	for _, re := range contextualPatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}

func captureCandidates(text string) []string {
	var out []string
	for _, re := range extractPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if raw := cleanCapture(m[1]); raw != "" {
				out = append(out, raw)
			}
		}
	}
	if m := betweenPattern.FindStringSubmatch(text); m != nil {
		out = append(out, m[1]+", "+m[2])
	}
	return out
}

func cleanCapture(raw string) string {
	raw = trailingSentence.ReplaceAllString(raw, "")
	raw = strings.Trim(raw, ".,:; ")
	if raw == "" || strings.Contains(strings.ToLower(raw), "no languages") {
		return ""
	}
	return raw
}

func splitLanguages(raw string) []string {
	parts := listSplitter.Split(raw, -1)
	seen := make(map[string]struct{}, len(parts))
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.Trim(strings.TrimSpace(p), ".,:; ")
		if len(name) < 2 {
			continue
		}
		if _, skip := excludedWords[strings.ToLower(name)]; skip {
			continue
		}
		name = titleCase(name)
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// titleCase uppercases the first letter of every word and lowers the rest,
// so "german" and "BRAZILIAN PORTUGUESE" normalize consistently.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
