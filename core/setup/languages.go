package setup

import "strings"

// languageCodes maps lowered display names to ISO 639-1 codes. Names outside
// the table fall back to a lowercased slug so storage stays deterministic.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"polish":     "pl",
	"russian":    "ru",
	"ukrainian":  "uk",
	"belarusian": "be",
	"japanese":   "ja",
	"chinese":    "zh",
	"mandarin":   "zh",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"swedish":    "sv",
	"norwegian":  "no",
	"danish":     "da",
	"finnish":    "fi",
	"czech":      "cs",
	"slovak":     "sk",
	"greek":      "el",
	"hebrew":     "he",
	"turkish":    "tr",
	"thai":       "th",
	"vietnamese": "vi",
	"indonesian": "id",
	"malay":      "ms",
	"romanian":   "ro",
	"hungarian":  "hu",
	"bulgarian":  "bg",
	"serbian":    "sr",
	"croatian":   "hr",
	"slovenian":  "sl",
	"lithuanian": "lt",
	"latvian":    "lv",
	"estonian":   "et",
	"georgian":   "ka",
	"armenian":   "hy",
	"kazakh":     "kk",
	"uzbek":      "uz",
	"persian":    "fa",
	"farsi":      "fa",
	"urdu":       "ur",
	"bengali":    "bn",
	"tamil":      "ta",
	"swahili":    "sw",
	"catalan":    "ca",
	"icelandic":  "is",
	"welsh":      "cy",
	"albanian":   "sq",
	"macedonian": "mk",
	"mongolian":  "mn",
	"nepali":     "ne",
	"khmer":      "km",
	"burmese":    "my",
	"filipino":   "tl",
	"tagalog":    "tl",
}

// CodeFor returns the ISO 639-1 code for a display name, or a lowercased
// slug when the name is not in the table.
func CodeFor(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageCodes[key]; ok {
		return code
	}
	return strings.ReplaceAll(key, " ", "-")
}

// Codes maps a display-name list to codes, preserving order.
func Codes(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, CodeFor(n))
	}
	return out
}
