package setup

import (
	"reflect"
	"testing"
)

func TestParseConfirmations(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "canonical confirmation",
			text: "Thanks! Setup is complete. Now we speak English, Polish, Portuguese.",
			want: []string{"English", "Polish", "Portuguese"},
		},
		{
			name: "lowercase with trailing punctuation",
			text: "setup is complete. now we speak german, italian!!",
			want: []string{"German", "Italian"},
		},
		{
			name: "embedded in longer reply",
			text: "Great, glad that worked. Setup is complete. Now we speak French, Spanish. Send your message and I'll translate it.",
			want: []string{"French", "Spanish"},
		},
		{
			name: "and-joined list",
			text: "Setup complete! Now we speak English and Japanese",
			want: []string{"English", "Japanese"},
		},
		{
			name: "between phrasing",
			text: "Setup complete. Ready to translate between English and Spanish.",
			want: []string{"English", "Spanish"},
		},
		{
			name: "duplicates removed case-insensitively",
			text: "Setup is complete. Now we speak English, english, POLISH, Polish",
			want: []string{"English", "Polish"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.text)
			if !ok {
				t.Fatalf("Parse(%q) = no match", tc.text)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"plain chat", "Hello, how are you?"},
		{"empty", ""},
		{"whitespace", "   "},
		{"question about setup", "Which languages would you like to set up?"},
		{"confirmation without languages", "Thanks! Setup is complete."},
		{"confirmation with empty list", "Setup is complete. Now we speak ."},
		{"translated text mentioning languages", "In Spain people speak Spanish at home."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, ok := Parse(tc.text); ok {
				t.Fatalf("Parse(%q) = %v, want no match", tc.text, got)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	if got := CodeFor("English"); got != "en" {
		t.Errorf("CodeFor(English) = %q", got)
	}
	if got := CodeFor(" POLISH "); got != "pl" {
		t.Errorf("CodeFor(POLISH) = %q", got)
	}
	if got := CodeFor("Klingon"); got != "klingon" {
		t.Errorf("CodeFor(Klingon) = %q", got)
	}
	codes := Codes([]string{"English", "Polish", "Portuguese"})
	want := []string{"en", "pl", "pt"}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("Codes = %v, want %v", codes, want)
	}
}
