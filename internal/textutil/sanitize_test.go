package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"Café del Mar: Live!": "Cafe del Mar Live",
		"a/b\\c?d":            "abcd",
		"  ...  ":             "media",
		"Привіт":              "media",
		"ﬁle_name-01.final":   "file_name-01.final",
		"":                    "media",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFileNameTruncates(t *testing.T) {
	long := ""
	for n := 0; n < 50; n++ {
		long += "abcde"
	}
	if got := SanitizeFileName(long); len(got) != maxFileNameBytes {
		t.Fatalf("expected %d bytes, got %d", maxFileNameBytes, len(got))
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := map[string]string{
		"telegram:12345": "telegram_12345",
		"HTTP:Ünïcode":   "http_unicode",
		"   ":            "unknown",
		"::":             "unknown",
	}
	for in, want := range cases {
		if got := SanitizeToken(in); got != want {
			t.Fatalf("SanitizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}
