package utils

import "testing"

func TestParseFormattedAmount_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"20000", "20000"},
		{"20,000", "20000"},
		{"MMK 20,000", "20000"},
		{"MMK -20,000", "-20000"},
		{"  ks 1,234.50  ", "1234.5"},
	}
	for _, tc := range cases {
		d, err := ParseFormattedAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseFormattedAmount(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseFormattedAmount(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseFormattedAmount_RejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "MMK", "abc"} {
		if _, err := ParseFormattedAmount(in); err == nil {
			t.Fatalf("ParseFormattedAmount(%q) expected an error", in)
		}
	}
}
