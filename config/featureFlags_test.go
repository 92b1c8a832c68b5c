package config

import "testing"

func TestMatchConfidenceThreshold(t *testing.T) {
	cases := []struct {
		env      string
		expected int
	}{
		{"", 70},
		{"85", 85},
		{"0", 0},
		{"100", 100},
		{"101", 70},
		{"-1", 70},
		{"abc", 70},
		{" 60 ", 60},
	}
	for _, c := range cases {
		t.Setenv("MATCH_CONFIDENCE_THRESHOLD", c.env)
		if got := MatchConfidenceThreshold(); got != c.expected {
			t.Fatalf("MATCH_CONFIDENCE_THRESHOLD=%q: expected %d, got %d", c.env, c.expected, got)
		}
	}
}

func TestStrictAmountMatching(t *testing.T) {
	cases := []struct {
		env      string
		expected bool
	}{
		{"", true},
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
	}
	for _, c := range cases {
		t.Setenv("STRICT_AMOUNT_MATCHING", c.env)
		if got := StrictAmountMatching(); got != c.expected {
			t.Fatalf("STRICT_AMOUNT_MATCHING=%q: expected %v, got %v", c.env, c.expected, got)
		}
	}
}
