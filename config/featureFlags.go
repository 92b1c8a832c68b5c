package config

import (
	"os"
	"strconv"
	"strings"
)

// MatchConfidenceThreshold is the minimum extraction confidence (0-100) a
// remittance needs before automatic matching may move it to AwaitingApproval.
// Below the threshold it lands in Unmatched for manual review.
//
// Set via env:
// - MATCH_CONFIDENCE_THRESHOLD=70
func MatchConfidenceThreshold() int {
	v := strings.TrimSpace(os.Getenv("MATCH_CONFIDENCE_THRESHOLD"))
	if v == "" {
		return 70
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 100 {
		return 70
	}
	return n
}

// StrictAmountMatching makes automatic matching reject a proposal whose
// paid amount exceeds the matched invoice's amount due, leaving the line
// unmatched for manual review.
//
// Set via env:
// - STRICT_AMOUNT_MATCHING=true
func StrictAmountMatching() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_AMOUNT_MATCHING")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
