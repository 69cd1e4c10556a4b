// Package pwpolicy estimates password strength on a 0-4 scale, the same
// range zxcvbn uses; zxcvbn has no Go port in the pack or its dependency
// graph, so this package is a from-scratch heuristic estimator built on
// stdlib unicode/strings rather than a wholesale reimplementation of
// zxcvbn's dictionary-and-pattern-matching engine.
package pwpolicy

import (
	"strings"
	"unicode"
)

// MinScore is the minimum Estimate() score required to accept a password.
const MinScore = 3

// commonPasswords is a small seed of the most frequently breached
// passwords; a match caps the score at 0 regardless of length or charset,
// the same short-circuit zxcvbn's dictionary matcher provides.
var commonPasswords = map[string]bool{
	"password": true, "123456": true, "12345678": true, "qwerty": true,
	"111111": true, "123456789": true, "letmein": true, "abc123": true,
	"password1": true, "iloveyou": true, "admin": true, "welcome": true,
	"monkey": true, "dragon": true, "sunshine": true, "princess": true,
}

// Estimate scores password on a 0-4 scale. forbidden is a list of
// account-identifying strings (username, email) that must not appear
// verbatim (case-insensitively) in the password, mirroring zxcvbn's
// user_inputs parameter.
func Estimate(password string, forbidden ...string) int {
	lower := strings.ToLower(password)

	if commonPasswords[lower] {
		return 0
	}
	for _, f := range forbidden {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && strings.Contains(lower, f) {
			return 0
		}
	}
	if hasLongSequentialRun(lower) {
		return 1
	}

	classes := classCount(password)
	length := len([]rune(password))

	var score int
	switch {
	case length < 8:
		score = min(classes-1, 1)
	case length < 10:
		score = min(classes, 2)
	case length < 14:
		score = min(classes+1, 3)
	default:
		score = min(classes+1, 4)
	}
	if score < 0 {
		return 0
	}
	return score
}

// classCount counts how many of {lower, upper, digit, symbol} appear.
func classCount(password string) int {
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	count := 0
	for _, b := range []bool{lower, upper, digit, symbol} {
		if b {
			count++
		}
	}
	return count
}

// hasLongSequentialRun reports whether password contains a run of 4 or more
// ascending/descending consecutive characters (e.g. "abcd", "4321"), a cheap
// stand-in for zxcvbn's sequence matcher.
func hasLongSequentialRun(password string) bool {
	runes := []rune(password)
	ascending, descending := 1, 1
	for i := 1; i < len(runes); i++ {
		switch runes[i] - runes[i-1] {
		case 1:
			ascending++
			descending = 1
		case -1:
			descending++
			ascending = 1
		default:
			ascending, descending = 1, 1
		}
		if ascending >= 4 || descending >= 4 {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
