package domain

import (
	"strings"
	"unicode"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordBytes = 72

	PasswordSymbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"
)

type RuleResult struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
}

// PasswordReport itemizes each strength rule so callers can tell the user
// exactly what is missing.
type PasswordReport struct {
	Rules []RuleResult `json:"rules"`
}

func (r PasswordReport) Valid() bool {
	for _, rule := range r.Rules {
		if !rule.Passed {
			return false
		}
	}
	return true
}

func (r PasswordReport) Failed() []string {
	var out []string
	for _, rule := range r.Rules {
		if !rule.Passed {
			out = append(out, rule.Rule)
		}
	}
	return out
}

func ValidatePasswordStrength(plaintext string) PasswordReport {
	var upper, lower, digit, symbol bool
	for _, c := range plaintext {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case strings.ContainsRune(PasswordSymbols, c):
			symbol = true
		}
	}

	return PasswordReport{Rules: []RuleResult{
		{Rule: "at least 8 characters", Passed: len([]rune(plaintext)) >= MinPasswordLength},
		{Rule: "at most 72 bytes", Passed: len(plaintext) <= MaxPasswordBytes},
		{Rule: "an uppercase letter", Passed: upper},
		{Rule: "a lowercase letter", Passed: lower},
		{Rule: "a digit", Passed: digit},
		{Rule: "a symbol from " + PasswordSymbols, Passed: symbol},
	}}
}

// CheckPassword converts a failing report into a *ValidationError.
func CheckPassword(plaintext string) error {
	report := ValidatePasswordStrength(plaintext)
	if report.Valid() {
		return nil
	}
	return &ValidationError{
		Message: "password must contain " + strings.Join(report.Failed(), ", "),
		Rules:   report.Rules,
	}
}
