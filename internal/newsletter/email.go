package newsletter

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// emailPattern is loose: local@domain.tld with no whitespace. RE2 \s is
// ASCII only, so vertical tab, Unicode separators and BOM are listed too.
var emailPattern = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)

// NormalizeEmail trims the address and checks its shape. With fold set the
// address is case-folded so lookups ignore case.
func NormalizeEmail(email string, fold bool) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	if fold {
		// Casers keep state, so one per call.
		email = cases.Fold().String(email)
	}
	return email, nil
}
