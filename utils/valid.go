// utils/valid.go
package utils

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	zipRegex        = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	scriptRegex     = regexp.MustCompile(`<script[^>]*>.*?</script>`)
	nonDigitRegex   = regexp.MustCompile(`\D`)
	usStateAbbrevs  = "AL AK AZ AR CA CO CT DE DC FL GA HI ID IL IN IA KS KY LA ME MD MA MI MN MS MO MT NE NV NH NJ NM NY NC ND OH OK OR PA PR RI SC SD TN TX UT VT VA WA WV WI WY"
	validStateCodes = toSet(strings.Fields(usStateAbbrevs))
)

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// SanitizeInput sanitizes user input to prevent XSS and injection attacks
func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = scriptRegex.ReplaceAllString(input, "")
	input = html.EscapeString(input)

	// Remove control characters
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// SanitizeEmail sanitizes and validates an email address
func SanitizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return "", errors.New("invalid email format")
	}
	return email, nil
}

// ValidateRoutingNumber checks an ABA routing number: nine digits with a
// valid 3-7-1 weighted checksum.
func ValidateRoutingNumber(routing string) error {
	routing = strings.TrimSpace(routing)
	if len(routing) != 9 || nonDigitRegex.MatchString(routing) {
		return errors.New("routing number must be 9 digits")
	}

	weights := []int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i, ch := range routing {
		sum += int(ch-'0') * weights[i]
	}
	if sum%10 != 0 {
		return errors.New("routing number checksum is invalid")
	}
	return nil
}

// ValidateAccountNumber checks a bank account number is 4 to 17 digits
func ValidateAccountNumber(account string) error {
	account = strings.TrimSpace(account)
	if nonDigitRegex.MatchString(account) {
		return errors.New("account number must contain digits only")
	}
	if len(account) < 4 || len(account) > 17 {
		return errors.New("account number must be 4 to 17 digits")
	}
	return nil
}

// ValidateUSAddress checks the state code and ZIP shape of a US address
func ValidateUSAddress(line1, city, state, postalCode string) error {
	if strings.TrimSpace(line1) == "" {
		return errors.New("street address is required")
	}
	if strings.TrimSpace(city) == "" {
		return errors.New("city is required")
	}
	if !validStateCodes[strings.ToUpper(strings.TrimSpace(state))] {
		return errors.New("state must be a two-letter US state code")
	}
	if !zipRegex.MatchString(strings.TrimSpace(postalCode)) {
		return errors.New("ZIP code must be 5 digits or ZIP+4")
	}
	return nil
}
