package security

import (
	"regexp"
	"strings"
)

// cardNumberPattern matches digit runs of card number length, optionally
// grouped by spaces or dashes
var cardNumberPattern = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

// sensitiveKeys are payload fields whose values are never stored
var sensitiveKeys = []string{"CVV", "CVV2", "CVC", "CARD_NUMBER", "ACCOUNT_NUMBER", "ROUTING_NUMBER", "PAN"}

type fieldPattern struct {
	query *regexp.Regexp
	json  *regexp.Regexp
}

var fieldPatterns = func() []fieldPattern {
	out := make([]fieldPattern, 0, len(sensitiveKeys))
	for _, key := range sensitiveKeys {
		out = append(out, fieldPattern{
			query: regexp.MustCompile(`(?i)(^|[&?;\s])(` + key + `)=([^&;\s]*)`),
			json:  regexp.MustCompile(`(?i)("` + key + `"\s*:\s*)("[^"]*"|\d+)`),
		})
	}
	return out
}()

// RedactPayload masks card numbers to their last four digits and blanks the
// values of known sensitive fields in a raw gateway payload. Payloads that
// carry neither come back unchanged.
func RedactPayload(raw string) string {
	out := cardNumberPattern.ReplaceAllStringFunc(raw, func(match string) string {
		digits := make([]byte, 0, len(match))
		for i := 0; i < len(match); i++ {
			if match[i] >= '0' && match[i] <= '9' {
				digits = append(digits, match[i])
			}
		}
		return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
	})
	for _, p := range fieldPatterns {
		out = p.query.ReplaceAllString(out, "${1}${2}=[REDACTED]")
		out = p.json.ReplaceAllString(out, `${1}"[REDACTED]"`)
	}
	return out
}
