package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "no sensitive data",
			raw:  `{"status":"approved"}`,
			want: `{"status":"approved"}`,
		},
		{
			name: "card number in query payload",
			raw:  "AUTH_RESP=00&MASKED=4111111111111111&BRIC=xyz789",
			want: "AUTH_RESP=00&MASKED=************1111&BRIC=xyz789",
		},
		{
			name: "grouped card number",
			raw:  "card 4111 1111 1111 1111 declined",
			want: "card ************1111 declined",
		},
		{
			name: "cvv field",
			raw:  "AUTH_RESP=05&cvv2=123",
			want: "AUTH_RESP=05&cvv2=[REDACTED]",
		},
		{
			name: "json account number",
			raw:  `{"accountNumber":"x","ACCOUNT_NUMBER":"000123456"}`,
			want: `{"accountNumber":"x","ACCOUNT_NUMBER":"[REDACTED]"}`,
		},
		{
			name: "short numbers untouched",
			raw:  "AUTH_AMOUNT=99.99&AUTH_CODE=123456",
			want: "AUTH_AMOUNT=99.99&AUTH_CODE=123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactPayload(tt.raw))
		})
	}
}
