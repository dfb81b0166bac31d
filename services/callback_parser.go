package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/HSouheill/enrollment_backend/security"
	"github.com/HSouheill/enrollment_backend/utils"
)

// PayloadEncoding names the strategy that decoded a callback payload
type PayloadEncoding string

const (
	EncodingJSON  PayloadEncoding = "json"
	EncodingQuery PayloadEncoding = "query"
	EncodingRaw   PayloadEncoding = "raw"
)

// ExtractionTier names the strategy that produced an extracted value
type ExtractionTier string

const (
	TierNone      ExtractionTier = ""
	TierCandidate ExtractionTier = "candidate"
	TierFragment  ExtractionTier = "fragment"
	TierPattern   ExtractionTier = "pattern"
	TierFallback  ExtractionTier = "fallback"
)

// rawField holds an undecodable payload
const rawField = "raw"

const maxRawPayload = 4096

var guidPattern = regexp.MustCompile(`[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}`)

type fieldSpec struct {
	candidates []string
	fragments  []string
	pattern    bool
}

var (
	tokenSpec = fieldSpec{
		candidates: []string{"BRIC", "bric", "Bric", "paymentToken", "payment_token", "PaymentToken", "PAYMENT_TOKEN", "token", "Token", "TOKEN"},
		fragments:  []string{"token", "guid", "bric", "payment_token"},
		pattern:    true,
	}
	authorizationSpec = fieldSpec{
		candidates: []string{"AUTH_GUID", "auth_guid", "authGuid", "AuthGuid", "authorizationReference", "authorization_reference", "AUTH_CODE", "auth_code", "authCode", "approvalCode"},
		fragments:  []string{"auth_guid", "authguid", "auth_code", "authcode", "authorization", "approval"},
		pattern:    true,
	}
	transactionSpec = fieldSpec{
		candidates: []string{"transactionId", "transaction_id", "TransactionId", "TRAN_NBR", "tranNbr", "tran_nbr", "orderNumber", "order_number", "ORDER_NBR", "invoiceNumber", "INVOICE_NBR", "orderId", "order_id"},
	}
	amountSpec = fieldSpec{
		candidates: []string{"amount", "Amount", "AMOUNT", "AUTH_AMOUNT", "authAmount", "auth_amount"},
	}
	methodSpec = fieldSpec{
		candidates: []string{"paymentMethodType", "payment_method_type", "paymentMethod", "payment_method", "PAYMENT_TYPE", "paymentType"},
	}
	statusCodeSpec = fieldSpec{
		candidates: []string{"AUTH_RESP", "authResp", "responseCode", "response_code", "statusCode", "status_code", "code"},
	}
	statusMessageSpec = fieldSpec{
		candidates: []string{"AUTH_RESP_TEXT", "authRespText", "responseText", "response_text", "statusMessage", "status_message", "message"},
	}
)

// ParsedCallback is the canonical form of a gateway notification
type ParsedCallback struct {
	Encoding PayloadEncoding
	Fields   map[string]interface{}
	Raw      string

	PaymentToken           string
	TokenTier              ExtractionTier
	AuthorizationReference string
	AuthorizationTier      ExtractionTier
	TransactionID          string
	TransactionTier        ExtractionTier

	Amount            float64
	PaymentMethodType string
	StatusCode        string
	StatusMessage     string
}

// ParseCallback decodes a gateway notification and extracts the payment
// token, authorization reference and transaction id. fallbackTransactionID is
// used when the payload carries no transaction id.
//
// An empty payload yields ErrUnparseable. A payload without any recognizable
// token yields ErrTokenNotFound together with the partially parsed callback,
// so the caller can still record what arrived.
func ParseCallback(payload []byte, fallbackTransactionID string) (*ParsedCallback, error) {
	encoding, fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedCallback{
		Encoding: encoding,
		Fields:   fields,
		Raw:      truncate(string(bytes.TrimSpace(payload)), maxRawPayload),
	}

	parsed.PaymentToken, parsed.TokenTier = extract(fields, tokenSpec, "")
	parsed.AuthorizationReference, parsed.AuthorizationTier = extract(fields, authorizationSpec, parsed.PaymentToken)
	parsed.TransactionID, parsed.TransactionTier = extract(fields, transactionSpec, "")
	if parsed.TransactionID == "" && fallbackTransactionID != "" {
		parsed.TransactionID, parsed.TransactionTier = fallbackTransactionID, TierFallback
	}

	if amount, tier := extract(fields, amountSpec, ""); tier != TierNone {
		if v, err := utils.ParseAmount(amount); err == nil {
			parsed.Amount = v
		}
	}
	parsed.PaymentMethodType, _ = extract(fields, methodSpec, "")
	parsed.StatusCode, _ = extract(fields, statusCodeSpec, "")
	parsed.StatusMessage, _ = extract(fields, statusMessageSpec, "")

	if parsed.PaymentToken == "" {
		return parsed, newPaymentError(KindTokenExtraction, "payment succeeded but no payment token could be extracted", ErrTokenNotFound)
	}
	return parsed, nil
}

// decodePayload tries JSON, then a query string, then wraps the raw text
func decodePayload(payload []byte) (PayloadEncoding, map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", nil, ErrUnparseable
	}

	if json.Valid(trimmed) {
		value, err := decodeJSON(trimmed)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		switch v := value.(type) {
		case map[string]interface{}:
			return EncodingJSON, v, nil
		case string:
			// The browser hook passed a string argument; decode what it holds
			if strings.TrimSpace(v) == "" {
				return "", nil, ErrUnparseable
			}
			return decodePayload([]byte(v))
		case nil:
			return "", nil, ErrUnparseable
		default:
			return EncodingJSON, map[string]interface{}{"value": v}, nil
		}
	}

	text := string(trimmed)
	if fields, ok := decodeQuery(text); ok {
		return EncodingQuery, fields, nil
	}
	return EncodingRaw, map[string]interface{}{rawField: text}, nil
}

func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// decodeQuery accepts "a=1&b=2" and "https://host/cb?a=1&b=2". It requires at
// least one key with a non-empty value.
func decodeQuery(text string) (map[string]interface{}, bool) {
	if i := strings.Index(text, "?"); i >= 0 {
		text = text[i+1:]
	}
	if !strings.Contains(text, "=") {
		return nil, false
	}

	// ParseQuery keeps the well-formed pairs even when it reports an error
	values, _ := url.ParseQuery(text)
	fields := make(map[string]interface{}, len(values))
	hasValue := false
	for key, vals := range values {
		key = strings.TrimSpace(key)
		if key == "" || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			fields[key] = vals[0]
		} else {
			list := make([]interface{}, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			fields[key] = list
		}
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				hasValue = true
			}
		}
	}
	return fields, hasValue
}

// extract runs the three tiers for one field. exclude is skipped as a value so
// the authorization reference never repeats the token.
func extract(fields map[string]interface{}, spec fieldSpec, exclude string) (string, ExtractionTier) {
	accept := func(v interface{}) (string, bool) {
		s, ok := stringValue(v)
		if !ok || (exclude != "" && s == exclude) {
			return "", false
		}
		return s, true
	}

	// Tier 1: known names at the top level, then under "result"
	scopes := []map[string]interface{}{fields}
	if nested, ok := lookupFold(fields, "result"); ok {
		if m, ok := asMap(nested); ok {
			scopes = append(scopes, m)
		}
	}
	for _, scope := range scopes {
		if s, ok := lookupCandidates(scope, spec.candidates, accept); ok {
			return s, TierCandidate
		}
	}

	// Tier 2: any key containing a known fragment, shallowest first
	if len(spec.fragments) > 0 {
		var found string
		walk(fields, func(key string, value interface{}) bool {
			lower := strings.ToLower(key)
			for _, fragment := range spec.fragments {
				if strings.Contains(lower, fragment) {
					if s, ok := accept(value); ok {
						found = s
						return true
					}
				}
			}
			return false
		})
		if found != "" {
			return found, TierFragment
		}
	}

	// Tier 3: any GUID-shaped value anywhere
	if spec.pattern {
		var found string
		walk(fields, func(_ string, value interface{}) bool {
			s, ok := stringValue(value)
			if !ok {
				return false
			}
			for _, match := range guidPattern.FindAllString(s, -1) {
				if exclude == "" || !strings.EqualFold(match, exclude) {
					found = match
					return true
				}
			}
			return false
		})
		if found != "" {
			return found, TierPattern
		}
	}
	return "", TierNone
}

// lookupCandidates tries every candidate by exact name, then every candidate
// case-insensitively.
func lookupCandidates(m map[string]interface{}, candidates []string, accept func(interface{}) (string, bool)) (string, bool) {
	for _, name := range candidates {
		if v, ok := m[name]; ok {
			if s, ok := accept(v); ok {
				return s, true
			}
		}
	}
	for _, name := range candidates {
		if v, ok := lookupFold(m, name); ok {
			if s, ok := accept(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

func lookupFold(m map[string]interface{}, name string) (interface{}, bool) {
	for _, key := range sortedKeys(m) {
		if strings.EqualFold(key, name) {
			return m[key], true
		}
	}
	return nil, false
}

// walk visits every key/value pair breadth-first with keys in sorted order,
// so the first match is the same for the same payload. visit returns true to
// stop.
func walk(root map[string]interface{}, visit func(key string, value interface{}) bool) {
	queue := []map[string]interface{}{root}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, key := range sortedKeys(m) {
			value := m[key]
			if list, ok := value.([]interface{}); ok {
				for _, item := range list {
					if nested, ok := asMap(item); ok {
						queue = append(queue, nested)
					} else if visit(key, item) {
						return
					}
				}
				continue
			}
			if nested, ok := asMap(value); ok {
				queue = append(queue, nested)
				continue
			}
			if visit(key, value) {
				return
			}
		}
	}
}

// asMap returns nested objects, including objects serialized into a string
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		value, err := decodeJSON([]byte(s))
		if err != nil {
			return nil, false
		}
		m, ok := value.(map[string]interface{})
		return m, ok
	}
	return nil, false
}

func stringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// auditPayload prepares a raw payload for storage in an audit record
func auditPayload(s string) string {
	return truncate(security.RedactPayload(s), maxRawPayload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
