package event

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// piiKeys holds normalized property keys that are always stripped.
// Keys are compared after normalizeKey.
var piiKeys = map[string]struct{}{}

func init() {
	for _, k := range []string{
		"email", "e_mail", "email_address", "mail",
		"phone", "phone_number", "mobile", "mobile_number", "telephone", "tel",
		"name", "first_name", "last_name", "full_name", "given_name",
		"family_name", "surname", "middle_name", "username", "user_name",
		"address", "street", "street_address", "home_address",
		"billing_address", "shipping_address", "city", "zip", "zip_code",
		"zipcode", "postal_code", "postcode",
		"ip", "ip_address",
		"ssn", "social_security", "social_security_number",
		"national_id", "passport", "passport_number", "drivers_license",
		"driver_license", "tax_id", "government_id",
		"credit_card", "card_number", "cc_number", "cvv", "cvc", "iban",
		"account_number", "bank_account", "routing_number",
		"payment", "payment_method", "payment_info",
		"password", "passwd", "secret",
		"dob", "date_of_birth", "birthdate", "birthday",
	} {
		piiKeys[normalizeKey(k)] = struct{}{}
	}
}

// normalizeKey lowercases and drops separators so "E-Mail", "first_name"
// and "firstName" compare equal to their denylist entries.
func normalizeKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// IsPIIKey reports whether a property key is on the PII denylist.
func IsPIIKey(k string) bool {
	_, ok := piiKeys[normalizeKey(k)]
	return ok
}

// SanitizeProperties returns a copy of props with PII keys removed at every
// nesting level and unencodable values dropped. The dotted paths of dropped
// unencodable values are returned for logging; PII removal is silent.
func SanitizeProperties(props map[string]any) (map[string]any, []string) {
	if len(props) == 0 {
		return nil, nil
	}
	var dropped []string
	out := sanitizeMap(props, "", &dropped)
	if len(out) == 0 {
		return nil, dropped
	}
	return out, dropped
}

func sanitizeMap(in map[string]any, prefix string, dropped *[]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if IsPIIKey(k) {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		clean, ok := sanitizeValue(v, path, dropped)
		if !ok {
			*dropped = append(*dropped, path)
			continue
		}
		out[k] = clean
	}
	return out
}

func sanitizeValue(v any, path string, dropped *[]string) (any, bool) {
	switch val := v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, true
	case float32:
		return val, !math.IsNaN(float64(val)) && !math.IsInf(float64(val), 0)
	case float64:
		return val, !math.IsNaN(val) && !math.IsInf(val, 0)
	case map[string]any:
		return sanitizeMap(val, path, dropped), true
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return sanitizeMap(m, path, dropped), true
	case []any:
		out := make([]any, 0, len(val))
		for i, item := range val {
			clean, ok := sanitizeValue(item, path, dropped)
			if !ok {
				*dropped = append(*dropped, path+"["+strconv.Itoa(i)+"]")
				continue
			}
			out = append(out, clean)
		}
		return out, true
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out, true
	default:
		// Structs, typed maps and typed slices go through their JSON form so
		// nested keys are filtered like any other map.
		data, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, false
		}
		return sanitizeValue(generic, path, dropped)
	}
}
