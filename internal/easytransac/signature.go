package easytransac

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SignatureField is the payload field carrying the digest on both outbound
// requests and inbound notifications.
const SignatureField = "Signature"

var (
	ErrNoSecret         = errors.New("easytransac: secret not configured")
	ErrMissingSignature = errors.New("easytransac: payload has no signature")
	ErrBadSignature     = errors.New("easytransac: signature mismatch")
)

// Sign computes the EasyTransac digest over a flat payload: nil values are
// dropped, field names sorted byte-wise, fields joined as "name=value&"
// (keeping the trailing ampersand), the secret appended with no separator,
// and the whole string hashed with SHA-256, lowercase hex. The join is raw
// concatenation, not URL encoding; the gateway computes it the same way.
// A Signature field already present in the payload is ignored so Verify can
// pass inbound payloads through unmodified.
func Sign(fields map[string]any, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}

	names := make([]string, 0, len(fields))
	values := make(map[string]string, len(fields))
	for name, v := range fields {
		if name == SignatureField {
			continue
		}
		s, ok := formatValue(v)
		if !ok {
			continue
		}
		names = append(names, name)
		values[name] = s
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(values[name])
		b.WriteByte('&')
	}
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Verify checks the Signature field of an inbound payload against the digest
// of the remaining fields. It fails closed when the secret is empty.
func Verify(payload map[string]any, secret string) error {
	raw, ok := payload[SignatureField]
	if !ok {
		return ErrMissingSignature
	}
	received, _ := raw.(string)

	want, err := Sign(payload, secret)
	if err != nil {
		return err
	}
	if received != want {
		return ErrBadSignature
	}
	return nil
}

// formatValue renders a payload value the way the gateway's string
// concatenation does. Nil values are excluded from the signed string
// entirely, reported by the second return.
func formatValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return fmt.Sprint(t), true
	}
}
