package payment

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// EpayCanonicalString builds the string epay signs: every parameter except
// sign, sign_type and empty values, sorted by key, joined as k=v with &.
func EpayCanonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// EpaySign returns the lowercase hex md5 of the canonical string followed by key.
func EpaySign(params map[string]string, key string) string {
	sum := md5.Sum([]byte(EpayCanonicalString(params) + key))
	return hex.EncodeToString(sum[:])
}

// FlattenValues keeps the first value of each query parameter.
func FlattenValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// EpayVerifier checks the sign parameter of epay callbacks.
type EpayVerifier struct {
	key  string
	mode VerificationMode
}

func NewEpayVerifier(key string, mode VerificationMode) *EpayVerifier {
	return &EpayVerifier{key: strings.TrimSpace(key), mode: mode}
}

func (v *EpayVerifier) Verify(params map[string]string) error {
	if !v.mode.Enforced() {
		fiberlog.Warn("[Epay] accepting notify without signature check (verification disabled)")
		return nil
	}
	if v.key == "" {
		return ErrSecretNotConfigured
	}
	sign := strings.TrimSpace(params["sign"])
	if sign == "" {
		return ErrSignatureMissing
	}
	if !strings.EqualFold(EpaySign(params, v.key), sign) {
		return ErrSignatureMismatch
	}
	return nil
}
