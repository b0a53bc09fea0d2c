package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// CreemSignatureHeaders are the header names a creem signature may arrive in,
// in lookup order.
var CreemSignatureHeaders = []string{"creem-signature", "x-creem-signature", "x-signature", "webhook-signature"}

var creemSignaturePrefixes = []string{"sha256=", "v1="}

// CreemVerifier checks the HMAC-SHA256 of the raw webhook body.
type CreemVerifier struct {
	secret string
	mode   VerificationMode
}

func NewCreemVerifier(secret string, mode VerificationMode) *CreemVerifier {
	return &CreemVerifier{secret: strings.TrimSpace(secret), mode: mode}
}

// SignCreemPayload returns the hex HMAC-SHA256 of body.
func SignCreemPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the raw body bytes. The body must not be
// re-serialized before this call.
func (v *CreemVerifier) Verify(body []byte, header string) error {
	if !v.mode.Enforced() {
		fiberlog.Warn("[Creem] accepting webhook without signature check (verification disabled)")
		return nil
	}
	if v.secret == "" {
		return ErrSecretNotConfigured
	}
	sig := strings.TrimSpace(header)
	for _, p := range creemSignaturePrefixes {
		if len(sig) >= len(p) && strings.EqualFold(sig[:len(p)], p) {
			sig = strings.TrimSpace(sig[len(p):])
			break
		}
	}
	if sig == "" {
		return ErrSignatureMissing
	}

	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrSignatureMismatch
	}
	return nil
}
