package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewExternalOrderID returns "RN" + UTC timestamp + 16 random hex characters.
func NewExternalOrderID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return "RN" + now.UTC().Format("20060102150405") + suffix
}
