package outbound

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DedupeKey fingerprints a message's content within an hour-granularity time
// bucket. Two identical sends inside the same wall-clock hour collide; the
// same content an hour apart is a distinct send. The bucket boundary means a
// pair straddling the hour rollover both go out — accepted behavior, kept
// from the original system.
func DedupeKey(channel Channel, recipient, templateKey, language, body string, at time.Time) string {
	bucket := at.UTC().Truncate(time.Hour).Format(time.RFC3339)
	payload := strings.Join([]string{
		string(channel), recipient, templateKey, language, body, bucket,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
