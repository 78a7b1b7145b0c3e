package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Webhook delivery headers. Polar follows the Standard Webhooks convention:
// the signature covers "{id}.{timestamp}.{raw body}" so verification must run
// against the unparsed request body.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

// DefaultTolerance is the accepted clock skew between the delivery timestamp
// and local time.
const DefaultTolerance = 5 * time.Minute

// webhookSecretPrefix is stripped from dashboard-issued secrets before the
// base64 key is decoded.
const webhookSecretPrefix = "whsec_"

// WebhookVerifier checks the authenticity of inbound webhook deliveries using
// the shared signing secret.
type WebhookVerifier struct {
	key       []byte
	tolerance time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewWebhookVerifier creates a verifier from the dashboard-issued secret.
// Returns ErrInvalidWebhookSecret when the secret is empty or not decodable.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(secret), webhookSecretPrefix)
	if trimmed == "" {
		return nil, ErrInvalidWebhookSecret
	}

	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSecret, err)
	}

	return &WebhookVerifier{
		key:       key,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}, nil
}

// Verify checks the signature headers against the raw request body.
// Returns nil only when a v1 signature matches; the comparison is
// constant-time.
func (v *WebhookVerifier) Verify(payload []byte, headers http.Header) error {
	id := headers.Get(HeaderWebhookID)
	timestamp := headers.Get(HeaderWebhookTimestamp)
	signatures := headers.Get(HeaderWebhookSignature)
	if id == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrMissingSignature)
	}
	skew := v.now().Sub(time.Unix(unix, 0))
	if skew > v.tolerance || skew < -v.tolerance {
		return ErrTimestampTolerance
	}

	expected := v.sign(id, timestamp, payload)

	// The header may carry several space-separated signatures (for example
	// during a secret rotation). Any matching v1 entry authenticates the
	// delivery.
	for _, candidate := range strings.Fields(signatures) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// Sign produces the v1 signature header value for a delivery. Used by tests
// and local delivery simulation.
func (v *WebhookVerifier) Sign(id string, timestamp time.Time, payload []byte) string {
	sig := v.sign(id, strconv.FormatInt(timestamp.Unix(), 10), payload)
	return "v1," + base64.StdEncoding.EncodeToString(sig)
}

func (v *WebhookVerifier) sign(id, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}
