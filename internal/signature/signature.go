// Package signature verifies that payloads received from the payment gateway
// were produced with the shared webhook or API secret. Verification always
// runs over the exact raw bytes received, never a re-serialized form, and
// uses constant-time comparison.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

var (
	// ErrMissingSecret is returned when no secret is configured.
	ErrMissingSecret = errors.New("signature secret is not configured")
	// ErrMismatch is returned when the supplied signature does not match the
	// computed one.
	ErrMismatch = errors.New("signature mismatch")
)

// VerifyWebhook checks the webhook signature header against an HMAC-SHA256
// of the raw request body.
func VerifyWebhook(rawPayload []byte, signatureHeader, secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	return compare(rawPayload, signatureHeader, secret)
}

// VerifyPayment checks the signature the gateway returns with a hosted
// checkout callback for a one-time order. The signed data is
// "<orderRef>|<paymentRef>".
func VerifyPayment(orderRef, paymentRef, signatureValue, secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	return compare([]byte(orderRef+"|"+paymentRef), signatureValue, secret)
}

// VerifySubscription checks the callback signature for a subscription
// purchase. The signed data is "<paymentRef>|<subscriptionRef>".
func VerifySubscription(subscriptionRef, paymentRef, signatureValue, secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	return compare([]byte(paymentRef+"|"+subscriptionRef), signatureValue, secret)
}

func compare(data []byte, supplied, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return ErrMismatch
	}
	return nil
}

const secretAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const secretLength = 14

// GenerateSecret produces a random alphanumeric webhook secret. Used when a
// webhook registration is created and no secret has been configured yet.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate webhook secret")
	}
	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(buf), nil
}
