package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, data, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	payload := []byte(`{"event":"order.paid","payload":{}}`)
	secret := "whsec_test_1234"

	sig := sign(t, string(payload), secret)
	require.NoError(t, VerifyWebhook(payload, sig, secret))
}

func TestVerifyWebhookRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"event":"order.paid","payload":{}}`)
	secret := "whsec_test_1234"
	sig := sign(t, string(payload), secret)

	tampered := []byte(`{"event":"order.paid","payload":{"amount":1}}`)
	require.ErrorIs(t, VerifyWebhook(tampered, sig, secret), ErrMismatch)
}

func TestVerifyWebhookRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"event":"order.paid"}`)
	sig := sign(t, string(payload), "secret-a")
	require.ErrorIs(t, VerifyWebhook(payload, sig, "secret-b"), ErrMismatch)
}

func TestVerifyWebhookRequiresSecret(t *testing.T) {
	require.ErrorIs(t, VerifyWebhook([]byte("x"), "deadbeef", ""), ErrMissingSecret)
}

func TestVerifyPayment(t *testing.T) {
	secret := "key_secret_77"
	sig := sign(t, "order_ABC|pay_XYZ", secret)

	require.NoError(t, VerifyPayment("order_ABC", "pay_XYZ", sig, secret))
	require.ErrorIs(t, VerifyPayment("order_ABC", "pay_OTHER", sig, secret), ErrMismatch)
	require.ErrorIs(t, VerifyPayment("order_OTHER", "pay_XYZ", sig, secret), ErrMismatch)
}

func TestVerifySubscription(t *testing.T) {
	// The subscription callback signs payment ref first.
	secret := "key_secret_77"
	sig := sign(t, "pay_XYZ|sub_123", secret)

	require.NoError(t, VerifySubscription("sub_123", "pay_XYZ", sig, secret))
	require.ErrorIs(t, VerifySubscription("sub_123", "pay_OTHER", sig, secret), ErrMismatch)
}

func TestGenerateSecret(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		secret, err := GenerateSecret()
		require.NoError(t, err)
		require.Len(t, secret, 14)
		for _, r := range secret {
			require.Contains(t, secretAlphabet, string(r))
		}
		require.False(t, seen[secret], "generated secrets should not repeat")
		seen[secret] = true
	}
}
