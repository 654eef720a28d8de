package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// SignatureHeader carries Square's base64 HMAC-SHA256 webhook signature.
const SignatureHeader = "x-square-hmacsha256-signature"

var (
	ErrSignatureMissing = errors.New("square signature missing")
	ErrSignatureInvalid = errors.New("square signature invalid")
)

// VerifySignature checks sig against HMAC-SHA256(secret, notificationURL + body).
func VerifySignature(secret, notificationURL string, body []byte, sig string) error {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return ErrSignatureMissing
	}
	if secret == "" {
		return errWebhookSecretRequired
	}
	expected := computeSignature(secret, notificationURL, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyWebhook checks a delivery against the client's configured secret.
func (c *Client) VerifyWebhook(notificationURL string, body []byte, sig string) error {
	if c == nil {
		return errWebhookSecretRequired
	}
	return VerifySignature(c.webhookSecret, notificationURL, body, sig)
}

func computeSignature(secret, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
