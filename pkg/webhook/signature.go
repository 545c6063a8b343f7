package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// HeaderSignature carries "sha256=<hex HMAC of the raw body>".
const HeaderSignature = "X-Signature"

const signaturePrefix = "sha256="

// Sign returns the X-Signature value for body under secret. Senders and
// tests use it; the digest is lower-case hex.
func Sign(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(digest(secret, body))
}

func digest(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// declaredDigest strips the scheme prefix from header.
func declaredDigest(header string) (string, error) {
	if !strings.HasPrefix(header, signaturePrefix) {
		return "", sserr.New(sserr.CodeWebhookBadSignatureFormat,
			"webhook: signature header missing sha256= prefix")
	}
	return header[len(signaturePrefix):], nil
}

// verifySignature compares the declared hex digest with the expected one
// as strings, so case changes and non-hex characters fail like any other
// mismatch. Lengths are not secret and may short-circuit.
func verifySignature(secret, body []byte, declared string) error {
	expected := hex.EncodeToString(digest(secret, body))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(declared)) != 1 {
		return sserr.New(sserr.CodeWebhookSignatureInvalid, "webhook: signature mismatch")
	}
	return nil
}
