package paypal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Signature header names on PayPal webhook deliveries.
const (
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

// maxClockSkew bounds how stale a signed delivery may be before it is
// rejected as a possible replay.
const maxClockSkew = 5 * time.Minute

var (
	errMissingSignature = errors.New("missing transmission signature")
	errStaleDelivery    = errors.New("transmission time outside tolerance")
	errBadSignature     = errors.New("signature mismatch")
)

// verifySignature checks the HMAC-SHA256 of "<transmission-time>.<body>"
// against the shared webhook secret.
func verifySignature(secret, transmissionSig, transmissionTime string, body []byte) error {
	if transmissionSig == "" || transmissionTime == "" {
		return errMissingSignature
	}

	sentAt, err := time.Parse(time.RFC3339, transmissionTime)
	if err != nil {
		return errMissingSignature
	}
	if skew := time.Since(sentAt); skew > maxClockSkew || skew < -maxClockSkew {
		return errStaleDelivery
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transmissionTime))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(transmissionSig)) {
		return errBadSignature
	}
	return nil
}
