package external

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// Header names SendGrid uses on signed Event Webhook requests.
const (
	HeaderSendGridSignature = "X-Twilio-Email-Event-Webhook-Signature"
	HeaderSendGridTimestamp = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// SendGridVerifier checks SendGrid Event Webhook signatures: an ECDSA P-256
// signature over SHA-256(timestamp || payload), base64 DER encoded.
type SendGridVerifier struct {
	key *ecdsa.PublicKey
}

// NewSendGridVerifier parses publicKey, either base64 DER or PEM, as shown
// in the SendGrid webhook settings.
func NewSendGridVerifier(publicKey string) (*SendGridVerifier, error) {
	key, err := parseECPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &SendGridVerifier{key: key}, nil
}

// Verify reports whether signature is valid for timestamp and payload.
func (v *SendGridVerifier) Verify(payload []byte, signature, timestamp string) (bool, error) {
	if signature == "" || timestamp == "" {
		return false, errors.New("signature and timestamp are required")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(payload)

	return ecdsa.VerifyASN1(v.key, h.Sum(nil), sig), nil
}

func parseECPublicKey(s string) (*ecdsa.PublicKey, error) {
	if s == "" {
		return nil, errors.New("public key is empty")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		var err error
		der, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to base64-decode public key: %w", err)
		}
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA (got %T)", pub)
	}
	return key, nil
}

var _ EmailEventVerifier = (*SendGridVerifier)(nil)
