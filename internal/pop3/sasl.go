package pop3

import (
	"encoding/base64"

	"github.com/emersion/go-sasl"
)

// SupportedSASLMechanisms returns the list of SASL mechanisms usable in
// sess's current state: the engine's built-in PLAIN, plus whatever the
// configured adapter additionally backs (spec §4.10).
func SupportedSASLMechanisms(sess *Session) []string {
	mechs := []string{sasl.Plain}
	if sess != nil && sess.Adapter() != nil {
		mechs = append(mechs, sess.Adapter().SASLMechanisms()...)
	}
	return mechs
}

// DecodeSASLResponse decodes a base64-encoded SASL response.
func DecodeSASLResponse(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// EncodeSASLChallenge encodes a SASL challenge to base64.
func EncodeSASLChallenge(challenge []byte) string {
	return base64.StdEncoding.EncodeToString(challenge)
}
