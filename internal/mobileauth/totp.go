// Package mobileauth implements the Mobile Authenticator confirmation
// pipeline: generating the HMAC-SHA1 derived login two-factor code, and
// fetching/accepting/denying pending confirmations one at a time per bot.
// The confirmation-request signature is computed by the platform package's
// web session, not here.
package mobileauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// codeAlphabet is the Platform's own digit substitution used for the
// 5-character login code, not the RFC 6238 digit alphabet.
const codeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

// GenerateAuthCode derives the 5-character two-factor login code from the
// account's shared secret at time t.
func GenerateAuthCode(sharedSecret string, t time.Time) (string, error) {
	key, err := decodeSecret(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}

	counter := uint64(t.Unix()) / 30
	digest := hmacSHA1(key, counter)

	offset := digest[len(digest)-1] & 0x0F
	value := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7FFFFFFF

	code := make([]byte, 5)
	for i := range code {
		code[i] = codeAlphabet[value%uint32(len(codeAlphabet))]
		value /= uint32(len(codeAlphabet))
	}
	return string(code), nil
}

// SecondsRemaining returns how many seconds remain in t's current 30-second
// code bucket — the window during which a code GenerateAuthCode(secret, t)
// returns stays valid.
func SecondsRemaining(t time.Time) int {
	return 30 - int(t.Unix()%30)
}

func hmacSHA1(key []byte, counter uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf)
	return mac.Sum(nil)
}

// decodeSecret accepts the shared/identity secret either as standard
// base64 (the form the Platform issues it in) or base32, tolerating
// either since account-import tooling in the wild stores both.
func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
		return b, nil
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
}
