// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package token implements the signed bearer-token codec.
//
// Tokens are three dot-joined base64url segments, header.payload.signature,
// signed with HMAC-SHA256 under a server-held secret. Verification checks
// the signature before trusting anything beyond the structural framing, so
// tampered claims are never parsed.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"
)

// MinSecretBytes is the smallest accepted HMAC secret.
const MinSecretBytes = 32

// Claims is the payload of a signed token.
type Claims struct {
	Subject   string `json:"sub"`
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// header is constant for every token this codec mints.
type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

var encodedHeader = encodeSegment(mustJSON(header{Alg: "HS256", Typ: "JWT"}))

// ErrInvalidToken is the generic verification failure. Malformed framing,
// signature mismatch, and expiry all surface as this error; callers must
// not distinguish them outward.
var ErrInvalidToken = oops.Code("TOKEN_INVALID").Errorf("invalid token")

// Codec signs and verifies bearer tokens. Stateless after construction
// and safe for concurrent use.
type Codec struct {
	secret []byte
}

// New creates a Codec. The secret comes from process configuration;
// a missing or short secret is a construction-time error, never a
// per-call one.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, oops.Code("CONFIG_MISSING_SECRET").Errorf("token secret is required")
	}
	if len(secret) < MinSecretBytes {
		return nil, oops.Code("CONFIG_WEAK_SECRET").
			With("min_bytes", MinSecretBytes).
			Errorf("token secret must be at least %d bytes", MinSecretBytes)
	}
	return &Codec{secret: secret}, nil
}

// Sign mints a token for the subject and session with the given lifetime.
func (c *Codec) Sign(subject, sessionID string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", oops.Code("TOKEN_EMPTY_SUBJECT").Errorf("subject cannot be empty")
	}
	if sessionID == "" {
		return "", oops.Code("TOKEN_EMPTY_SESSION").Errorf("session ID cannot be empty")
	}
	if ttl == 0 {
		return "", oops.Code("TOKEN_ZERO_TTL").Errorf("ttl cannot be zero")
	}

	now := time.Now()
	payload, err := json.Marshal(Claims{
		Subject:   subject,
		SessionID: sessionID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", oops.Code("TOKEN_ENCODE_FAILED").Wrap(err)
	}

	signing := encodedHeader + "." + encodeSegment(payload)
	return signing + "." + encodeSegment(c.mac(signing)), nil
}

// Verify checks a token and returns its claims. The signature is
// recomputed over the first two segments and compared constant-time
// (length mismatch included) before the payload is decoded. Expired
// tokens are rejected even with a correct signature.
func (c *Codec) Verify(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(sig, c.mac(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	// Signature verified; the segments are now trusted.
	var hdr header
	if err := decodeSegment(parts[0], &hdr); err != nil || hdr.Alg != "HS256" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.ExpiresAt {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}

func (c *Codec) mac(signing string) []byte {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(signing))
	return m.Sum(nil)
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
