package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// Maximum accepted user id length. Longer ids are refused at issue time.
const MaxSubjectLength = 128

// payload is the signed body of an identity token.
type payload struct {
	Sub string `json:"sub"`
	IAT int64  `json:"iat"`
}

// Identity is the verified content of a bearer token.
type Identity struct {
	UserID   string
	IssuedAt time.Time
}

// Generate creates a signed identity token for userID issued at now.
func Generate(userID string, now time.Time, secret []byte) (string, error) {
	if userID == "" || len(userID) > MaxSubjectLength {
		return "", ErrInvalid
	}
	data, err := json.Marshal(payload{Sub: userID, IAT: now.Unix()})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the token signature and age relative to now. A ttl of zero
// disables expiry.
func Verify(token string, secret []byte, ttl time.Duration, now time.Time) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Identity{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Identity{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Identity{}, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Identity{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil || pl.Sub == "" {
		return Identity{}, ErrInvalid
	}
	issued := time.Unix(pl.IAT, 0)
	if ttl > 0 && now.Sub(issued) > ttl {
		return Identity{}, ErrExpired
	}
	return Identity{UserID: pl.Sub, IssuedAt: issued}, nil
}

// Verifier resolves Authorization headers to user ids.
type Verifier struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewVerifier returns a Verifier. An empty secret yields a verifier that
// treats every caller as anonymous.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// UserID extracts the user from a "Bearer <token>" header value. Any problem
// (missing header, bad scheme, bad signature, expiry) yields "" and the error
// describing it so callers can log and carry on anonymously.
func (v *Verifier) UserID(authorization string) (string, error) {
	if v == nil || len(v.Secret) == 0 || authorization == "" {
		return "", nil
	}
	scheme, tok, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalid
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	id, err := Verify(strings.TrimSpace(tok), v.Secret, v.TTL, now())
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}
