package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrMalformed    = errors.New("session token malformed")
	ErrExpired      = errors.New("session token expired")
	ErrBadSignature = errors.New("session token signature mismatch")
	ErrNoSecret     = errors.New("session secret is required")
)

// Codec issues and verifies stateless tokens of the form
// identity.issuedAtUnix.signature, where signature is the unpadded
// base64url HMAC-SHA256 of "identity.issuedAtUnix".
type Codec struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewCodec(secret string, ttl time.Duration, clock clockwork.Clock) (*Codec, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Codec{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(identity string) string {
	payload := identity + "." + strconv.FormatInt(c.clock.Now().Unix(), 10)
	return payload + "." + c.sign(payload)
}

// Verify returns the identity carried by token.
func (c *Codec) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrMalformed
	}
	identity, tsRaw, sig := parts[0], parts[1], parts[2]

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if time.Unix(ts, 0).Add(c.ttl).Before(c.clock.Now()) {
		return "", ErrExpired
	}

	want := c.sign(identity + "." + tsRaw)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", ErrBadSignature
	}
	return identity, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
