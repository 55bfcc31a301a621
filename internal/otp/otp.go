package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/phone"
	"github.com/hackgods/kiosk-booking/internal/sms"
	"github.com/hackgods/kiosk-booking/internal/store"
)

const Table = "otp_sessions"

// Sessions stay readable for a while after they expire so that a late
// verification reports ErrExpired rather than ErrSessionNotFound.
const expiredRetention = 15 * time.Minute

var (
	ErrInvalidPhone     = errors.New("invalid phone")
	ErrIdentityNotFound = errors.New("mobile number not registered")
	ErrSessionNotFound  = errors.New("otp session not found or expired")
	ErrExpired          = errors.New("otp expired")
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrInvalidCode      = errors.New("invalid code")
	ErrIdentityMissing  = errors.New("otp session has no bound identity")
)

type Config struct {
	TTL                time.Duration
	CodeLength         int
	ResendCooldown     time.Duration
	MaxAttempts        int
	Brand              string
	DefaultCountryCode string
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.ResendCooldown < 0 {
		c.ResendCooldown = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Brand == "" {
		c.Brand = "MedMitra"
	}
	if c.DefaultCountryCode == "" {
		c.DefaultCountryCode = phone.DefaultCountryCode
	}
	return c
}

// Session is the stored verification attempt for one phone.
type Session struct {
	Phone      string    `json:"phone"`
	SessionID  string    `json:"sessionId"`
	Code       string    `json:"code"`
	UserSub    string    `json:"userSub"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Attempts   int       `json:"attempts"`
	LastSendAt time.Time `json:"lastSendAt"`
}

func (s Session) key() store.Key {
	return store.Key{Table: Table, PK: s.Phone, SK: s.SessionID}
}

type Challenge struct {
	SessionID string
	Phone     string
	Sent      bool // false when an earlier code is still inside the resend cooldown
}

type Verified struct {
	PatientID string
	Phone     string
}

type IdentityResolver interface {
	Resolve(ctx context.Context, e164 string) (identity.User, error)
}

type Manager struct {
	store    store.Store
	resolver IdentityResolver
	sender   sms.Sender
	clock    clockwork.Clock
	logger   *zap.Logger
	cfg      Config
	newCode  func(length int) (string, error)
}

func NewManager(st store.Store, resolver IdentityResolver, sender sms.Sender, clock clockwork.Clock, logger *zap.Logger, cfg Config) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    st,
		resolver: resolver,
		sender:   sender,
		clock:    clock,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		newCode:  generateCode,
	}
}

// RequestCode sends a fresh code to the phone unless one was sent within
// the resend cooldown, in which case the pending session id is returned.
func (m *Manager) RequestCode(ctx context.Context, mobile, countryCode string) (Challenge, error) {
	e164 := m.normalize(mobile, countryCode)
	if e164 == "" {
		return Challenge{}, ErrInvalidPhone
	}

	user, err := m.resolver.Resolve(ctx, e164)
	if errors.Is(err, identity.ErrNotFound) {
		return Challenge{}, ErrIdentityNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("resolve identity: %w", err)
	}

	now := m.clock.Now()
	existing, err := m.latest(ctx, e164)
	if err != nil {
		return Challenge{}, err
	}
	if existing != nil && now.Before(existing.ExpiresAt) && now.Sub(existing.LastSendAt) < m.cfg.ResendCooldown {
		m.logger.Debug("otp resend suppressed by cooldown",
			zap.String("phone", e164), zap.String("session_id", existing.SessionID))
		return Challenge{SessionID: existing.SessionID, Phone: e164}, nil
	}

	code, err := m.newCode(m.cfg.CodeLength)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate otp: %w", err)
	}

	sessionID := ""
	if existing != nil {
		sessionID, err = m.refresh(ctx, *existing, code, now)
		if err != nil {
			return Challenge{}, err
		}
	}
	if sessionID == "" {
		sessionID, err = m.create(ctx, e164, user.Sub, code, now)
		if err != nil {
			return Challenge{}, err
		}
	}

	text := fmt.Sprintf("%s is your %s verification code. It expires in %d min.",
		code, m.cfg.Brand, int(m.cfg.TTL/time.Minute))
	if err := m.sender.Send(ctx, e164, text); err != nil {
		return Challenge{}, fmt.Errorf("send otp: %w", err)
	}

	m.logger.Info("otp sent", zap.String("phone", e164), zap.String("session_id", sessionID))
	return Challenge{SessionID: sessionID, Phone: e164, Sent: true}, nil
}

// VerifyCode checks code against the session named by sessionID, or the
// latest session for the phone when sessionID is empty or unknown.
func (m *Manager) VerifyCode(ctx context.Context, mobile, countryCode, code, sessionID string) (Verified, error) {
	e164 := m.normalize(mobile, countryCode)
	if e164 == "" {
		return Verified{}, ErrInvalidPhone
	}

	sess, err := m.lookup(ctx, e164, sessionID)
	if err != nil {
		return Verified{}, err
	}
	if sess == nil {
		return Verified{}, ErrSessionNotFound
	}

	if !m.clock.Now().Before(sess.ExpiresAt) {
		return Verified{}, ErrExpired
	}
	if sess.Attempts >= m.cfg.MaxAttempts {
		return Verified{}, ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(sess.Code)) != 1 {
		err := m.store.Update(ctx, sess.key(), store.Update{Increment: map[string]int64{"attempts": 1}})
		if err != nil {
			m.logger.Warn("failed to record otp attempt",
				zap.String("phone", e164), zap.String("session_id", sess.SessionID), zap.Error(err))
		}
		return Verified{}, ErrInvalidCode
	}

	if err := m.store.Delete(ctx, sess.key()); err != nil {
		m.logger.Warn("failed to delete verified otp session",
			zap.String("phone", e164), zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	if sess.UserSub == "" {
		return Verified{}, ErrIdentityMissing
	}
	return Verified{PatientID: sess.UserSub, Phone: e164}, nil
}

func (m *Manager) normalize(mobile, countryCode string) string {
	if countryCode == "" {
		countryCode = m.cfg.DefaultCountryCode
	}
	return phone.Normalize(mobile, countryCode)
}

func (m *Manager) lookup(ctx context.Context, e164, sessionID string) (*Session, error) {
	if sessionID != "" {
		var sess Session
		err := m.store.Get(ctx, store.Key{Table: Table, PK: e164, SK: sessionID}, &sess)
		if err == nil {
			return &sess, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load otp session: %w", err)
		}
	}
	return m.latest(ctx, e164)
}

// latest returns the newest session for the phone. Session ids are KSUIDs,
// so sort key order is creation order.
func (m *Manager) latest(ctx context.Context, e164 string) (*Session, error) {
	recs, err := m.store.Query(ctx, Table, e164, store.QueryOptions{Descending: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load latest otp session: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	var sess Session
	if err := recs[0].Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode otp session: %w", err)
	}
	return &sess, nil
}

func (m *Manager) create(ctx context.Context, e164, userSub, code string, now time.Time) (string, error) {
	id, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return "", fmt.Errorf("new otp session id: %w", err)
	}
	sess := Session{
		Phone:      e164,
		SessionID:  id.String(),
		Code:       code,
		UserSub:    userSub,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TTL),
		Attempts:   0,
		LastSendAt: now,
	}
	// Concurrent requests for one phone may both create; the later session wins lookups.
	err = m.store.Put(ctx, store.Item{
		Key:       sess.key(),
		Value:     sess,
		ExpiresAt: sess.ExpiresAt.Add(expiredRetention),
	})
	if err != nil {
		return "", fmt.Errorf("store otp session: %w", err)
	}
	return sess.SessionID, nil
}

// refresh replaces the code on an existing session and resets its attempts.
// It returns "" when the session vanished before it could be updated.
func (m *Manager) refresh(ctx context.Context, sess Session, code string, now time.Time) (string, error) {
	expires := now.Add(m.cfg.TTL)
	err := m.store.Update(ctx, sess.key(), store.Update{
		Set: map[string]any{
			"code":       code,
			"lastSendAt": now,
			"expiresAt":  expires,
			"attempts":   0,
		},
		ExpiresAt: expires.Add(expiredRetention),
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("refresh otp session: %w", err)
	}
	return sess.SessionID, nil
}

// generateCode returns a uniformly random number with exactly length digits.
func generateCode(length int) (string, error) {
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	hi := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	span := new(big.Int).Sub(hi, lo)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, lo).String(), nil
}
