package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/store"
)

type sentMessage struct {
	to   string
	text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{to: to, text: text})
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fixture struct {
	mgr    *Manager
	store  *store.MemoryStore
	sender *recordingSender
	clock  *clockwork.FakeClock
	codes  []string
}

const registeredPhone = "+919876543210"

func newFixture(t *testing.T, requireVerified bool) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(clock)
	dir := identity.NewMemoryDirectory(
		identity.User{Username: "asha", Sub: "patient-asha", Phone: registeredPhone, PhoneVerified: true},
		identity.User{Username: "ravi", Sub: "patient-ravi", Phone: "918888777766"},
	)
	sender := &recordingSender{}

	f := &fixture{store: st, sender: sender, clock: clock}
	f.mgr = NewManager(st, identity.NewResolver(dir, requireVerified, zap.NewNop()), sender, clock, zap.NewNop(), Config{
		TTL:            5 * time.Minute,
		CodeLength:     6,
		ResendCooldown: 45 * time.Second,
		MaxAttempts:    5,
		Brand:          "MedMitra",
	})

	next := 100000
	f.mgr.newCode = func(length int) (string, error) {
		next++
		code := strconv.Itoa(next)
		f.codes = append(f.codes, code)
		return code, nil
	}
	return f
}

func (f *fixture) lastCode() string {
	return f.codes[len(f.codes)-1]
}

func TestRequestCode_SendsCode(t *testing.T) {
	f := newFixture(t, false)

	ch, err := f.mgr.RequestCode(context.Background(), "98765 43210", "+91")
	require.NoError(t, err)

	assert.NotEmpty(t, ch.SessionID)
	assert.Equal(t, registeredPhone, ch.Phone)
	assert.True(t, ch.Sent)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, registeredPhone, f.sender.sent[0].to)
	assert.Equal(t, "100001 is your MedMitra verification code. It expires in 5 min.", f.sender.sent[0].text)
}

func TestRequestCode_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.mgr.RequestCode(ctx, "no digits here", "+91")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	_, err = f.mgr.RequestCode(ctx, "9000000000", "+91")
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	assert.Equal(t, 0, f.sender.count())
}

func TestRequestCode_PrefixTolerantLookup(t *testing.T) {
	f := newFixture(t, false)

	ch, err := f.mgr.RequestCode(context.Background(), "8888777766", "+91")
	require.NoError(t, err)
	assert.Equal(t, "+918888777766", ch.Phone)

	v, err := f.mgr.VerifyCode(context.Background(), "8888777766", "+91", f.lastCode(), ch.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-ravi", v.PatientID)
}

func TestRequestCode_RequireVerified(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.mgr.RequestCode(ctx, "8888777766", "+91")
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	_, err = f.mgr.RequestCode(ctx, "9876543210", "+91")
	assert.NoError(t, err)
}

func TestRequestCode_CooldownReusesSession(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	second, err := f.mgr.RequestCode(ctx, "+91 98765 43210", "+91")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.False(t, second.Sent)
	assert.Equal(t, 1, f.sender.count())
	assert.Len(t, f.codes, 1)
}

func TestRequestCode_ResendAfterCooldown(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)
	firstCode := f.lastCode()

	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", "000000", first.SessionID)
	require.ErrorIs(t, err, ErrInvalidCode)

	f.clock.Advance(45 * time.Second)
	second, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, second.Sent)
	assert.Equal(t, 2, f.sender.count())

	var sess Session
	require.NoError(t, f.store.Get(ctx, store.Key{Table: Table, PK: registeredPhone, SK: first.SessionID}, &sess))
	assert.Equal(t, 0, sess.Attempts)
	assert.Equal(t, f.lastCode(), sess.Code)
	assert.True(t, sess.ExpiresAt.Equal(f.clock.Now().Add(5*time.Minute)))

	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", firstCode, "")
	assert.ErrorIs(t, err, ErrInvalidCode, "the replaced code no longer works")
}

func TestRequestCode_ExpiredSessionIsRefreshed(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	second, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	v, err := f.mgr.VerifyCode(ctx, "9876543210", "+91", f.lastCode(), second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-asha", v.PatientID)
}

func TestRequestCode_NewSessionOncePurged(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + expiredRetention)
	second, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestRequestCode_SendFailure(t *testing.T) {
	f := newFixture(t, false)
	f.sender.err = errors.New("provider down")

	_, err := f.mgr.RequestCode(context.Background(), "9876543210", "+91")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdentityNotFound)
}

func TestVerifyCode_Success(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ch, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	v, err := f.mgr.VerifyCode(ctx, "9876543210", "+91", f.lastCode(), ch.SessionID)
	require.NoError(t, err)
	assert.Equal(t, Verified{PatientID: "patient-asha", Phone: registeredPhone}, v)

	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", f.lastCode(), ch.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "a verified session is single use")
}

func TestVerifyCode_FallsBackToLatestSession(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	v, err := f.mgr.VerifyCode(ctx, "9876543210", "+91", f.lastCode(), "unknown-session")
	require.NoError(t, err)
	assert.Equal(t, "patient-asha", v.PatientID)
}

func TestVerifyCode_NoSession(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.mgr.VerifyCode(context.Background(), "9876543210", "+91", "123456", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.mgr.VerifyCode(context.Background(), "", "+91", "123456", "")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestVerifyCode_Expired(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ch, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", f.lastCode(), ch.SessionID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyCode_TooManyAttempts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ch, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)
	good := f.lastCode()

	for i := 1; i <= 5; i++ {
		_, err := f.mgr.VerifyCode(ctx, "9876543210", "+91", "999999", ch.SessionID)
		assert.ErrorIs(t, err, ErrInvalidCode, "attempt %d", i)
	}

	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", good, ch.SessionID)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", "999999", ch.SessionID)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

type failingUpdateStore struct {
	*store.MemoryStore
}

func (failingUpdateStore) Update(ctx context.Context, key store.Key, u store.Update) error {
	return fmt.Errorf("update %s: connection reset", key)
}

func TestVerifyCode_AttemptIncrementFailureStillRejects(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ch, err := f.mgr.RequestCode(ctx, "9876543210", "+91")
	require.NoError(t, err)

	f.mgr.store = failingUpdateStore{f.store}
	_, err = f.mgr.VerifyCode(ctx, "9876543210", "+91", "999999", ch.SessionID)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyCode_MissingIdentity(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	now := f.clock.Now()

	require.NoError(t, f.store.Put(ctx, store.Item{
		Key: store.Key{Table: Table, PK: registeredPhone, SK: "orphan"},
		Value: Session{
			Phone: registeredPhone, SessionID: "orphan", Code: "424242",
			CreatedAt: now, ExpiresAt: now.Add(time.Minute), LastSendAt: now,
		},
	}))

	_, err := f.mgr.VerifyCode(ctx, "9876543210", "+91", "424242", "orphan")
	assert.ErrorIs(t, err, ErrIdentityMissing)
}

func TestGenerateCode(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		for i := 0; i < 200; i++ {
			code, err := generateCode(length)
			require.NoError(t, err)
			require.Len(t, code, length)
			assert.NotEqual(t, byte('0'), code[0])
			_, err = strconv.Atoi(code)
			assert.NoError(t, err)
		}
	}
}
