package walkin

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/store"
)

func newTestService(users ...identity.User) (*Service, *identity.MemoryDirectory, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	dir := identity.NewMemoryDirectory(users...)
	svc := NewService(dir, store.NewMemoryStore(clock), clock, nil, Config{})
	return svc, dir, clock
}

func TestRegisterCreatesUser(t *testing.T) {
	svc, dir, _ := newTestService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, Request{Mobile: "98765 43210", Name: "Asha Devi Rao", YearOfBirth: "1988"})
	require.NoError(t, err)
	assert.True(t, reg.Created)
	assert.Equal(t, "+919876543210", reg.NormalizedPhone)
	assert.NotEmpty(t, reg.PatientID)
	assert.NotEmpty(t, reg.KioskVisitID)
	assert.True(t, dir.InGroup("919876543210@noemail.medmitra", "Patients"))

	p, err := svc.Profile(ctx, reg.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Devi", p.FirstName)
	assert.Equal(t, "Rao", p.LastName)
	assert.Equal(t, "kiosk", p.Source)
}

func TestRegisterReusesExistingUser(t *testing.T) {
	svc, _, clock := newTestService(identity.User{
		Username: "asha", Sub: "sub-asha", Phone: "919876543210",
	})
	ctx := context.Background()

	first, err := svc.Register(ctx, Request{Mobile: "+91 98765-43210", Name: "Asha"})
	require.NoError(t, err)
	assert.False(t, first.Created)
	assert.Equal(t, "sub-asha", first.PatientID)

	clock.Advance(time.Hour)
	second, err := svc.Register(ctx, Request{Mobile: "9876543210", Name: "Asha R"})
	require.NoError(t, err)
	assert.Equal(t, "sub-asha", second.PatientID)
	assert.NotEqual(t, first.KioskVisitID, second.KioskVisitID)

	p, err := svc.Profile(ctx, "sub-asha")
	require.NoError(t, err)
	assert.Equal(t, "Asha R", p.FullName)
	assert.True(t, p.UpdatedAt.After(p.CreatedAt))
}

func TestRegisterRejectsShortPhone(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Register(context.Background(), Request{Mobile: "+12345"})
	assert.ErrorIs(t, err, ErrInvalidPhone)
	_, err = svc.Register(context.Background(), Request{Mobile: "abc"})
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"", "", ""},
		{"Asha", "Asha", ""},
		{"  Asha   Rao ", "Asha", "Rao"},
		{"Asha Devi Rao", "Asha Devi", "Rao"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}
