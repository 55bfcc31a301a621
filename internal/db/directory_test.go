package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{"username", "sub", "name", "phone_number", "phone_verified"}

func newMockDirectory(t *testing.T) (*Directory, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewDirectory(mock), mock
}

func TestDirectory_FindByPhone(t *testing.T) {
	d, mock := newMockDirectory(t)
	sub := uuid.MustParse("6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b")

	mock.ExpectQuery(regexp.QuoteMeta("FROM patients") + `\s+WHERE phone_number = \$1\s+ORDER BY created_at\s+LIMIT 2`).
		WithArgs("+919876543210").
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow("919876543210@noemail.clinic", sub, "Asha Rao", "+919876543210", true))

	users, err := d.FindByPhone(context.Background(), "+919876543210")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "919876543210@noemail.clinic", users[0].Username)
	assert.Equal(t, sub.String(), users[0].Sub)
	assert.Equal(t, "Asha Rao", users[0].Name)
	assert.True(t, users[0].PhoneVerified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_FindByPhoneNoMatch(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE phone_number = $1")).
		WithArgs("+15550100").
		WillReturnRows(pgxmock.NewRows(userColumns))

	users, err := d.FindByPhone(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_FindByPhonePrefix(t *testing.T) {
	d, mock := newMockDirectory(t)
	first := uuid.MustParse("0b8e7d6c-5a4b-4c3d-9e2f-1a0b9c8d7e6f")
	second := uuid.MustParse("1c9f8e7d-6b5a-4d4e-8f3a-2b1c0d9e8f7a")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE starts_with(ltrim(phone_number, '+'), $1)") + `\s+ORDER BY created_at\s+LIMIT 5`).
		WithArgs("9876543210").
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow("legacy-1", first, "", "9876543210", false).
			AddRow("legacy-2", second, "Ravi", "+98765432101", true))

	users, err := d.FindByPhonePrefix(context.Background(), "9876543210")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "legacy-1", users[0].Username)
	assert.Equal(t, "9876543210", users[0].Phone)
	assert.False(t, users[0].PhoneVerified)
	assert.Equal(t, second.String(), users[1].Sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_FindByPhonePrefixQueryError(t *testing.T) {
	d, mock := newMockDirectory(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("starts_with(ltrim(phone_number, '+'), $1)")).
		WithArgs("919876").
		WillReturnError(boom)

	_, err := d.FindByPhonePrefix(context.Background(), "919876")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "find patient by phone prefix")
	assert.NoError(t, mock.ExpectationsWereMet())
}
