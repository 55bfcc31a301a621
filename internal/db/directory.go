package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/kiosk-booking/internal/identity"
)

// Directory is the patient directory backed by the patients table.
type Directory struct {
	conn Conn
}

func NewDirectory(conn Conn) *Directory {
	return &Directory{conn: conn}
}

const selectUser = `SELECT username, sub, name, phone_number, phone_verified FROM patients`

func scanUser(row pgx.Row) (identity.User, error) {
	var (
		u   identity.User
		sub uuid.UUID
	)
	if err := row.Scan(&u.Username, &sub, &u.Name, &u.Phone, &u.PhoneVerified); err != nil {
		return identity.User{}, err
	}
	u.Sub = sub.String()
	return u, nil
}

func (d *Directory) findUsers(ctx context.Context, sql string, args ...any) ([]identity.User, error) {
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *Directory) FindByPhone(ctx context.Context, e164 string) ([]identity.User, error) {
	users, err := d.findUsers(ctx, selectUser+`
		WHERE phone_number = $1
		ORDER BY created_at
		LIMIT 2
	`, e164)
	if err != nil {
		return nil, fmt.Errorf("find patient by phone: %w", err)
	}
	return users, nil
}

func (d *Directory) FindByPhonePrefix(ctx context.Context, digits string) ([]identity.User, error) {
	users, err := d.findUsers(ctx, selectUser+`
		WHERE starts_with(ltrim(phone_number, '+'), $1)
		ORDER BY created_at
		LIMIT 5
	`, digits)
	if err != nil {
		return nil, fmt.Errorf("find patient by phone prefix: %w", err)
	}
	return users, nil
}

func (d *Directory) CreateUser(ctx context.Context, username string, attrs identity.Attributes) (identity.User, error) {
	row := d.conn.QueryRow(ctx, `
		INSERT INTO patients (username, sub, name, phone_number, phone_verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING username, sub, name, phone_number, phone_verified
	`, username, uuid.New(), attrs.Name, attrs.Phone, attrs.PhoneVerified)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return identity.User{}, identity.ErrUserExists
		}
		return identity.User{}, fmt.Errorf("create patient %s: %w", username, err)
	}
	return u, nil
}

func (d *Directory) AddToGroup(ctx context.Context, username, group string) error {
	tag, err := d.conn.Exec(ctx, `
		INSERT INTO patient_groups (username, group_name)
		SELECT username, $2 FROM patients WHERE username = $1
		ON CONFLICT (username, group_name) DO NOTHING
	`, username, group)
	if err != nil {
		return fmt.Errorf("add %s to group %s: %w", username, group, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := d.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE username = $1)`, username).Scan(&exists); err != nil {
			return fmt.Errorf("check patient %s: %w", username, err)
		}
		if !exists {
			return identity.ErrUserNotFound
		}
	}
	return nil
}
