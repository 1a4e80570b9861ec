package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agenthub/internal/domain"
)

const userColumns = `id,username,email,password_hash,role,tier,is_active,last_login_at,login_count,created_at,updated_at`

func scanUser(scan func(...any) error) (domain.User, error) {
	var u domain.User
	var lastLogin sql.NullString
	var active int
	err := scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Tier, &active, &lastLogin, &u.LoginCount, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, mapErr(err)
	}
	u.IsActive = active != 0
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.String
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Tier, boolToInt(u.IsActive),
		nullableStringPtr(u.LastLoginAt), u.LoginCount, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := retryRead(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id).Scan)
		return scanErr
	})
	return u, err
}

// GetUserByEmail matches case-insensitively; the email column collates NOCASE.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := retryRead(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email).Scan)
		return scanErr
	})
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserUpdate carries the allow-listed mutable user fields. Password changes
// go through SetPassword only.
type UserUpdate struct {
	Username *string
	Email    *string
	Tier     *string
}

func (r Repo) UpdateUser(ctx context.Context, id string, upd UserUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if upd.Username != nil {
		fields = append(fields, "username=?")
		args = append(args, *upd.Username)
	}
	if upd.Email != nil {
		fields = append(fields, "email=?")
		args = append(args, *upd.Email)
	}
	if upd.Tier != nil {
		fields = append(fields, "tier=?")
		args = append(args, *upd.Tier)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPassword(ctx context.Context, id, passwordHash, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, passwordHash, now, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLogin bumps login_count and stamps last_login_at in one statement.
func (r Repo) TouchLogin(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET login_count=login_count+1, last_login_at=?, updated_at=? WHERE id=?`, now, now, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateUser soft-deletes: the row stays, authentication is refused.
func (r Repo) DeactivateUser(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET is_active=0, updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
