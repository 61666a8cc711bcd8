package auth

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserExists = errors.New("a user with that email already exists")

// Repo persists users, sessions and password resets. It shares the
// application's SQLite handle; the store package owns the schema.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateUser(email, passwordHash string, now time.Time) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := r.db.Exec(
		`INSERT INTO users (id, email, password_hash, push_token, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?);`,
		u.ID, u.Email, u.PasswordHash, stamp(now), stamp(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (r *Repo) userBy(where, arg string) (User, bool) {
	row := r.db.QueryRow(
		`SELECT id, email, password_hash, push_token, created_at, updated_at FROM users WHERE `+where+` = ?;`, arg)
	var u User
	var created, updated string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PushToken, &created, &updated)
	if err != nil {
		return User{}, false
	}
	u.CreatedAt = unstamp(created)
	u.UpdatedAt = unstamp(updated)
	return u, true
}

func (r *Repo) GetUserByEmail(email string) (User, bool) { return r.userBy("email", email) }
func (r *Repo) GetUserByID(id string) (User, bool)       { return r.userBy("id", id) }

func (r *Repo) UpdatePassword(userID, passwordHash string, now time.Time) error {
	_, err := r.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?;`,
		passwordHash, stamp(now), userID)
	return err
}

func (r *Repo) UpdatePushToken(userID, pushToken string, now time.Time) error {
	_, err := r.db.Exec(
		`UPDATE users SET push_token = ?, updated_at = ? WHERE id = ?;`,
		pushToken, stamp(now), userID)
	return err
}

func (r *Repo) CreateSession(s Session) error {
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, user_id, token_hash, created_at, last_seen, expires_at) VALUES (?, ?, ?, ?, ?, ?);`,
		s.ID, s.UserID, s.TokenHash, stamp(s.CreatedAt), stamp(s.LastSeen), stamp(s.ExpiresAt))
	return err
}

func (r *Repo) GetSessionByTokenHash(tokenHash string) (Session, bool) {
	row := r.db.QueryRow(
		`SELECT id, user_id, token_hash, created_at, last_seen, expires_at FROM sessions WHERE token_hash = ?;`, tokenHash)
	var s Session
	var created, seen, expires string
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &created, &seen, &expires); err != nil {
		return Session{}, false
	}
	s.CreatedAt = unstamp(created)
	s.LastSeen = unstamp(seen)
	s.ExpiresAt = unstamp(expires)
	return s, true
}

func (r *Repo) TouchSession(id string, now time.Time) error {
	_, err := r.db.Exec(`UPDATE sessions SET last_seen = ? WHERE id = ?;`, stamp(now), id)
	return err
}

func (r *Repo) DeleteSessionByID(id string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?;`, id)
	return err
}

func (r *Repo) DeleteSessionByTokenHash(tokenHash string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE token_hash = ?;`, tokenHash)
	return err
}

// DeleteSessionsForUser signs the user out everywhere. Used after a
// password change or reset.
func (r *Repo) DeleteSessionsForUser(userID string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE user_id = ?;`, userID)
	return err
}

func (r *Repo) CreatePasswordReset(p PasswordReset) error {
	_, err := r.db.Exec(
		`INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES (?, ?, ?);`,
		p.TokenHash, p.UserID, stamp(p.ExpiresAt))
	return err
}

// ConsumePasswordReset deletes and returns the reset in one step so a
// token can never be redeemed twice.
func (r *Repo) ConsumePasswordReset(tokenHash string) (PasswordReset, bool) {
	row := r.db.QueryRow(
		`SELECT token_hash, user_id, expires_at FROM password_resets WHERE token_hash = ?;`, tokenHash)
	var p PasswordReset
	var expires string
	if err := row.Scan(&p.TokenHash, &p.UserID, &expires); err != nil {
		return PasswordReset{}, false
	}
	p.ExpiresAt = unstamp(expires)
	if _, err := r.db.Exec(`DELETE FROM password_resets WHERE token_hash = ?;`, tokenHash); err != nil {
		return PasswordReset{}, false
	}
	return p, true
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func unstamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
