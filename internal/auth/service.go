package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/db"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
	ErrUserNotFound       = errors.New("user not found")
	ErrPhoneTaken         = errors.New("phone number already registered")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrFullNameRequired   = errors.New("full name is required")
	ErrNoTeacher          = errors.New("no teacher account exists")
)

type Service struct {
	db                *sql.DB
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	bootstrapToken    string
}

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	BootstrapToken    string
}

type User struct {
	ID          int64     `json:"id"`
	Role        string    `json:"role"`
	PhoneNumber string    `json:"phone_number"`
	FullName    string    `json:"full_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAdmin reports whether u bypasses ownership checks.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanManage reports whether u may mutate a resource owned by teacherID.
func (u *User) CanManage(teacherID int64) bool {
	if u == nil {
		return false
	}
	return u.IsAdmin() || u.ID == teacherID
}

type AccountInput struct {
	PhoneNumber string
	FullName    string
	Password    string
}

type BootstrapInput struct {
	Token string
	AccountInput
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		bootstrapToken:    strings.TrimSpace(cfg.BootstrapToken),
	}
}

// NormalizePhone keeps a leading '+' and the digits of s, dropping spaces,
// dashes, dots and parentheses. The result must hold 8 to 15 digits.
func NormalizePhone(s string) (string, error) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	if digits < 8 || digits > 15 {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}

func (s *Service) Register(ctx context.Context, in AccountInput) (*User, error) {
	return s.createUser(ctx, RoleStudent, in)
}

func (s *Service) CreateTeacher(ctx context.Context, in AccountInput) (*User, error) {
	return s.createUser(ctx, RoleTeacher, in)
}

func (s *Service) createUser(ctx context.Context, role string, in AccountInput) (*User, error) {
	phone, err := NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, ErrFullNameRequired
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var u User
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (role, phone_number, full_name, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now(), now())
		RETURNING id, role, phone_number, full_name, is_active, created_at
	`, role, phone, fullName, string(hash)).Scan(&u.ID, &u.Role, &u.PhoneNumber, &u.FullName, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "users_phone_number_key") {
			return nil, ErrPhoneTaken
		}
		return nil, fmt.Errorf("insert %s user: %w", role, err)
	}
	return &u, nil
}

func (s *Service) AuthenticatePassword(ctx context.Context, phone, password string) (*User, error) {
	phone, err := NormalizePhone(phone)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}

	guardKey := phone
	locked, _, err := s.isGuardLocked(ctx, "password_login", guardKey)
	if err != nil {
		return nil, fmt.Errorf("check login guard: %w", err)
	}
	if locked {
		return nil, ErrRateLimited
	}

	var u User
	var passwordHash string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, role, phone_number, full_name, is_active, created_at, password_hash
		FROM users
		WHERE phone_number = $1
		LIMIT 1
	`, phone).Scan(&u.ID, &u.Role, &u.PhoneNumber, &u.FullName, &u.IsActive, &u.CreatedAt, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, "password_login", guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, "password_login", guardKey)
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}

	_ = s.clearGuard(ctx, "password_login", guardKey)
	return &u, nil
}

// BootstrapAdmin creates the first admin, or promotes and resets the account
// already holding the phone number. It requires the configured token.
func (s *Service) BootstrapAdmin(ctx context.Context, in BootstrapInput) (*User, error) {
	if s.bootstrapToken == "" || !secureEqual(in.Token, s.bootstrapToken) {
		return nil, ErrBootstrapDenied
	}
	phone, err := NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		fullName = "Administrator"
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}

	var u User
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (role, phone_number, full_name, password_hash, is_active, created_at, updated_at)
		VALUES ('admin', $1, $2, $3, TRUE, now(), now())
		ON CONFLICT ON CONSTRAINT users_phone_number_key
		DO UPDATE SET
			role = 'admin',
			full_name = EXCLUDED.full_name,
			password_hash = EXCLUDED.password_hash,
			is_active = TRUE,
			updated_at = now()
		RETURNING id, role, phone_number, full_name, is_active, created_at
	`, phone, fullName, string(hash)).Scan(&u.ID, &u.Role, &u.PhoneNumber, &u.FullName, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert bootstrap admin: %w", err)
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.role, u.phone_number, u.full_name, u.is_active, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token)).Scan(&u.ID, &u.Role, &u.PhoneNumber, &u.FullName, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func isValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

func (s *Service) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, errors.New("invalid role filter")
	}
	q = strings.TrimSpace(q)
	if limit <= 0 || limit > 10000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, phone_number, full_name, is_active, created_at
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2 = '' OR full_name ILIKE '%' || $2 || '%' OR phone_number LIKE '%' || $2 || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT $3
		OFFSET $4
	`, role, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Role, &u.PhoneNumber, &u.FullName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// SetUserActive toggles login access. Deactivation also revokes open sessions.
func (s *Service) SetUserActive(ctx context.Context, userID int64, active bool) error {
	if userID <= 0 {
		return ErrUserNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET is_active = $2,
			updated_at = now()
		WHERE id = $1
	`, userID, active)
	if err != nil {
		return fmt.Errorf("update user active: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrUserNotFound
	}
	if !active {
		if _, err := tx.ExecContext(ctx, `
			UPDATE auth_sessions
			SET revoked_at = now()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID); err != nil {
			return fmt.Errorf("revoke user sessions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user active: %w", err)
	}
	return nil
}

// EarliestTeacherID resolves the teacher whose public content is served when
// a public read names no teacher.
func EarliestTeacherID(ctx context.Context, q db.Queryable) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id
		FROM users
		WHERE role = 'teacher' AND is_active = TRUE
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoTeacher
		}
		return 0, fmt.Errorf("query earliest teacher: %w", err)
	}
	return id, nil
}

func (s *Service) isGuardLocked(ctx context.Context, purpose, subjectKey string) (bool, time.Time, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if !lockedUntil.Valid {
		return false, time.Time{}, nil
	}
	if time.Now().Before(lockedUntil.Time) {
		return true, lockedUntil.Time, nil
	}
	return false, lockedUntil.Time, nil
}

func (s *Service) registerFailure(ctx context.Context, purpose, subjectKey string) error {
	var failedCount int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_guard_states (purpose, subject_key, failed_count, updated_at, created_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (purpose, subject_key)
		DO UPDATE SET
			failed_count = auth_guard_states.failed_count + 1,
			updated_at = now()
		RETURNING failed_count
	`, purpose, subjectKey).Scan(&failedCount)
	if err != nil {
		return err
	}

	if failedCount >= s.loginMaxFailures {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auth_guard_states
			SET locked_until = now() + $3::interval,
				failed_count = 0,
				updated_at = now()
			WHERE purpose = $1 AND subject_key = $2
		`, purpose, subjectKey, fmt.Sprintf("%d seconds", int(s.loginLockDuration.Seconds())))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearGuard(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey)
	return err
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return ha == hb
}
