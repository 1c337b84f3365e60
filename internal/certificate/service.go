package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/db"
)

var (
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrForbidden           = errors.New("forbidden")
	ErrPromoTaken          = errors.New("promo code already in use")
	ErrInvalidPromo        = errors.New("invalid promo code")
	ErrExpired             = errors.New("certificate expired")
	ErrExhausted           = errors.New("certificate download limit reached")
)

const (
	generatedCodeLen    = 8
	maxGenerateAttempts = 5
	qrSize              = 256
)

type Service struct {
	db            *sql.DB
	publicBaseURL string
	now           func() time.Time
}

type Certificate struct {
	ID            int64      `json:"id"`
	TeacherID     int64      `json:"teacher_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	StudentName   string     `json:"student_name"`
	FileURL       string     `json:"file_url"`
	PromoCode     string     `json:"promo_code"`
	DownloadCount int        `json:"download_count"`
	MaxDownloads  *int       `json:"max_downloads"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type CertificateInput struct {
	Title        string
	Description  string
	StudentName  string
	FileURL      string
	PromoCode    string
	MaxDownloads *int
	ExpiresAt    *time.Time
	IsActive     bool
}

type Download struct {
	ID            int64     `json:"id"`
	CertificateID int64     `json:"certificate_id"`
	UserID        *int64    `json:"user_id"`
	UserName      string    `json:"user_name,omitempty"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

// Redemption is the public view of a certificate. Remaining is nil when the
// certificate has no download limit.
type Redemption struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	StudentName   string     `json:"student_name"`
	FileURL       string     `json:"file_url"`
	DownloadCount int        `json:"download_count"`
	Remaining     *int       `json:"remaining"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type RedeemMeta struct {
	UserID    *int64
	IPAddress string
	UserAgent string
}

func NewService(db *sql.DB, publicBaseURL string) *Service {
	return &Service{
		db:            db,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		now:           time.Now,
	}
}

const certificateColumns = `id, teacher_id, title, description, student_name, file_url, promo_code, download_count, max_downloads, expires_at, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCertificate(row scanner) (*Certificate, error) {
	var (
		c            Certificate
		maxDownloads sql.NullInt64
		expiresAt    sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TeacherID, &c.Title, &c.Description, &c.StudentName, &c.FileURL, &c.PromoCode, &c.DownloadCount, &maxDownloads, &expiresAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if maxDownloads.Valid {
		v := int(maxDownloads.Int64)
		c.MaxDownloads = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

// NormalizePromoCode is applied to codes on every write and lookup.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GeneratePromoCode derives an 8 character code from a random UUID.
func GeneratePromoCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:generatedCodeLen])
}

func validPromoCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// IsExpired reports whether now is strictly past expiresAt.
func IsExpired(now time.Time, expiresAt *time.Time) bool {
	return expiresAt != nil && now.After(*expiresAt)
}

func IsExhausted(downloadCount int, maxDownloads *int) bool {
	return maxDownloads != nil && downloadCount >= *maxDownloads
}

func remaining(downloadCount int, maxDownloads *int) *int {
	if maxDownloads == nil {
		return nil
	}
	left := *maxDownloads - downloadCount
	if left < 0 {
		left = 0
	}
	return &left
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in CertificateInput) (*Certificate, error) {
	in = normalizeInput(in)
	generate := in.PromoCode == ""
	if !generate && !validPromoCode(in.PromoCode) {
		return nil, ErrInvalidPromo
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code := in.PromoCode
		if generate {
			code = GeneratePromoCode()
		}
		c, err := scanCertificate(s.db.QueryRowContext(ctx, `
			INSERT INTO certificates (teacher_id, title, description, student_name, file_url, promo_code, download_count, max_downloads, expires_at, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, now(), now())
			RETURNING `+certificateColumns,
			actor.ID, in.Title, in.Description, in.StudentName, in.FileURL, code, nullableInt(in.MaxDownloads), nullableTime(in.ExpiresAt), in.IsActive))
		if err == nil {
			return c, nil
		}
		if db.IsUniqueViolation(err, "certificates_promo_code_key") {
			if generate {
				continue
			}
			return nil, ErrPromoTaken
		}
		return nil, fmt.Errorf("insert certificate: %w", err)
	}
	return nil, ErrPromoTaken
}

// Update replaces every editable field. An empty promo code keeps the
// current one.
func (s *Service) Update(ctx context.Context, actor *auth.User, id int64, in CertificateInput) (*Certificate, error) {
	in = normalizeInput(in)
	if in.PromoCode != "" && !validPromoCode(in.PromoCode) {
		return nil, ErrInvalidPromo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockOwned(ctx, tx, actor, id)
	if err != nil {
		return nil, err
	}
	if in.PromoCode == "" {
		in.PromoCode = current.PromoCode
	}

	c, err := scanCertificate(tx.QueryRowContext(ctx, `
		UPDATE certificates
		SET title = $2,
			description = $3,
			student_name = $4,
			file_url = $5,
			promo_code = $6,
			max_downloads = $7,
			expires_at = $8,
			is_active = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING `+certificateColumns,
		id, in.Title, in.Description, in.StudentName, in.FileURL, in.PromoCode, nullableInt(in.MaxDownloads), nullableTime(in.ExpiresAt), in.IsActive))
	if err != nil {
		if db.IsUniqueViolation(err, "certificates_promo_code_key") {
			return nil, ErrPromoTaken
		}
		return nil, fmt.Errorf("update certificate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update certificate: %w", err)
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, actor *auth.User, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwned(ctx, tx, actor, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete certificate: %w", err)
	}
	return nil
}

// List returns the actor's certificates; admins see every teacher's.
func (s *Service) List(ctx context.Context, actor *auth.User) ([]Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates`
	args := []interface{}{}
	if !actor.IsAdmin() {
		query += ` WHERE teacher_id = $1`
		args = append(args, actor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	out := make([]Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.User, id int64) (*Certificate, error) {
	c, err := scanCertificate(s.db.QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	if !actor.CanManage(c.TeacherID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Service) ListDownloads(ctx context.Context, actor *auth.User, id int64) ([]Download, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.certificate_id, d.user_id, COALESCE(u.full_name, ''), COALESCE(d.ip_address, ''), COALESCE(d.user_agent, ''), d.downloaded_at
		FROM certificate_downloads d
		LEFT JOIN users u ON u.id = d.user_id
		WHERE d.certificate_id = $1
		ORDER BY d.downloaded_at DESC, d.id DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	out := make([]Download, 0)
	for rows.Next() {
		var (
			d      Download
			userID sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.CertificateID, &userID, &d.UserName, &d.IPAddress, &d.UserAgent, &d.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		if userID.Valid {
			v := userID.Int64
			d.UserID = &v
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}

// ValidationURL is the public page a QR code points to.
func (s *Service) ValidationURL(code string) string {
	return s.publicBaseURL + "/certificates/validate?code=" + url.QueryEscape(NormalizePromoCode(code))
}

func (s *Service) QRCode(ctx context.Context, actor *auth.User, id int64) ([]byte, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.ValidationURL(c.PromoCode), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

// Validate runs the redemption checks without recording anything.
func (s *Service) Validate(ctx context.Context, code string) (*Redemption, error) {
	c, err := findActive(ctx, s.db, code, false)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(c, s.now()); err != nil {
		return nil, err
	}
	return project(c), nil
}

func (s *Service) Redeem(ctx context.Context, code string, meta RedeemMeta) (*Redemption, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := findActive(ctx, tx, code, true)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(c, s.now()); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO certificate_downloads (certificate_id, user_id, ip_address, user_agent, downloaded_at)
		VALUES ($1, $2, $3, $4, now())
	`, c.ID, nullableInt64(meta.UserID), meta.IPAddress, meta.UserAgent); err != nil {
		return nil, fmt.Errorf("insert download: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE certificates
		SET download_count = download_count + 1,
			updated_at = now()
		WHERE id = $1
			AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING download_count
	`, c.ID).Scan(&c.DownloadCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExhausted
		}
		return nil, fmt.Errorf("increment download count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redemption: %w", err)
	}
	return project(c), nil
}

func checkRedeemable(c *Certificate, now time.Time) error {
	if IsExpired(now, c.ExpiresAt) {
		return ErrExpired
	}
	if IsExhausted(c.DownloadCount, c.MaxDownloads) {
		return ErrExhausted
	}
	return nil
}

func project(c *Certificate) *Redemption {
	return &Redemption{
		ID:            c.ID,
		Title:         c.Title,
		StudentName:   c.StudentName,
		FileURL:       c.FileURL,
		DownloadCount: c.DownloadCount,
		Remaining:     remaining(c.DownloadCount, c.MaxDownloads),
		ExpiresAt:     c.ExpiresAt,
	}
}

func findActive(ctx context.Context, q db.Queryable, code string, forUpdate bool) (*Certificate, error) {
	code = NormalizePromoCode(code)
	if code == "" {
		return nil, ErrCertificateNotFound
	}
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE promo_code = $1 AND is_active = TRUE`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCertificate(q.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

func lockOwned(ctx context.Context, tx *sql.Tx, actor *auth.User, id int64) (*Certificate, error) {
	c, err := scanCertificate(tx.QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("lock certificate: %w", err)
	}
	if !actor.CanManage(c.TeacherID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func normalizeInput(in CertificateInput) CertificateInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.StudentName = strings.TrimSpace(in.StudentName)
	in.FileURL = strings.TrimSpace(in.FileURL)
	in.PromoCode = NormalizePromoCode(in.PromoCode)
	return in
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
