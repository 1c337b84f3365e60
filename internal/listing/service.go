// Package listing manages the ordered per-teacher title lists shown on the
// public site: services, general services, accreditations and certificate
// details. Each kind lives in its own table with the same shape.
package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/position"
)

var (
	ErrUnknownKind  = errors.New("unknown listing kind")
	ErrNotFound     = errors.New("listing not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidOrder = errors.New("invalid listing order")
	ErrNoTeacher    = errors.New("no teacher account")
)

const (
	KindServices           = "services"
	KindGeneralServices    = "general-services"
	KindAccreditations     = "accreditations"
	KindCertificateDetails = "certificate-details"
)

var kindTables = map[string]string{
	KindServices:           "services",
	KindGeneralServices:    "general_services",
	KindAccreditations:     "accreditations",
	KindCertificateDetails: "certificate_details",
}

// Kinds lists every supported kind in display order.
func Kinds() []string {
	return []string{KindServices, KindGeneralServices, KindAccreditations, KindCertificateDetails}
}

type Service struct {
	db *sql.DB
}

type Listing struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	TeacherID   int64     `json:"teacher_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Input struct {
	Title       string
	Description string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// TableFor maps a kind (accepting underscores and any case) to its table.
func TableFor(kind string) (string, string, bool) {
	k := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(kind), "_", "-"))
	table, ok := kindTables[k]
	return k, table, ok
}

func scope(table string, teacherID int64) position.Scope {
	return position.Scope{Table: table, Where: "teacher_id = $1", Args: []interface{}{teacherID}}
}

const columns = `id, teacher_id, title, description, position, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row scanner, kind string) (*Listing, error) {
	l := Listing{Kind: kind}
	if err := row.Scan(&l.ID, &l.TeacherID, &l.Title, &l.Description, &l.Position, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) Create(ctx context.Context, actor *auth.User, kind string, in Input) (*Listing, error) {
	kind, table, ok := TableFor(kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	in = normalizeInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sc := scope(table, actor.ID)
	if err := position.Lock(ctx, tx, sc); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, sc)
	if err != nil {
		return nil, err
	}
	l, err := scanListing(tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (teacher_id, title, description, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING %s`, table, columns), actor.ID, in.Title, in.Description, pos), kind)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create %s: %w", table, err)
	}
	return l, nil
}

func (s *Service) Update(ctx context.Context, actor *auth.User, kind string, id int64, in Input) (*Listing, error) {
	kind, table, ok := TableFor(kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	in = normalizeInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwned(ctx, tx, actor, kind, table, id); err != nil {
		return nil, err
	}
	l, err := scanListing(tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET title = $2,
			description = $3,
			updated_at = now()
		WHERE id = $1
		RETURNING %s`, table, columns), id, in.Title, in.Description), kind)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", table, err)
	}
	return l, nil
}

func (s *Service) Delete(ctx context.Context, actor *auth.User, kind string, id int64) error {
	kind, table, ok := TableFor(kind)
	if !ok {
		return ErrUnknownKind
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var teacherID int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT teacher_id FROM %s WHERE id = $1`, table), id).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load %s: %w", table, err)
	}
	if !actor.CanManage(teacherID) {
		return ErrForbidden
	}
	// The list lock comes before any row lock, as in Create and Reorder.
	sc := scope(table, teacherID)
	if err := position.Lock(ctx, tx, sc); err != nil {
		return err
	}
	l, err := lockOwned(ctx, tx, actor, kind, table, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if err := position.CloseGap(ctx, tx, sc, l.Position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s: %w", table, err)
	}
	return nil
}

func (s *Service) Reorder(ctx context.Context, actor *auth.User, kind string, ids []int64) ([]Listing, error) {
	kind, table, ok := TableFor(kind)
	if !ok {
		return nil, ErrUnknownKind
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sc := scope(table, actor.ID)
	if err := position.Lock(ctx, tx, sc); err != nil {
		return nil, err
	}
	if err := position.Reorder(ctx, tx, sc, ids); err != nil {
		if errors.Is(err, position.ErrInvalidOrder) {
			return nil, ErrInvalidOrder
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reorder %s: %w", table, err)
	}
	return s.list(ctx, kind, table, actor.ID)
}

// List returns a teacher's listings of one kind. teacherID 0 resolves to the
// earliest teacher account.
func (s *Service) List(ctx context.Context, teacherID int64, kind string) ([]Listing, error) {
	kind, table, ok := TableFor(kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	if teacherID <= 0 {
		id, err := auth.EarliestTeacherID(ctx, s.db)
		if err != nil {
			if errors.Is(err, auth.ErrNoTeacher) {
				return nil, ErrNoTeacher
			}
			return nil, err
		}
		teacherID = id
	}
	return s.list(ctx, kind, table, teacherID)
}

func (s *Service) list(ctx context.Context, kind, table string, teacherID int64) ([]Listing, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE teacher_id = $1
		ORDER BY position`, columns, table), teacherID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func lockOwned(ctx context.Context, tx *sql.Tx, actor *auth.User, kind, table string, id int64) (*Listing, error) {
	l, err := scanListing(tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, columns, table), id), kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock %s: %w", table, err)
	}
	if !actor.CanManage(l.TeacherID) {
		return nil, ErrForbidden
	}
	return l, nil
}

func normalizeInput(in Input) Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	return in
}
