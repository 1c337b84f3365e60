package content

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
	ErrContentNotFound = errors.New("content not found")
	ErrItemNotFound    = errors.New("content item not found")
	ErrUnknownType     = errors.New("unknown content type")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidOrder    = errors.New("invalid item order")
	ErrNoTeacher       = errors.New("no teacher account")
)

// Singleton page types hold at most one row per teacher.
const (
	TypeAboutUs   = "ABOUT_US"
	TypeContactUs = "CONTACT_US"
	TypeHero      = "HERO"
	TypeTerms     = "TERMS"
)

// List types hold an ordered list of items per teacher.
const (
	TypeBranches     = "BRANCHES"
	TypeGallery      = "GALLERY"
	TypeTestimonials = "TESTIMONIALS"
)

var singletonTypes = map[string]struct{}{
	TypeAboutUs:   {},
	TypeContactUs: {},
	TypeHero:      {},
	TypeTerms:     {},
}

var listTypes = map[string]struct{}{
	TypeBranches:     {},
	TypeGallery:      {},
	TypeTestimonials: {},
}

type Service struct {
	db *sql.DB
}

type Content struct {
	ID        int64     `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ImageURL  string    `json:"image_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Item struct {
	ID        int64     `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ImageURL  string    `json:"image_url"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Input struct {
	Title    string
	Body     string
	ImageURL string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SingletonType canonicalizes raw and reports whether it names a page type.
func SingletonType(raw string) (string, bool) {
	t := canonicalType(raw)
	_, ok := singletonTypes[t]
	return t, ok
}

// ListType canonicalizes raw and reports whether it names a list type.
func ListType(raw string) (string, bool) {
	t := canonicalType(raw)
	_, ok := listTypes[t]
	return t, ok
}

// canonicalType accepts both "about-us" and "ABOUT_US".
func canonicalType(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
}

func itemScope(teacherID int64, typ string) position.Scope {
	return position.Scope{Table: "content_items", Where: "teacher_id = $1 AND type = $2", Args: []interface{}{teacherID, typ}}
}

const contentColumns = `id, teacher_id, type, title, body, image_url, updated_at`

const itemColumns = `id, teacher_id, type, title, body, image_url, position, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanContent(row scanner) (*Content, error) {
	var c Content
	if err := row.Scan(&c.ID, &c.TeacherID, &c.Type, &c.Title, &c.Body, &c.ImageURL, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanItem(row scanner) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.TeacherID, &it.Type, &it.Title, &it.Body, &it.ImageURL, &it.Position, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// Upsert writes the actor's single page of the given type.
func (s *Service) Upsert(ctx context.Context, actor *auth.User, rawType string, in Input) (*Content, error) {
	typ, ok := SingletonType(rawType)
	if !ok {
		return nil, ErrUnknownType
	}
	in = normalizeInput(in)

	c, err := scanContent(s.db.QueryRowContext(ctx, `
		INSERT INTO contents (teacher_id, type, title, body, image_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT ON CONSTRAINT contents_teacher_type_key DO UPDATE
		SET title = EXCLUDED.title,
			body = EXCLUDED.body,
			image_url = EXCLUDED.image_url,
			updated_at = now()
		RETURNING `+contentColumns, actor.ID, typ, in.Title, in.Body, in.ImageURL))
	if err != nil {
		return nil, fmt.Errorf("upsert content: %w", err)
	}
	return c, nil
}

// Get returns one page. teacherID 0 resolves to the earliest teacher.
func (s *Service) Get(ctx context.Context, teacherID int64, rawType string) (*Content, error) {
	typ, ok := SingletonType(rawType)
	if !ok {
		return nil, ErrUnknownType
	}
	teacherID, err := s.resolveTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	c, err := scanContent(s.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		FROM contents
		WHERE teacher_id = $1 AND type = $2
	`, teacherID, typ))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}

func (s *Service) CreateItem(ctx context.Context, actor *auth.User, rawType string, in Input) (*Item, error) {
	typ, ok := ListType(rawType)
	if !ok {
		return nil, ErrUnknownType
	}
	in = normalizeInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scope := itemScope(actor.ID, typ)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, scope)
	if err != nil {
		return nil, err
	}
	it, err := scanItem(tx.QueryRowContext(ctx, `
		INSERT INTO content_items (teacher_id, type, title, body, image_url, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+itemColumns, actor.ID, typ, in.Title, in.Body, in.ImageURL, pos))
	if err != nil {
		return nil, fmt.Errorf("insert content item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create item: %w", err)
	}
	return it, nil
}

func (s *Service) UpdateItem(ctx context.Context, actor *auth.User, id int64, in Input) (*Item, error) {
	in = normalizeInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedItem(ctx, tx, actor, id); err != nil {
		return nil, err
	}
	it, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE content_items
		SET title = $2,
			body = $3,
			image_url = $4,
			updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns, id, in.Title, in.Body, in.ImageURL))
	if err != nil {
		return nil, fmt.Errorf("update content item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update item: %w", err)
	}
	return it, nil
}

func (s *Service) DeleteItem(ctx context.Context, actor *auth.User, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		teacherID int64
		typ       string
	)
	err = tx.QueryRowContext(ctx, `SELECT teacher_id, type FROM content_items WHERE id = $1`, id).Scan(&teacherID, &typ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("load content item: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return ErrForbidden
	}
	// The list lock comes before the row lock, as in CreateItem and ReorderItems.
	scope := itemScope(teacherID, typ)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return err
	}
	it, err := lockOwnedItem(ctx, tx, actor, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete content item: %w", err)
	}
	if err := position.CloseGap(ctx, tx, scope, it.Position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete item: %w", err)
	}
	return nil
}

// ReorderItems rewrites the order of the actor's own list.
func (s *Service) ReorderItems(ctx context.Context, actor *auth.User, rawType string, ids []int64) ([]Item, error) {
	typ, ok := ListType(rawType)
	if !ok {
		return nil, ErrUnknownType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scope := itemScope(actor.ID, typ)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	if err := position.Reorder(ctx, tx, scope, ids); err != nil {
		if errors.Is(err, position.ErrInvalidOrder) {
			return nil, ErrInvalidOrder
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reorder items: %w", err)
	}
	return s.listItems(ctx, actor.ID, typ)
}

// ListItems returns a list ordered by position. teacherID 0 resolves to the
// earliest teacher.
func (s *Service) ListItems(ctx context.Context, teacherID int64, rawType string) ([]Item, error) {
	typ, ok := ListType(rawType)
	if !ok {
		return nil, ErrUnknownType
	}
	teacherID, err := s.resolveTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return s.listItems(ctx, teacherID, typ)
}

func (s *Service) listItems(ctx context.Context, teacherID int64, typ string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM content_items
		WHERE teacher_id = $1 AND type = $2
		ORDER BY position
	`, teacherID, typ)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content items: %w", err)
	}
	return out, nil
}

func (s *Service) resolveTeacher(ctx context.Context, teacherID int64) (int64, error) {
	if teacherID > 0 {
		return teacherID, nil
	}
	id, err := auth.EarliestTeacherID(ctx, s.db)
	if err != nil {
		if errors.Is(err, auth.ErrNoTeacher) {
			return 0, ErrNoTeacher
		}
		return 0, err
	}
	return id, nil
}

func lockOwnedItem(ctx context.Context, tx *sql.Tx, actor *auth.User, id int64) (*Item, error) {
	it, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock content item: %w", err)
	}
	if !actor.CanManage(it.TeacherID) {
		return nil, ErrForbidden
	}
	return it, nil
}

func normalizeInput(in Input) Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	return in
}
