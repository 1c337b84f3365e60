package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/db"
	"github.com/ahmednader515/alkian-sub001/internal/position"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrChapterNotFound  = errors.New("chapter not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyPurchased = errors.New("course already purchased")
	ErrNotPublishable   = errors.New("course needs a title and a published chapter")
	ErrInvalidOrder     = errors.New("invalid chapter order")
)

type Service struct {
	db *sql.DB
}

type Course struct {
	ID          int64     `json:"id"`
	TeacherID   int64     `json:"teacher_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Price       float64   `json:"price"`
	IsPublished bool      `json:"is_published"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Chapters    []Chapter `json:"chapters,omitempty"`
}

type Chapter struct {
	ID          int64     `json:"id"`
	CourseID    int64     `json:"course_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	VideoURL    string    `json:"video_url,omitempty"`
	Position    int       `json:"position"`
	IsPublished bool      `json:"is_published"`
	IsFree      bool      `json:"is_free"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CourseDetail is the public view of a course. Locked chapters carry no
// video URL until the viewer owns a purchase.
type CourseDetail struct {
	Course
	Purchased bool `json:"purchased"`
}

type Purchase struct {
	ID          int64     `json:"id"`
	StudentID   int64     `json:"student_id"`
	CourseID    int64     `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	PricePaid   float64   `json:"price_paid"`
	CreatedAt   time.Time `json:"created_at"`
}

type CourseInput struct {
	Title       string
	Description string
	ImageURL    string
	Price       float64
	IsPublished bool
}

type ChapterInput struct {
	Title       string
	Description string
	VideoURL    string
	IsPublished bool
	IsFree      bool
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func teacherScope(teacherID int64) position.Scope {
	return position.Scope{Table: "courses", Where: "teacher_id = $1", Args: []interface{}{teacherID}}
}

func chapterScope(courseID int64) position.Scope {
	return position.Scope{Table: "chapters", Where: "course_id = $1", Args: []interface{}{courseID}}
}

const courseColumns = `id, teacher_id, title, description, image_url, price, is_published, position, created_at, updated_at`

const chapterColumns = `id, course_id, title, description, video_url, position, is_published, is_free, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(row scanner) (*Course, error) {
	var c Course
	if err := row.Scan(&c.ID, &c.TeacherID, &c.Title, &c.Description, &c.ImageURL, &c.Price, &c.IsPublished, &c.Position, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChapter(row scanner) (*Chapter, error) {
	var ch Chapter
	if err := row.Scan(&ch.ID, &ch.CourseID, &ch.Title, &ch.Description, &ch.VideoURL, &ch.Position, &ch.IsPublished, &ch.IsFree, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Service) CreateCourse(ctx context.Context, actor *auth.User, in CourseInput) (*Course, error) {
	in = normalizeCourseInput(in)
	if in.IsPublished {
		return nil, ErrNotPublishable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scope := teacherScope(actor.ID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	c, err := scanCourse(tx.QueryRowContext(ctx, `
		INSERT INTO courses (teacher_id, title, description, image_url, price, is_published, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, now(), now())
		RETURNING `+courseColumns, actor.ID, in.Title, in.Description, in.ImageURL, in.Price, pos))
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create course: %w", err)
	}
	return c, nil
}

func (s *Service) UpdateCourse(ctx context.Context, actor *auth.User, courseID int64, in CourseInput) (*Course, error) {
	in = normalizeCourseInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedCourse(ctx, tx, actor, courseID); err != nil {
		return nil, err
	}
	if in.IsPublished {
		published, err := countPublishedChapters(ctx, tx, courseID)
		if err != nil {
			return nil, err
		}
		if !CanPublish(in.Title, published) {
			return nil, ErrNotPublishable
		}
	}

	c, err := scanCourse(tx.QueryRowContext(ctx, `
		UPDATE courses
		SET title = $2,
			description = $3,
			image_url = $4,
			price = $5,
			is_published = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING `+courseColumns, courseID, in.Title, in.Description, in.ImageURL, in.Price, in.IsPublished))
	if err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update course: %w", err)
	}
	return c, nil
}

func (s *Service) DeleteCourse(ctx context.Context, actor *auth.User, courseID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var teacherID int64
	err = tx.QueryRowContext(ctx, `SELECT teacher_id FROM courses WHERE id = $1`, courseID).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCourseNotFound
		}
		return fmt.Errorf("load course: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return ErrForbidden
	}
	// The teacher's list lock comes before the course row, as in CreateCourse.
	scope := teacherScope(teacherID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return err
	}
	c, err := lockOwnedCourse(ctx, tx, actor, courseID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, courseID); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if err := position.CloseGap(ctx, tx, scope, c.Position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete course: %w", err)
	}
	return nil
}

// ListOwnCourses returns the actor's courses, or every course for an admin.
func (s *Service) ListOwnCourses(ctx context.Context, actor *auth.User) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE $1 OR teacher_id = $2
		ORDER BY teacher_id, position
	`, actor.IsAdmin(), actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list own courses: %w", err)
	}
	return collectCourses(rows)
}

// GetCourseForManage returns a course with every chapter, published or not.
func (s *Service) GetCourseForManage(ctx context.Context, actor *auth.User, courseID int64) (*Course, error) {
	c, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(c.TeacherID) {
		return nil, ErrForbidden
	}
	c.Chapters, err = s.listChapters(ctx, courseID, false)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListPublishedCourses(ctx context.Context, teacherID int64) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE is_published = TRUE
		  AND ($1 = 0 OR teacher_id = $1)
		ORDER BY teacher_id, position
	`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list published courses: %w", err)
	}
	return collectCourses(rows)
}

// GetCourse returns a published course with its published chapters ordered by
// position. viewer may be nil for guests.
func (s *Service) GetCourse(ctx context.Context, viewer *auth.User, courseID int64) (*CourseDetail, error) {
	c, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	owner := viewer.CanManage(c.TeacherID)
	if !c.IsPublished && !owner {
		return nil, ErrCourseNotFound
	}

	purchased := false
	if viewer != nil {
		purchased, err = HasPurchased(ctx, s.db, viewer.ID, courseID)
		if err != nil {
			return nil, err
		}
	}

	chapters, err := s.listChapters(ctx, courseID, true)
	if err != nil {
		return nil, err
	}
	unlocked := owner || purchased || c.Price == 0
	for i := range chapters {
		if !unlocked && !chapters[i].IsFree {
			chapters[i].VideoURL = ""
		}
	}
	c.Chapters = chapters
	return &CourseDetail{Course: *c, Purchased: purchased}, nil
}

func (s *Service) CreateChapter(ctx context.Context, actor *auth.User, courseID int64, in ChapterInput) (*Chapter, error) {
	in = normalizeChapterInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedCourse(ctx, tx, actor, courseID); err != nil {
		return nil, err
	}
	scope := chapterScope(courseID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	ch, err := scanChapter(tx.QueryRowContext(ctx, `
		INSERT INTO chapters (course_id, title, description, video_url, position, is_published, is_free, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+chapterColumns, courseID, in.Title, in.Description, in.VideoURL, pos, in.IsPublished, in.IsFree))
	if err != nil {
		return nil, fmt.Errorf("insert chapter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create chapter: %w", err)
	}
	return ch, nil
}

func (s *Service) UpdateChapter(ctx context.Context, actor *auth.User, chapterID int64, in ChapterInput) (*Chapter, error) {
	in = normalizeChapterInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	courseID, err := chapterCourseID(ctx, tx, chapterID)
	if err != nil {
		return nil, err
	}
	if _, err := lockOwnedCourse(ctx, tx, actor, courseID); err != nil {
		return nil, err
	}
	current, err := lockChapter(ctx, tx, chapterID)
	if err != nil {
		return nil, err
	}

	ch, err := scanChapter(tx.QueryRowContext(ctx, `
		UPDATE chapters
		SET title = $2,
			description = $3,
			video_url = $4,
			is_published = $5,
			is_free = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING `+chapterColumns, chapterID, in.Title, in.Description, in.VideoURL, in.IsPublished, in.IsFree))
	if err != nil {
		return nil, fmt.Errorf("update chapter: %w", err)
	}
	if current.IsPublished && !in.IsPublished {
		if err := unpublishIfEmpty(ctx, tx, current.CourseID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update chapter: %w", err)
	}
	return ch, nil
}

func (s *Service) DeleteChapter(ctx context.Context, actor *auth.User, chapterID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	courseID, err := chapterCourseID(ctx, tx, chapterID)
	if err != nil {
		return err
	}
	// Course row, then chapter list, then chapter row, as in CreateChapter.
	if _, err := lockOwnedCourse(ctx, tx, actor, courseID); err != nil {
		return err
	}
	scope := chapterScope(courseID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return err
	}
	current, err := lockChapter(ctx, tx, chapterID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE id = $1`, chapterID); err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	if err := position.CloseGap(ctx, tx, scope, current.Position); err != nil {
		return err
	}
	if current.IsPublished {
		if err := unpublishIfEmpty(ctx, tx, current.CourseID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chapter: %w", err)
	}
	return nil
}

func (s *Service) ReorderChapters(ctx context.Context, actor *auth.User, courseID int64, ids []int64) ([]Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedCourse(ctx, tx, actor, courseID); err != nil {
		return nil, err
	}
	scope := chapterScope(courseID)
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
		return nil, fmt.Errorf("commit reorder chapters: %w", err)
	}
	return s.listChapters(ctx, courseID, false)
}

func (s *Service) Purchase(ctx context.Context, student *auth.User, courseID int64) (*Purchase, error) {
	c, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !c.IsPublished {
		return nil, ErrCourseNotFound
	}

	p := Purchase{CourseTitle: c.Title}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO purchases (student_id, course_id, price_paid, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, student_id, course_id, price_paid, created_at
	`, student.ID, courseID, c.Price).Scan(&p.ID, &p.StudentID, &p.CourseID, &p.PricePaid, &p.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "purchases_student_course_key") {
			return nil, ErrAlreadyPurchased
		}
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	return &p, nil
}

func (s *Service) ListPurchases(ctx context.Context, studentID int64) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.student_id, p.course_id, c.title, p.price_paid, p.created_at
		FROM purchases p
		JOIN courses c ON c.id = p.course_id
		WHERE p.student_id = $1
		ORDER BY p.created_at DESC, p.id DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	out := make([]Purchase, 0)
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.StudentID, &p.CourseID, &p.CourseTitle, &p.PricePaid, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}

// HasPurchased reports whether the student owns a purchase of the course.
func HasPurchased(ctx context.Context, q db.Queryable, studentID, courseID int64) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM purchases WHERE student_id = $1 AND course_id = $2)
	`, studentID, courseID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return ok, nil
}

// CanPublish holds the publish rule: a title and at least one published chapter.
func CanPublish(title string, publishedChapters int) bool {
	return strings.TrimSpace(title) != "" && publishedChapters > 0
}

func (s *Service) getCourse(ctx context.Context, courseID int64) (*Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, courseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}
	return c, nil
}

func (s *Service) listChapters(ctx context.Context, courseID int64, publishedOnly bool) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters
		WHERE course_id = $1
		  AND (NOT $2 OR is_published = TRUE)
		ORDER BY position
	`, courseID, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	out := make([]Chapter, 0)
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return out, nil
}

func collectCourses(rows *sql.Rows) ([]Course, error) {
	defer rows.Close()
	out := make([]Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return out, nil
}

func lockOwnedCourse(ctx context.Context, tx *sql.Tx, actor *auth.User, courseID int64) (*Course, error) {
	c, err := scanCourse(tx.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, courseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}
	if !actor.CanManage(c.TeacherID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// chapterCourseID reads the parent course of a chapter without locking it.
func chapterCourseID(ctx context.Context, tx *sql.Tx, chapterID int64) (int64, error) {
	var courseID int64
	err := tx.QueryRowContext(ctx, `SELECT course_id FROM chapters WHERE id = $1`, chapterID).Scan(&courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrChapterNotFound
		}
		return 0, fmt.Errorf("load chapter: %w", err)
	}
	return courseID, nil
}

func lockChapter(ctx context.Context, tx *sql.Tx, chapterID int64) (*Chapter, error) {
	ch, err := scanChapter(tx.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = $1 FOR UPDATE`, chapterID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChapterNotFound
		}
		return nil, fmt.Errorf("lock chapter: %w", err)
	}
	return ch, nil
}

func countPublishedChapters(ctx context.Context, q db.Queryable, courseID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chapters WHERE course_id = $1 AND is_published = TRUE
	`, courseID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count published chapters: %w", err)
	}
	return n, nil
}

// unpublishIfEmpty takes a course offline once it has no published chapter left.
func unpublishIfEmpty(ctx context.Context, tx *sql.Tx, courseID int64) error {
	n, err := countPublishedChapters(ctx, tx, courseID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE courses SET is_published = FALSE, updated_at = now() WHERE id = $1 AND is_published = TRUE
	`, courseID); err != nil {
		return fmt.Errorf("unpublish course: %w", err)
	}
	return nil
}

func normalizeCourseInput(in CourseInput) CourseInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Price < 0 {
		in.Price = 0
	}
	return in
}

func normalizeChapterInput(in ChapterInput) ChapterInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.VideoURL = strings.TrimSpace(in.VideoURL)
	return in
}
