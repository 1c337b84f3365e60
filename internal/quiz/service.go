package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/db"
	"github.com/ahmednader515/alkian-sub001/internal/position"
)

var (
	ErrCourseNotFound       = errors.New("course not found")
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrResultNotFound       = errors.New("result not found")
	ErrForbidden            = errors.New("forbidden")
	ErrNotPublishable       = errors.New("quiz needs at least one question to be published")
	ErrInvalidOrder         = errors.New("invalid question order")
	ErrPurchaseRequired     = errors.New("course purchase required")
	ErrAttemptsExhausted    = errors.New("no attempts left")
	ErrConcurrentSubmission = errors.New("concurrent submission for the same attempt")
	ErrInvalidAnswers       = errors.New("invalid answers")
	ErrInvalidGrade         = errors.New("invalid grade")
)

type Service struct {
	db *sql.DB
}

type Quiz struct {
	ID          int64      `json:"id"`
	CourseID    int64      `json:"course_id"`
	TeacherID   int64      `json:"teacher_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	MaxAttempts int        `json:"max_attempts"`
	IsPublished bool       `json:"is_published"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `json:"questions,omitempty"`
}

type Question struct {
	ID            int64     `json:"id"`
	QuizID        int64     `json:"quiz_id"`
	Text          string    `json:"text"`
	Type          string    `json:"type"`
	Options       []string  `json:"options"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	Points        int       `json:"points"`
	Position      int       `json:"position"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type QuizInput struct {
	Title       string
	Description string
	MaxAttempts int
	IsPublished bool
}

type QuestionInput struct {
	Text          string
	Type          string
	Options       []string
	CorrectAnswer string
	Points        int
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func courseScope(courseID int64) position.Scope {
	return position.Scope{Table: "quizzes", Where: "course_id = $1", Args: []interface{}{courseID}}
}

func questionScope(quizID int64) position.Scope {
	return position.Scope{Table: "quiz_questions", Where: "quiz_id = $1", Args: []interface{}{quizID}}
}

const quizColumns = `id, course_id, teacher_id, title, description, max_attempts, is_published, position, created_at, updated_at`

const questionColumns = `id, quiz_id, text, type, options, correct_answer, points, position, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanQuiz(row scanner) (*Quiz, error) {
	var q Quiz
	if err := row.Scan(&q.ID, &q.CourseID, &q.TeacherID, &q.Title, &q.Description, &q.MaxAttempts, &q.IsPublished, &q.Position, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQuestion(row scanner) (*Question, error) {
	var q Question
	var options []byte
	if err := row.Scan(&q.ID, &q.QuizID, &q.Text, &q.Type, &options, &q.CorrectAnswer, &q.Points, &q.Position, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	return &q, nil
}

func (s *Service) CreateQuiz(ctx context.Context, actor *auth.User, courseID int64, in QuizInput) (*Quiz, error) {
	in = normalizeQuizInput(in)
	if in.IsPublished {
		return nil, ErrNotPublishable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var teacherID int64
	err = tx.QueryRowContext(ctx, `SELECT teacher_id FROM courses WHERE id = $1 FOR SHARE`, courseID).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return nil, ErrForbidden
	}

	scope := courseScope(courseID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	q, err := scanQuiz(tx.QueryRowContext(ctx, `
		INSERT INTO quizzes (course_id, teacher_id, title, description, max_attempts, is_published, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, now(), now())
		RETURNING `+quizColumns, courseID, teacherID, in.Title, in.Description, in.MaxAttempts, pos))
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create quiz: %w", err)
	}
	return q, nil
}

func (s *Service) UpdateQuiz(ctx context.Context, actor *auth.User, quizID int64, in QuizInput) (*Quiz, error) {
	in = normalizeQuizInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedQuiz(ctx, tx, actor, quizID); err != nil {
		return nil, err
	}
	if in.IsPublished {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM quiz_questions WHERE quiz_id = $1`, quizID).Scan(&n); err != nil {
			return nil, fmt.Errorf("count questions: %w", err)
		}
		if n == 0 {
			return nil, ErrNotPublishable
		}
	}

	q, err := scanQuiz(tx.QueryRowContext(ctx, `
		UPDATE quizzes
		SET title = $2,
			description = $3,
			max_attempts = $4,
			is_published = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+quizColumns, quizID, in.Title, in.Description, in.MaxAttempts, in.IsPublished))
	if err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update quiz: %w", err)
	}
	return q, nil
}

func (s *Service) DeleteQuiz(ctx context.Context, actor *auth.User, quizID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var courseID, teacherID int64
	err = tx.QueryRowContext(ctx, `SELECT course_id, teacher_id FROM quizzes WHERE id = $1`, quizID).Scan(&courseID, &teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuizNotFound
		}
		return fmt.Errorf("load quiz: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return ErrForbidden
	}
	// Locks are taken course, quiz list, quiz, as in CreateQuiz.
	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM courses WHERE id = $1 FOR SHARE`, courseID); err != nil {
		return fmt.Errorf("lock course: %w", err)
	}
	scope := courseScope(courseID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return err
	}
	q, err := lockOwnedQuiz(ctx, tx, actor, quizID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if err := position.CloseGap(ctx, tx, scope, q.Position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete quiz: %w", err)
	}
	return nil
}

// ListQuizzes returns every quiz of a course the actor manages.
func (s *Service) ListQuizzes(ctx context.Context, actor *auth.User, courseID int64) ([]Quiz, error) {
	var teacherID int64
	err := s.db.QueryRowContext(ctx, `SELECT teacher_id FROM courses WHERE id = $1`, courseID).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return nil, ErrForbidden
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+quizColumns+`
		FROM quizzes
		WHERE course_id = $1
		ORDER BY position
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]Quiz, 0)
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

// ListPublishedQuizzes lists the published quizzes of a course for students.
func (s *Service) ListPublishedQuizzes(ctx context.Context, courseID int64) ([]Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+quizColumns+`
		FROM quizzes
		WHERE course_id = $1 AND is_published = TRUE
		ORDER BY position
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list published quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]Quiz, 0)
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

func (s *Service) GetQuizForManage(ctx context.Context, actor *auth.User, quizID int64) (*Quiz, error) {
	q, err := scanQuiz(s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, quizID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if !actor.CanManage(q.TeacherID) {
		return nil, ErrForbidden
	}
	q.Questions, err = listQuestions(ctx, s.db, quizID)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) AddQuestion(ctx context.Context, actor *auth.User, quizID int64, in QuestionInput) (*Question, error) {
	in, err := NormalizeQuestion(in)
	if err != nil {
		return nil, err
	}
	options, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedQuiz(ctx, tx, actor, quizID); err != nil {
		return nil, err
	}
	scope := questionScope(quizID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return nil, err
	}
	pos, err := position.Next(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	q, err := scanQuestion(tx.QueryRowContext(ctx, `
		INSERT INTO quiz_questions (quiz_id, text, type, options, correct_answer, points, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, now(), now())
		RETURNING `+questionColumns, quizID, in.Text, in.Type, string(options), in.CorrectAnswer, in.Points, pos))
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add question: %w", err)
	}
	return q, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, actor *auth.User, questionID int64, in QuestionInput) (*Question, error) {
	in, err := NormalizeQuestion(in)
	if err != nil {
		return nil, err
	}
	options, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	quizID, err := questionQuizID(ctx, tx, questionID)
	if err != nil {
		return nil, err
	}
	if _, err := lockOwnedQuiz(ctx, tx, actor, quizID); err != nil {
		return nil, err
	}
	if _, err := lockQuestion(ctx, tx, questionID); err != nil {
		return nil, err
	}

	q, err := scanQuestion(tx.QueryRowContext(ctx, `
		UPDATE quiz_questions
		SET text = $2,
			type = $3,
			options = $4::jsonb,
			correct_answer = $5,
			points = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING `+questionColumns, questionID, in.Text, in.Type, string(options), in.CorrectAnswer, in.Points))
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update question: %w", err)
	}
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, actor *auth.User, questionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	quizID, err := questionQuizID(ctx, tx, questionID)
	if err != nil {
		return err
	}
	// Quiz row, then question list, then question row, as in AddQuestion.
	if _, err := lockOwnedQuiz(ctx, tx, actor, quizID); err != nil {
		return err
	}
	scope := questionScope(quizID)
	if err := position.Lock(ctx, tx, scope); err != nil {
		return err
	}
	current, err := lockQuestion(ctx, tx, questionID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_questions WHERE id = $1`, questionID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if err := position.CloseGap(ctx, tx, scope, current.Position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete question: %w", err)
	}
	return nil
}

func (s *Service) ReorderQuestions(ctx context.Context, actor *auth.User, quizID int64, ids []int64) ([]Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOwnedQuiz(ctx, tx, actor, quizID); err != nil {
		return nil, err
	}
	scope := questionScope(quizID)
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
		return nil, fmt.Errorf("commit reorder questions: %w", err)
	}
	return listQuestions(ctx, s.db, quizID)
}

func listQuestions(ctx context.Context, q db.Queryable, quizID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM quiz_questions
		WHERE quiz_id = $1
		ORDER BY position
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *qq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func lockOwnedQuiz(ctx context.Context, tx *sql.Tx, actor *auth.User, quizID int64) (*Quiz, error) {
	q, err := scanQuiz(tx.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1 FOR UPDATE`, quizID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("lock quiz: %w", err)
	}
	if !actor.CanManage(q.TeacherID) {
		return nil, ErrForbidden
	}
	return q, nil
}

// questionQuizID reads the parent quiz of a question without locking it.
func questionQuizID(ctx context.Context, tx *sql.Tx, questionID int64) (int64, error) {
	var quizID int64
	err := tx.QueryRowContext(ctx, `SELECT quiz_id FROM quiz_questions WHERE id = $1`, questionID).Scan(&quizID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrQuestionNotFound
		}
		return 0, fmt.Errorf("load question: %w", err)
	}
	return quizID, nil
}

func lockQuestion(ctx context.Context, tx *sql.Tx, questionID int64) (*Question, error) {
	q, err := scanQuestion(tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM quiz_questions WHERE id = $1 FOR UPDATE`, questionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("lock question: %w", err)
	}
	return q, nil
}

func normalizeQuizInput(in QuizInput) QuizInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.MaxAttempts < 1 {
		in.MaxAttempts = 1
	}
	return in
}
