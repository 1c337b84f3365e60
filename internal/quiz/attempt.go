package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/course"
	"github.com/ahmednader515/alkian-sub001/internal/db"
)

type Result struct {
	ID            int64      `json:"id"`
	StudentID     int64      `json:"student_id"`
	StudentName   string     `json:"student_name,omitempty"`
	StudentPhone  string     `json:"student_phone,omitempty"`
	QuizID        int64      `json:"quiz_id"`
	AttemptNumber int        `json:"attempt_number"`
	Score         *int       `json:"score"`
	TotalPoints   int        `json:"total_points"`
	GradedAt      *time.Time `json:"graded_at,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	Answers       []Answer   `json:"answers,omitempty"`
}

type Answer struct {
	ID            int64  `json:"id"`
	ResultID      int64  `json:"result_id"`
	QuestionID    int64  `json:"question_id"`
	StudentAnswer string `json:"student_answer"`
	IsCorrect     *bool  `json:"is_correct"`
	PointsEarned  *int   `json:"points_earned"`
}

type SubmittedAnswer struct {
	QuestionID int64
	Answer     string
}

// StudentQuiz is a published quiz as shown to a student: answer keys are
// stripped from every question.
type StudentQuiz struct {
	Quiz
	AttemptsUsed      int `json:"attempts_used"`
	AttemptsRemaining int `json:"attempts_remaining"`
}

// NextAttempt returns the attempt number for a new submission given how many
// results already exist.
func NextAttempt(existing, maxAttempts int) (int, error) {
	if existing >= maxAttempts {
		return 0, ErrAttemptsExhausted
	}
	return existing + 1, nil
}

func (s *Service) GetQuizForStudent(ctx context.Context, student *auth.User, quizID int64) (*StudentQuiz, error) {
	q, err := loadPublishedQuiz(ctx, s.db, quizID)
	if err != nil {
		return nil, err
	}
	if err := checkCourseAccess(ctx, s.db, student, q.CourseID); err != nil {
		return nil, err
	}
	questions, err := listQuestions(ctx, s.db, quizID)
	if err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].CorrectAnswer = ""
	}
	q.Questions = questions

	used, err := countResults(ctx, s.db, student.ID, quizID)
	if err != nil {
		return nil, err
	}
	remaining := q.MaxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	return &StudentQuiz{Quiz: *q, AttemptsUsed: used, AttemptsRemaining: remaining}, nil
}

func (s *Service) Submit(ctx context.Context, student *auth.User, quizID int64, submitted []SubmittedAnswer) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, err := loadPublishedQuiz(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}
	if err := checkCourseAccess(ctx, tx, student, q.CourseID); err != nil {
		return nil, err
	}
	questions, err := listQuestions(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}

	existing, err := countResults(ctx, tx, student.ID, quizID)
	if err != nil {
		return nil, err
	}
	attempt, err := NextAttempt(existing, q.MaxAttempts)
	if err != nil {
		return nil, err
	}

	answers, total, err := buildAnswers(questions, submitted)
	if err != nil {
		return nil, err
	}

	res := Result{StudentID: student.ID, QuizID: quizID, AttemptNumber: attempt, TotalPoints: total}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO quiz_results (student_id, quiz_id, attempt_number, score, total_points, submitted_at)
		VALUES ($1, $2, $3, NULL, $4, now())
		RETURNING id, submitted_at
	`, student.ID, quizID, attempt, total).Scan(&res.ID, &res.SubmittedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "quiz_results_attempt_key") {
			return nil, ErrConcurrentSubmission
		}
		return nil, fmt.Errorf("insert result: %w", err)
	}

	for i := range answers {
		answers[i].ResultID = res.ID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO quiz_answers (result_id, question_id, student_answer, is_correct, points_earned)
			VALUES ($1, $2, $3, NULL, NULL)
			RETURNING id
		`, res.ID, answers[i].QuestionID, answers[i].StudentAnswer).Scan(&answers[i].ID); err != nil {
			return nil, fmt.Errorf("insert answer: %w", err)
		}
	}
	res.Answers = answers

	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err, "quiz_results_attempt_key") {
			return nil, ErrConcurrentSubmission
		}
		return nil, fmt.Errorf("commit submission: %w", err)
	}
	return &res, nil
}

func (s *Service) ListMyResults(ctx context.Context, student *auth.User, quizID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM quiz_results r
		WHERE r.student_id = $1 AND r.quiz_id = $2
		ORDER BY r.attempt_number
	`, student.ID, quizID)
	if err != nil {
		return nil, fmt.Errorf("list my results: %w", err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, err
	}
	if err := attachAnswers(ctx, s.db, results); err != nil {
		return nil, err
	}
	return results, nil
}

// buildAnswers produces one answer row per quiz question, in question order.
// Questions the student skipped get an empty answer.
func buildAnswers(questions []Question, submitted []SubmittedAnswer) ([]Answer, int, error) {
	byQuestion := make(map[int64]string, len(submitted))
	known := make(map[int64]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	for _, a := range submitted {
		if _, ok := known[a.QuestionID]; !ok {
			return nil, 0, fmt.Errorf("%w: question %d is not part of this quiz", ErrInvalidAnswers, a.QuestionID)
		}
		if _, dup := byQuestion[a.QuestionID]; dup {
			return nil, 0, fmt.Errorf("%w: question %d answered twice", ErrInvalidAnswers, a.QuestionID)
		}
		byQuestion[a.QuestionID] = strings.TrimSpace(a.Answer)
	}

	total := 0
	out := make([]Answer, 0, len(questions))
	for _, q := range questions {
		total += q.Points
		out = append(out, Answer{QuestionID: q.ID, StudentAnswer: byQuestion[q.ID]})
	}
	return out, total, nil
}

func loadPublishedQuiz(ctx context.Context, q db.Queryable, quizID int64) (*Quiz, error) {
	quiz, err := scanQuiz(q.QueryRowContext(ctx, `
		SELECT `+quizColumns+`
		FROM quizzes
		WHERE id = $1 AND is_published = TRUE
	`, quizID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return quiz, nil
}

// checkCourseAccess lets the course owner, admins, buyers and anyone on a free
// course through.
func checkCourseAccess(ctx context.Context, q db.Queryable, student *auth.User, courseID int64) error {
	var (
		teacherID int64
		price     float64
	)
	err := q.QueryRowContext(ctx, `SELECT teacher_id, price FROM courses WHERE id = $1`, courseID).Scan(&teacherID, &price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuizNotFound
		}
		return fmt.Errorf("load course: %w", err)
	}
	if price == 0 || student.CanManage(teacherID) {
		return nil
	}
	ok, err := course.HasPurchased(ctx, q, student.ID, courseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPurchaseRequired
	}
	return nil
}

func countResults(ctx context.Context, q db.Queryable, studentID, quizID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM quiz_results WHERE student_id = $1 AND quiz_id = $2
	`, studentID, quizID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}
