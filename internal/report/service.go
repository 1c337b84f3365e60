package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

var (
	ErrQuizNotFound   = errors.New("quiz not found")
	ErrCourseNotFound = errors.New("course not found")
	ErrForbidden      = errors.New("forbidden")
)

type Service struct {
	db *sql.DB
}

// QuizSummary aggregates submissions of one quiz. Score statistics cover
// fully graded results only.
type QuizSummary struct {
	QuizID       int64   `json:"quiz_id"`
	Participants int     `json:"participants"`
	Submissions  int     `json:"submissions"`
	Graded       int     `json:"graded"`
	Pending      int     `json:"pending"`
	AverageScore float64 `json:"average_score"`
	HighestScore int     `json:"highest_score"`
	LowestScore  int     `json:"lowest_score"`
	AveragePct   float64 `json:"average_percent"`
}

type CourseSummary struct {
	CourseID      int64   `json:"course_id"`
	Students      int     `json:"students"`
	Revenue       float64 `json:"revenue"`
	Chapters      int     `json:"chapters"`
	Quizzes       int     `json:"quizzes"`
	QuizSubmitted int     `json:"quiz_submissions"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) QuizSummary(ctx context.Context, actor *auth.User, quizID int64) (*QuizSummary, error) {
	var teacherID int64
	err := s.db.QueryRowContext(ctx, `SELECT teacher_id FROM quizzes WHERE id = $1`, quizID).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if !actor.CanManage(teacherID) {
		return nil, ErrForbidden
	}

	sum := QuizSummary{QuizID: quizID}
	var (
		avg, avgPct     sql.NullFloat64
		highest, lowest sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT student_id),
			COUNT(*),
			COUNT(score),
			AVG(score),
			MAX(score),
			MIN(score),
			AVG(CASE WHEN score IS NOT NULL AND total_points > 0 THEN score * 100.0 / total_points END)
		FROM quiz_results
		WHERE quiz_id = $1
	`, quizID).Scan(&sum.Participants, &sum.Submissions, &sum.Graded, &avg, &highest, &lowest, &avgPct)
	if err != nil {
		return nil, fmt.Errorf("summarize quiz: %w", err)
	}
	sum.Pending = sum.Submissions - sum.Graded
	sum.AverageScore = avg.Float64
	sum.HighestScore = int(highest.Int64)
	sum.LowestScore = int(lowest.Int64)
	sum.AveragePct = avgPct.Float64
	return &sum, nil
}

func (s *Service) CourseSummary(ctx context.Context, actor *auth.User, courseID int64) (*CourseSummary, error) {
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

	sum := CourseSummary{CourseID: courseID}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM purchases WHERE course_id = $1),
			(SELECT COALESCE(SUM(price_paid), 0)::float8 FROM purchases WHERE course_id = $1),
			(SELECT COUNT(*) FROM chapters WHERE course_id = $1),
			(SELECT COUNT(*) FROM quizzes WHERE course_id = $1),
			(SELECT COUNT(*) FROM quiz_results r JOIN quizzes q ON q.id = r.quiz_id WHERE q.course_id = $1)
	`, courseID).Scan(&sum.Students, &sum.Revenue, &sum.Chapters, &sum.Quizzes, &sum.QuizSubmitted)
	if err != nil {
		return nil, fmt.Errorf("summarize course: %w", err)
	}
	return &sum, nil
}
