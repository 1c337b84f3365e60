package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/db"
	"github.com/ahmednader515/alkian-sub001/internal/xlsx"
)

type AnswerGrade struct {
	AnswerID     int64
	PointsEarned int
}

const resultColumns = `r.id, r.student_id, r.quiz_id, r.attempt_number, r.score, r.total_points, r.graded_at, r.submitted_at`

func scanResult(row scanner, withStudent bool) (*Result, error) {
	var (
		res   Result
		score sql.NullInt64
		dest  = []interface{}{&res.ID, &res.StudentID, &res.QuizID, &res.AttemptNumber, &score, &res.TotalPoints, &res.GradedAt, &res.SubmittedAt}
	)
	if withStudent {
		dest = append(dest, &res.StudentName, &res.StudentPhone)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		res.Score = &v
	}
	return &res, nil
}

func collectResults(rows *sql.Rows) ([]Result, error) {
	return collect(rows, false)
}

func collect(rows *sql.Rows, withStudent bool) ([]Result, error) {
	defer rows.Close()
	out := make([]Result, 0)
	for rows.Next() {
		res, err := scanResult(rows, withStudent)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// ListResults returns every submission of a quiz, newest first, with the
// student's name and phone number.
func (s *Service) ListResults(ctx context.Context, actor *auth.User, quizID int64) ([]Result, error) {
	if _, err := s.ownedQuiz(ctx, actor, quizID); err != nil {
		return nil, err
	}
	return s.listResultsWithStudents(ctx, quizID)
}

func (s *Service) GetResult(ctx context.Context, actor *auth.User, resultID int64) (*Result, error) {
	res, teacherID, err := loadResult(ctx, s.db, resultID, false)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(teacherID) {
		return nil, ErrForbidden
	}
	list := []Result{*res}
	if err := attachAnswers(ctx, s.db, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// GradeResult records teacher-assigned points for individual answers. An
// answer is marked correct when it earns the question's full points.
func (s *Service) GradeResult(ctx context.Context, actor *auth.User, resultID int64, grades []AnswerGrade) (*Result, error) {
	return s.grade(ctx, actor, resultID, func(answers []gradableAnswer) error {
		return applyManualGrades(answers, grades)
	})
}

// AutoGradeResult scores every still-ungraded answer whose question type can
// be checked mechanically. Manually graded answers are left alone.
func (s *Service) AutoGradeResult(ctx context.Context, actor *auth.User, resultID int64) (*Result, error) {
	return s.grade(ctx, actor, resultID, func(answers []gradableAnswer) error {
		applyAutoGrades(answers)
		return nil
	})
}

func (s *Service) ExportResultsExcel(ctx context.Context, actor *auth.User, quizID int64) ([]byte, error) {
	q, err := s.ownedQuiz(ctx, actor, quizID)
	if err != nil {
		return nil, err
	}
	results, err := s.listResultsWithStudents(ctx, quizID)
	if err != nil {
		return nil, err
	}
	headers := []string{"quiz", "student_name", "phone_number", "attempt_number", "score", "total_points", "submitted_at", "graded_at"}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{q.Title, r.StudentName, r.StudentPhone, r.AttemptNumber, r.Score, r.TotalPoints, r.SubmittedAt, r.GradedAt})
	}
	return xlsx.Build(headers, rows)
}

type gradableAnswer struct {
	Answer
	QuestionType  string
	CorrectAnswer string
	MaxPoints     int
	changed       bool
}

func applyManualGrades(answers []gradableAnswer, grades []AnswerGrade) error {
	if len(grades) == 0 {
		return fmt.Errorf("%w: no grades given", ErrInvalidGrade)
	}
	index := make(map[int64]int, len(answers))
	for i, a := range answers {
		index[a.ID] = i
	}
	for _, g := range grades {
		i, ok := index[g.AnswerID]
		if !ok {
			return fmt.Errorf("%w: answer %d does not belong to this result", ErrInvalidGrade, g.AnswerID)
		}
		if g.PointsEarned < 0 || g.PointsEarned > answers[i].MaxPoints {
			return fmt.Errorf("%w: points for answer %d must be between 0 and %d", ErrInvalidGrade, g.AnswerID, answers[i].MaxPoints)
		}
		points := g.PointsEarned
		answers[i].PointsEarned = &points
		answers[i].IsCorrect = boolPtr(points == answers[i].MaxPoints)
		answers[i].changed = true
	}
	return nil
}

func applyAutoGrades(answers []gradableAnswer) {
	for i := range answers {
		if answers[i].PointsEarned != nil {
			continue
		}
		res := ScoreQuestion(ScoreInput{
			QuestionType:  answers[i].QuestionType,
			CorrectAnswer: answers[i].CorrectAnswer,
			StudentAnswer: answers[i].StudentAnswer,
			Points:        answers[i].MaxPoints,
		})
		if res.IsCorrect == nil {
			continue
		}
		points := res.PointsEarned
		answers[i].IsCorrect = res.IsCorrect
		answers[i].PointsEarned = &points
		answers[i].changed = true
	}
}

// ComputeScore sums earned points. complete reports whether every answer has
// been graded.
func ComputeScore(answers []Answer) (score int, complete bool) {
	complete = true
	for _, a := range answers {
		if a.PointsEarned == nil {
			complete = false
			continue
		}
		score += *a.PointsEarned
	}
	return score, complete
}

func (s *Service) grade(ctx context.Context, actor *auth.User, resultID int64, apply func([]gradableAnswer) error) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, teacherID, err := loadResult(ctx, tx, resultID, true)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(teacherID) {
		return nil, ErrForbidden
	}

	answers, err := loadGradableAnswers(ctx, tx, resultID)
	if err != nil {
		return nil, err
	}
	if err := apply(answers); err != nil {
		return nil, err
	}

	plain := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if a.changed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE quiz_answers SET is_correct = $2, points_earned = $3 WHERE id = $1
			`, a.ID, *a.IsCorrect, *a.PointsEarned); err != nil {
				return nil, fmt.Errorf("update answer: %w", err)
			}
		}
		plain = append(plain, a.Answer)
	}

	score, complete := ComputeScore(plain)
	err = tx.QueryRowContext(ctx, `
		UPDATE quiz_results
		SET score = $2,
			graded_at = CASE WHEN $3 THEN now() ELSE NULL END
		WHERE id = $1
		RETURNING graded_at
	`, resultID, score, complete).Scan(&res.GradedAt)
	if err != nil {
		return nil, fmt.Errorf("update result score: %w", err)
	}
	res.Score = &score
	res.Answers = plain

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grading: %w", err)
	}
	return res, nil
}

func (s *Service) ownedQuiz(ctx context.Context, actor *auth.User, quizID int64) (*Quiz, error) {
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
	return q, nil
}

func (s *Service) listResultsWithStudents(ctx context.Context, quizID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+`, u.full_name, u.phone_number
		FROM quiz_results r
		JOIN users u ON u.id = r.student_id
		WHERE r.quiz_id = $1
		ORDER BY r.submitted_at DESC, r.id DESC
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return collect(rows, true)
}

func loadResult(ctx context.Context, q db.Queryable, resultID int64, forUpdate bool) (*Result, int64, error) {
	query := `
		SELECT ` + resultColumns + `, q.teacher_id
		FROM quiz_results r
		JOIN quizzes q ON q.id = r.quiz_id
		WHERE r.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF r`
	}

	var (
		res       Result
		score     sql.NullInt64
		teacherID int64
	)
	err := q.QueryRowContext(ctx, query, resultID).Scan(&res.ID, &res.StudentID, &res.QuizID, &res.AttemptNumber, &score, &res.TotalPoints, &res.GradedAt, &res.SubmittedAt, &teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrResultNotFound
		}
		return nil, 0, fmt.Errorf("load result: %w", err)
	}
	if score.Valid {
		v := int(score.Int64)
		res.Score = &v
	}
	return &res, teacherID, nil
}

func loadGradableAnswers(ctx context.Context, q db.Queryable, resultID int64) ([]gradableAnswer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.result_id, a.question_id, a.student_answer, a.is_correct, a.points_earned,
			qq.type, qq.correct_answer, qq.points
		FROM quiz_answers a
		JOIN quiz_questions qq ON qq.id = a.question_id
		WHERE a.result_id = $1
		ORDER BY qq.position, a.id
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]gradableAnswer, 0)
	for rows.Next() {
		var (
			a       gradableAnswer
			correct sql.NullBool
			points  sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.ResultID, &a.QuestionID, &a.StudentAnswer, &correct, &points, &a.QuestionType, &a.CorrectAnswer, &a.MaxPoints); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.IsCorrect, a.PointsEarned = nullableGrade(correct, points)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func attachAnswers(ctx context.Context, q db.Queryable, results []Result) error {
	for i := range results {
		rows, err := q.QueryContext(ctx, `
			SELECT a.id, a.result_id, a.question_id, a.student_answer, a.is_correct, a.points_earned
			FROM quiz_answers a
			JOIN quiz_questions qq ON qq.id = a.question_id
			WHERE a.result_id = $1
			ORDER BY qq.position, a.id
		`, results[i].ID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		answers := make([]Answer, 0)
		for rows.Next() {
			var (
				a       Answer
				correct sql.NullBool
				points  sql.NullInt64
			)
			if err := rows.Scan(&a.ID, &a.ResultID, &a.QuestionID, &a.StudentAnswer, &correct, &points); err != nil {
				rows.Close()
				return fmt.Errorf("scan answer: %w", err)
			}
			a.IsCorrect, a.PointsEarned = nullableGrade(correct, points)
			answers = append(answers, a)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate answers: %w", err)
		}
		rows.Close()
		results[i].Answers = answers
	}
	return nil
}

func nullableGrade(correct sql.NullBool, points sql.NullInt64) (*bool, *int) {
	var (
		c *bool
		p *int
	)
	if correct.Valid {
		c = boolPtr(correct.Bool)
	}
	if points.Valid {
		v := int(points.Int64)
		p = &v
	}
	return c, p
}
