package quiz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/course"
	"github.com/ahmednader515/alkian-sub001/internal/dbtest"
)

type fixture struct {
	svc     *Service
	teacher *auth.User
	student *auth.User
	quiz    *Quiz
	mc      *Question
	short   *Question
}

func newFixture(t *testing.T, price float64, maxAttempts int) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	ctx := context.Background()
	courses := course.NewService(conn)
	svc := NewService(conn)

	teacher := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	student := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleStudent), Role: auth.RoleStudent}

	c, err := courses.CreateCourse(ctx, teacher, course.CourseInput{Title: "ITEST quiz course", Price: price})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	q, err := svc.CreateQuiz(ctx, teacher, c.ID, QuizInput{Title: "ITEST quiz", MaxAttempts: maxAttempts})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	mc, err := svc.AddQuestion(ctx, teacher, q.ID, QuestionInput{Text: "Capital of France?", Type: TypeMultipleChoice, Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris", Points: 2})
	if err != nil {
		t.Fatalf("add mc question: %v", err)
	}
	short, err := svc.AddQuestion(ctx, teacher, q.ID, QuestionInput{Text: "Explain channels", Type: TypeShortAnswer, Points: 3})
	if err != nil {
		t.Fatalf("add short question: %v", err)
	}
	if mc.Position != 1 || short.Position != 2 {
		t.Fatalf("expected positions 1,2 got %d,%d", mc.Position, short.Position)
	}
	q, err = svc.UpdateQuiz(ctx, teacher, q.ID, QuizInput{Title: q.Title, MaxAttempts: maxAttempts, IsPublished: true})
	if err != nil {
		t.Fatalf("publish quiz: %v", err)
	}
	return fixture{svc: svc, teacher: teacher, student: student, quiz: q, mc: mc, short: short}
}

func TestSubmitAttemptLimit_DBIntegration(t *testing.T) {
	f := newFixture(t, 0, 2)
	ctx := context.Background()

	view, err := f.svc.GetQuizForStudent(ctx, f.student, f.quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if view.AttemptsRemaining != 2 || view.Questions[0].CorrectAnswer != "" {
		t.Fatalf("unexpected student view %+v", view)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		res, err := f.svc.Submit(ctx, f.student, f.quiz.ID, []SubmittedAnswer{{QuestionID: f.mc.ID, Answer: "Paris"}})
		if err != nil {
			t.Fatalf("submit attempt %d: %v", attempt, err)
		}
		if res.AttemptNumber != attempt || res.Score != nil || len(res.Answers) != 2 {
			t.Fatalf("unexpected result %+v", res)
		}
		for _, a := range res.Answers {
			if a.IsCorrect != nil || a.PointsEarned != nil {
				t.Fatalf("answers must be stored ungraded, got %+v", a)
			}
		}
	}

	// existing == max_attempts blocks the next one
	if _, err := f.svc.Submit(ctx, f.student, f.quiz.ID, nil); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	mine, err := f.svc.ListMyResults(ctx, f.student, f.quiz.ID)
	if err != nil {
		t.Fatalf("list my results: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 results, got %d", len(mine))
	}
}

func TestSubmitConcurrentDuplicates_DBIntegration(t *testing.T) {
	f := newFixture(t, 0, 1)
	ctx := context.Background()

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, f.student, f.quiz.ID, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConcurrentSubmission), errors.Is(err, ErrAttemptsExhausted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != workers-1 {
		t.Fatalf("expected exactly one accepted submission, got %d accepted %d rejected", succeeded, rejected)
	}
}

func TestSubmitRequiresPurchase_DBIntegration(t *testing.T) {
	f := newFixture(t, 120, 1)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, f.student, f.quiz.ID, nil); !errors.Is(err, ErrPurchaseRequired) {
		t.Fatalf("expected ErrPurchaseRequired, got %v", err)
	}
}

func TestGradingFlow_DBIntegration(t *testing.T) {
	f := newFixture(t, 0, 1)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.student, f.quiz.ID, []SubmittedAnswer{
		{QuestionID: f.mc.ID, Answer: "paris"},
		{QuestionID: f.short.ID, Answer: "typed pipes between goroutines"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	other := &auth.User{ID: f.student.ID + 100000, Role: auth.RoleTeacher}
	if _, err := f.svc.AutoGradeResult(ctx, other, res.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another teacher, got %v", err)
	}

	auto, err := f.svc.AutoGradeResult(ctx, f.teacher, res.ID)
	if err != nil {
		t.Fatalf("auto grade: %v", err)
	}
	if auto.Score == nil || *auto.Score != 2 || auto.GradedAt != nil {
		t.Fatalf("expected partial score 2 without graded_at, got %+v", auto)
	}

	var shortAnswerID int64
	for _, a := range auto.Answers {
		if a.QuestionID == f.short.ID {
			shortAnswerID = a.ID
		}
	}
	graded, err := f.svc.GradeResult(ctx, f.teacher, res.ID, []AnswerGrade{{AnswerID: shortAnswerID, PointsEarned: 3}})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.Score == nil || *graded.Score != 5 || graded.GradedAt == nil {
		t.Fatalf("expected complete score 5, got %+v", graded)
	}

	data, err := f.svc.ExportResultsExcel(ctx, f.teacher, f.quiz.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected workbook bytes")
	}
}

func TestQuestionPositions_DBIntegration(t *testing.T) {
	f := newFixture(t, 0, 1)
	ctx := context.Background()

	third, err := f.svc.AddQuestion(ctx, f.teacher, f.quiz.ID, QuestionInput{Text: "Go is garbage collected", Type: TypeTrueFalse, CorrectAnswer: "true", Points: 1})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if third.Position != 3 {
		t.Fatalf("expected position 3, got %d", third.Position)
	}
	if err := f.svc.DeleteQuestion(ctx, f.teacher, f.mc.ID); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	managed, err := f.svc.GetQuizForManage(ctx, f.teacher, f.quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(managed.Questions) != 2 || managed.Questions[0].ID != f.short.ID || managed.Questions[1].Position != 2 {
		t.Fatalf("expected compacted positions, got %+v", managed.Questions)
	}
	reordered, err := f.svc.ReorderQuestions(ctx, f.teacher, f.quiz.ID, []int64{third.ID, f.short.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if reordered[0].ID != third.ID || reordered[0].Position != 1 {
		t.Fatalf("unexpected order %+v", reordered)
	}
}

func TestConcurrentSiblingDeletes_DBIntegration(t *testing.T) {
	f := newFixture(t, 0, 1)
	ctx := context.Background()

	var questionIDs []int64
	for _, text := range []string{"One", "Two", "Three"} {
		q, err := f.svc.AddQuestion(ctx, f.teacher, f.quiz.ID, QuestionInput{Text: text, Type: TypeShortAnswer, Points: 1})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		questionIDs = append(questionIDs, q.ID)
	}
	var quizIDs []int64
	for _, title := range []string{"ITEST a", "ITEST b", "ITEST c"} {
		q, err := f.svc.CreateQuiz(ctx, f.teacher, f.quiz.CourseID, QuizInput{Title: title, MaxAttempts: 1})
		if err != nil {
			t.Fatalf("create quiz: %v", err)
		}
		quizIDs = append(quizIDs, q.ID)
	}

	var wg sync.WaitGroup
	for _, id := range []int64{f.mc.ID, f.short.ID, questionIDs[0], questionIDs[1]} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := f.svc.DeleteQuestion(ctx, f.teacher, id); err != nil {
				t.Errorf("delete question %d: %v", id, err)
			}
		}(id)
	}
	for _, id := range quizIDs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := f.svc.DeleteQuiz(ctx, f.teacher, id); err != nil {
				t.Errorf("delete quiz %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	managed, err := f.svc.GetQuizForManage(ctx, f.teacher, f.quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(managed.Questions) != 1 || managed.Questions[0].ID != questionIDs[2] || managed.Questions[0].Position != 1 {
		t.Fatalf("expected one question at position 1, got %+v", managed.Questions)
	}
	quizzes, err := f.svc.ListQuizzes(ctx, f.teacher, f.quiz.CourseID)
	if err != nil {
		t.Fatalf("list quizzes: %v", err)
	}
	if len(quizzes) != 1 || quizzes[0].ID != f.quiz.ID || quizzes[0].Position != 1 {
		t.Fatalf("expected one quiz at position 1, got %+v", quizzes)
	}
}
