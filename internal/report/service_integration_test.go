package report

import (
	"context"
	"errors"
	"testing"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/course"
	"github.com/ahmednader515/alkian-sub001/internal/dbtest"
	"github.com/ahmednader515/alkian-sub001/internal/quiz"
)

func TestQuizSummary_DBIntegration(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	courses := course.NewService(conn)
	quizzes := quiz.NewService(conn)
	svc := NewService(conn)

	teacher := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	other := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleTeacher), Role: auth.RoleTeacher}
	alice := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleStudent), Role: auth.RoleStudent}
	bob := &auth.User{ID: dbtest.CreateUser(t, conn, auth.RoleStudent), Role: auth.RoleStudent}

	c, err := courses.CreateCourse(ctx, teacher, course.CourseInput{Title: "ITEST report course"})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	q, err := quizzes.CreateQuiz(ctx, teacher, c.ID, quiz.QuizInput{Title: "ITEST report quiz", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	question, err := quizzes.AddQuestion(ctx, teacher, q.ID, quiz.QuestionInput{Text: "2+2?", Type: quiz.TypeMultipleChoice, Options: []string{"4", "5"}, CorrectAnswer: "4", Points: 4})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if _, err := quizzes.UpdateQuiz(ctx, teacher, q.ID, quiz.QuizInput{Title: q.Title, MaxAttempts: 2, IsPublished: true}); err != nil {
		t.Fatalf("publish quiz: %v", err)
	}

	submit := func(student *auth.User, answer string) *quiz.Result {
		res, err := quizzes.Submit(ctx, student, q.ID, []quiz.SubmittedAnswer{{QuestionID: question.ID, Answer: answer}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		return res
	}
	a1 := submit(alice, "4")
	b1 := submit(bob, "5")
	submit(alice, "5")

	for _, r := range []*quiz.Result{a1, b1} {
		if _, err := quizzes.AutoGradeResult(ctx, teacher, r.ID); err != nil {
			t.Fatalf("auto grade: %v", err)
		}
	}

	sum, err := svc.QuizSummary(ctx, teacher, q.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Participants != 2 || sum.Submissions != 3 || sum.Graded != 2 || sum.Pending != 1 {
		t.Fatalf("unexpected counts %+v", sum)
	}
	if sum.HighestScore != 4 || sum.LowestScore != 0 || sum.AverageScore != 2 || sum.AveragePct != 50 {
		t.Fatalf("unexpected score stats %+v", sum)
	}

	if _, err := svc.QuizSummary(ctx, other, q.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	cs, err := svc.CourseSummary(ctx, teacher, c.ID)
	if err != nil {
		t.Fatalf("course summary: %v", err)
	}
	if cs.Quizzes != 1 || cs.QuizSubmitted != 3 {
		t.Fatalf("unexpected course summary %+v", cs)
	}
}
