package quiz

import (
	"errors"
	"testing"
)

func TestScoreQuestion(t *testing.T) {
	tests := []struct {
		name       string
		in         ScoreInput
		wantReason string
		wantPoints int
		wantNil    bool
		wantOK     bool
	}{
		{name: "mc correct ignores case", in: ScoreInput{QuestionType: TypeMultipleChoice, CorrectAnswer: "Paris", StudentAnswer: " paris ", Points: 3}, wantReason: "correct", wantPoints: 3, wantOK: true},
		{name: "mc wrong", in: ScoreInput{QuestionType: TypeMultipleChoice, CorrectAnswer: "Paris", StudentAnswer: "Rome", Points: 3}, wantReason: "wrong"},
		{name: "mc unanswered", in: ScoreInput{QuestionType: TypeMultipleChoice, CorrectAnswer: "Paris", StudentAnswer: "  ", Points: 3}, wantReason: "unanswered"},
		{name: "mc missing key", in: ScoreInput{QuestionType: TypeMultipleChoice, StudentAnswer: "Rome", Points: 3}, wantReason: "malformed_answer_key", wantNil: true},
		{name: "tf arabic answer", in: ScoreInput{QuestionType: TypeTrueFalse, CorrectAnswer: "true", StudentAnswer: "صح", Points: 2}, wantReason: "correct", wantPoints: 2, wantOK: true},
		{name: "tf wrong", in: ScoreInput{QuestionType: TypeTrueFalse, CorrectAnswer: "false", StudentAnswer: "true", Points: 2}, wantReason: "wrong"},
		{name: "tf garbage", in: ScoreInput{QuestionType: TypeTrueFalse, CorrectAnswer: "false", StudentAnswer: "maybe", Points: 2}, wantReason: "malformed_payload"},
		{name: "short exact match", in: ScoreInput{QuestionType: TypeShortAnswer, CorrectAnswer: "Go  routine", StudentAnswer: "go routine", Points: 5}, wantReason: "correct", wantPoints: 5, wantOK: true},
		{name: "short needs human", in: ScoreInput{QuestionType: TypeShortAnswer, CorrectAnswer: "goroutine", StudentAnswer: "a lightweight thread", Points: 5}, wantReason: "manual_required", wantNil: true},
		{name: "negative points clamp", in: ScoreInput{QuestionType: TypeMultipleChoice, CorrectAnswer: "a", StudentAnswer: "a", Points: -4}, wantReason: "correct", wantOK: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(tc.in)
			if got.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", got.Reason, tc.wantReason)
			}
			if got.PointsEarned != tc.wantPoints {
				t.Fatalf("points = %d, want %d", got.PointsEarned, tc.wantPoints)
			}
			if tc.wantNil {
				if got.IsCorrect != nil {
					t.Fatalf("expected nil IsCorrect, got %v", *got.IsCorrect)
				}
				return
			}
			if got.IsCorrect == nil || *got.IsCorrect != tc.wantOK {
				t.Fatalf("IsCorrect = %v, want %v", got.IsCorrect, tc.wantOK)
			}
		})
	}
}

func TestNormalizeQuestion(t *testing.T) {
	mc, err := NormalizeQuestion(QuestionInput{Text: " Capital? ", Type: "multiple_choice", Options: []string{" Paris", "Rome "}, CorrectAnswer: "paris", Points: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Type != TypeMultipleChoice || mc.CorrectAnswer != "Paris" || mc.Options[1] != "Rome" || mc.Text != "Capital?" {
		t.Fatalf("unexpected normalization %+v", mc)
	}

	tf, err := NormalizeQuestion(QuestionInput{Text: "Go is compiled", Type: TypeTrueFalse, CorrectAnswer: "صحيح"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tf.CorrectAnswer != "true" || len(tf.Options) != 2 {
		t.Fatalf("unexpected true/false normalization %+v", tf)
	}

	bad := []QuestionInput{
		{Text: "", Type: TypeShortAnswer},
		{Text: "q", Type: "ESSAY"},
		{Text: "q", Type: TypeMultipleChoice, Options: []string{"only"}, CorrectAnswer: "only"},
		{Text: "q", Type: TypeMultipleChoice, Options: []string{"a", "A"}, CorrectAnswer: "a"},
		{Text: "q", Type: TypeMultipleChoice, Options: []string{"a", " "}, CorrectAnswer: "a"},
		{Text: "q", Type: TypeMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: "c"},
		{Text: "q", Type: TypeTrueFalse, CorrectAnswer: "perhaps"},
		{Text: "q", Type: TypeShortAnswer, Points: -1},
	}
	for i, in := range bad {
		if _, err := NormalizeQuestion(in); !errors.Is(err, ErrInvalidQuestion) {
			t.Fatalf("case %d: expected ErrInvalidQuestion, got %v", i, err)
		}
	}
}
