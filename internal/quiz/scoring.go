package quiz

import (
	"errors"
	"fmt"
	"strings"
)

const (
	TypeMultipleChoice = "MULTIPLE_CHOICE"
	TypeTrueFalse      = "TRUE_FALSE"
	TypeShortAnswer    = "SHORT_ANSWER"
)

var ErrInvalidQuestion = errors.New("invalid question")

type ScoreInput struct {
	QuestionType  string
	CorrectAnswer string
	StudentAnswer string
	Points        int
}

// ScoreResult is nil-graded (IsCorrect == nil) when the answer needs a human.
type ScoreResult struct {
	Answered     bool   `json:"answered"`
	IsCorrect    *bool  `json:"is_correct,omitempty"`
	PointsEarned int    `json:"points_earned"`
	Reason       string `json:"reason"`
}

func ScoreQuestion(in ScoreInput) ScoreResult {
	points := in.Points
	if points < 0 {
		points = 0
	}

	switch strings.ToUpper(strings.TrimSpace(in.QuestionType)) {
	case TypeTrueFalse:
		return scoreTrueFalse(in.CorrectAnswer, in.StudentAnswer, points)
	case TypeShortAnswer:
		return scoreShortAnswer(in.CorrectAnswer, in.StudentAnswer, points)
	default:
		return scoreMultipleChoice(in.CorrectAnswer, in.StudentAnswer, points)
	}
}

func scoreMultipleChoice(correct, answer string, points int) ScoreResult {
	correct = strings.TrimSpace(correct)
	if correct == "" {
		return ScoreResult{Reason: "malformed_answer_key"}
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ScoreResult{Answered: false, IsCorrect: boolPtr(false), Reason: "unanswered"}
	}
	if strings.EqualFold(answer, correct) {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(true), PointsEarned: points, Reason: "correct"}
	}
	return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
}

func scoreTrueFalse(correct, answer string, points int) ScoreResult {
	want, ok := parseTrueFalse(correct)
	if !ok {
		return ScoreResult{Reason: "malformed_answer_key"}
	}
	if strings.TrimSpace(answer) == "" {
		return ScoreResult{Answered: false, IsCorrect: boolPtr(false), Reason: "unanswered"}
	}
	got, ok := parseTrueFalse(answer)
	if !ok {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "malformed_payload"}
	}
	if got == want {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(true), PointsEarned: points, Reason: "correct"}
	}
	return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
}

// Short answers are only auto-credited on an exact normalized match; anything
// else is left for manual grading.
func scoreShortAnswer(correct, answer string, points int) ScoreResult {
	answer = normalizeText(answer)
	if answer == "" {
		return ScoreResult{Answered: false, IsCorrect: boolPtr(false), Reason: "unanswered"}
	}
	correct = normalizeText(correct)
	if correct != "" && answer == correct {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(true), PointsEarned: points, Reason: "correct"}
	}
	return ScoreResult{Answered: true, IsCorrect: nil, Reason: "manual_required"}
}

func parseTrueFalse(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "1", "yes", "صح", "صحيح", "نعم":
		return true, true
	case "false", "f", "0", "no", "خطأ", "خطا", "لا":
		return false, true
	default:
		return false, false
	}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeQuestion validates a question definition and returns it with its
// answer key in canonical form.
func NormalizeQuestion(in QuestionInput) (QuestionInput, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	in.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)
	if in.Text == "" {
		return in, fmt.Errorf("%w: text is required", ErrInvalidQuestion)
	}
	if in.Points < 0 {
		return in, fmt.Errorf("%w: points must be >= 0", ErrInvalidQuestion)
	}

	switch in.Type {
	case TypeMultipleChoice:
		options := make([]string, 0, len(in.Options))
		seen := map[string]struct{}{}
		for _, raw := range in.Options {
			opt := strings.TrimSpace(raw)
			if opt == "" {
				return in, fmt.Errorf("%w: options must not be blank", ErrInvalidQuestion)
			}
			key := strings.ToLower(opt)
			if _, dup := seen[key]; dup {
				return in, fmt.Errorf("%w: duplicate option %q", ErrInvalidQuestion, opt)
			}
			seen[key] = struct{}{}
			options = append(options, opt)
		}
		if len(options) < 2 {
			return in, fmt.Errorf("%w: at least two options are required", ErrInvalidQuestion)
		}
		matched := ""
		for _, opt := range options {
			if strings.EqualFold(opt, in.CorrectAnswer) {
				matched = opt
				break
			}
		}
		if matched == "" {
			return in, fmt.Errorf("%w: correct answer must be one of the options", ErrInvalidQuestion)
		}
		in.Options = options
		in.CorrectAnswer = matched
	case TypeTrueFalse:
		v, ok := parseTrueFalse(in.CorrectAnswer)
		if !ok {
			return in, fmt.Errorf("%w: correct answer must be true or false", ErrInvalidQuestion)
		}
		in.Options = []string{"true", "false"}
		in.CorrectAnswer = fmt.Sprintf("%t", v)
	case TypeShortAnswer:
		in.Options = []string{}
	default:
		return in, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, in.Type)
	}
	return in, nil
}

func boolPtr(v bool) *bool {
	return &v
}
