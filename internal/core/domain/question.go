package domain

import "math"

const (
	// TotalQuestions is the fixed number of questions in one session.
	TotalQuestions = 10

	// OptionCount is the number of choices every question carries.
	OptionCount = 4
)

// Question is a single multiple-choice item generated from the source images.
type Question struct {
	ID             string   `json:"id"`
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options"`
	CorrectIndex   int      `json:"correct_index"`
	Explanation    string   `json:"explanation"`
	TargetAudience string   `json:"target_audience"`

	// DetailedExplanation is filled in lazily by the session's explanation cache.
	DetailedExplanation string `json:"detailed_explanation,omitempty"`
}

// Valid reports whether the question has exactly four options and a correct
// index pointing at one of them.
func (q Question) Valid() bool {
	if len(q.Options) != OptionCount {
		return false
	}
	return q.CorrectIndex >= 0 && q.CorrectIndex < OptionCount
}

// CorrectOption returns the text of the correct option.
func (q Question) CorrectOption() string {
	if !q.Valid() {
		return ""
	}
	return q.Options[q.CorrectIndex]
}

// AnswerResult records the outcome of one answered question.
type AnswerResult struct {
	QuestionIndex  int     `json:"question_index"`
	SelectedIndex  int     `json:"selected_index"`
	Correct        bool    `json:"correct"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// CorrectCount counts correct answers.
func CorrectCount(results []AnswerResult) int {
	n := 0
	for _, r := range results {
		if r.Correct {
			n++
		}
	}
	return n
}

// Score returns the percentage score over TotalQuestions, rounded.
func Score(results []AnswerResult) int {
	return int(math.Round(float64(CorrectCount(results)) / TotalQuestions * 100))
}
