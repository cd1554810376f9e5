package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vietddude/snapquiz/internal/core/domain"
)

type rawQuestion struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex *int     `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
	TargetAge          string   `json:"targetAge"`
}

// parseBatch decodes the model's JSON output. It tolerates a markdown code
// fence and a {"questions": [...]} wrapper.
func parseBatch(text string) ([]rawQuestion, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var items []rawQuestion
	if err := json.Unmarshal([]byte(body), &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wrapped.Questions == nil {
		return nil, fmt.Errorf("%w: no question array in response", ErrMalformedResponse)
	}
	return wrapped.Questions, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (r rawQuestion) toDomain() (domain.Question, bool) {
	if strings.TrimSpace(r.Question) == "" || r.CorrectAnswerIndex == nil {
		return domain.Question{}, false
	}
	if len(r.Options) != domain.OptionCount {
		return domain.Question{}, false
	}
	opts := make([]string, len(r.Options))
	for i, o := range r.Options {
		opts[i] = strings.TrimSpace(o)
		if opts[i] == "" {
			return domain.Question{}, false
		}
	}

	q := domain.Question{
		Prompt:         strings.TrimSpace(r.Question),
		Options:        opts,
		CorrectIndex:   *r.CorrectAnswerIndex,
		Explanation:    strings.TrimSpace(r.Explanation),
		TargetAudience: strings.TrimSpace(r.TargetAge),
	}
	return q, q.Valid()
}

// normalize drops invalid items and returns exactly TotalQuestions questions,
// truncating or cycling through the valid ones. Every question gets a fresh id.
func normalize(items []rawQuestion, newID func() string) ([]domain.Question, error) {
	valid := make([]domain.Question, 0, len(items))
	for _, item := range items {
		if q, ok := item.toDomain(); ok {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no usable questions among %d items", ErrMalformedResponse, len(items))
	}

	out := make([]domain.Question, domain.TotalQuestions)
	for i := range out {
		q := valid[i%len(valid)]
		q.Options = append([]string(nil), q.Options...)
		q.ID = newID()
		out[i] = q
	}
	return out, nil
}
