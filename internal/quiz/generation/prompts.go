package generation

import (
	"fmt"
	"strings"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/rpc/provider"
)

// Progress messages reported while a batch is being generated.
const (
	ProgressPreparing = "Preparing images..."
	ProgressWriting   = "AI is writing questions..."
)

// Canned text used when an enrichment call fails.
const (
	FallbackExplanation = "No detailed explanation is available right now. Review the short explanation and try again later."
	FallbackAdvice      = "Your potential is limitless! Keep going."
)

// maxAvoid bounds how many earlier questions are quoted back on replay.
const maxAvoid = 20

func personaStyle(p domain.Persona) string {
	if p == domain.PersonaTricky {
		return "a little mischievous; test applied understanding and edge cases rather than recall"
	}
	return "patient and careful; focus on the fundamentals and key facts"
}

func modeGoal(m domain.Mode) string {
	if m == domain.ModeQuiz {
		return "spark curiosity with fun, surprising trivia drawn from the material"
	}
	return "help the learner retain the material as it would be taught in class"
}

func batchPrompt(mode domain.Mode, persona domain.Persona, avoid []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the study material in the attached images and write exactly %d "+
		"multiple-choice questions based on its content, as JSON.\n\n", domain.TotalQuestions)

	sb.WriteString("Rules:\n")
	sb.WriteString("1. The player cannot see the images while answering. Never write questions such as " +
		"\"look at the image\", \"in figure 1\" or \"what is shown in this photo\". Ask about the knowledge itself.\n")
	sb.WriteString("2. Every question must stand on its own. Do not refer to other questions.\n")
	fmt.Fprintf(&sb, "3. Every question has exactly %d options and exactly one correct answer.\n", domain.OptionCount)
	sb.WriteString("4. Use clear, simple English a student can follow.\n\n")

	fmt.Fprintf(&sb, "- Teacher style: %s.\n", personaStyle(persona))
	fmt.Fprintf(&sb, "- Goal: %s.\n", modeGoal(mode))
	sb.WriteString("- Difficulty: match the material and get slightly harder towards the end.\n")
	sb.WriteString("- Explanation: about two sentences that add the key point from the material.\n")
	sb.WriteString("- targetAge: the school grade this question suits, e.g. \"Grade 5\".\n")

	if len(avoid) > 0 {
		if len(avoid) > maxAvoid {
			avoid = avoid[len(avoid)-maxAvoid:]
		}
		sb.WriteString("\nThe player has already seen these questions. Write different ones:\n")
		for _, q := range avoid {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(q))
		}
	}
	return sb.String()
}

func explanationPrompt(q domain.Question, persona domain.Persona) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a teacher whose style is %s.\n", personaStyle(persona))
	sb.WriteString("Explain the following quiz question to a student in detail (under 150 words). " +
		"Say why the correct answer is right and why the most tempting wrong option is wrong. " +
		"Answer in plain text without markdown.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(&sb, "%c. %s\n", 'A'+i, opt)
	}
	fmt.Fprintf(&sb, "Correct answer: %s\n", q.CorrectOption())
	if q.Explanation != "" {
		fmt.Fprintf(&sb, "Short explanation: %s\n", q.Explanation)
	}
	return sb.String()
}

func advicePrompt(results []domain.AnswerResult) string {
	return fmt.Sprintf("A student answered %d out of %d quiz questions correctly. "+
		"Looking at this result, write one short, warm, motivating message (under 50 words) "+
		"that makes them want to keep learning. Plain text only.",
		domain.CorrectCount(results), domain.TotalQuestions)
}

// batchSchema constrains the batch response to an array of question objects.
var batchSchema = &provider.Schema{
	Type:     "ARRAY",
	MinItems: domain.TotalQuestions,
	MaxItems: domain.TotalQuestions,
	Items: &provider.Schema{
		Type: "OBJECT",
		Properties: map[string]*provider.Schema{
			"question": {Type: "STRING", Description: "The question text"},
			"options": {
				Type:        "ARRAY",
				Description: "Exactly four answer options",
				Items:       &provider.Schema{Type: "STRING"},
				MinItems:    domain.OptionCount,
				MaxItems:    domain.OptionCount,
			},
			"correctAnswerIndex": {Type: "INTEGER", Description: "Index of the correct option (0-3)"},
			"explanation":        {Type: "STRING", Description: "Short explanation (about two sentences)"},
			"targetAge":          {Type: "STRING", Description: "Estimated school grade"},
		},
		Required: []string{"question", "options", "correctAnswerIndex", "explanation", "targetAge"},
	},
}
