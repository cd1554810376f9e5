package domain

import "fmt"

// Stage is a step of the quiz lifecycle.
type Stage string

const (
	StageTitle      Stage = "title"
	StageGenerating Stage = "generating"
	StagePlaying    Stage = "playing"
	StageFeedback   Stage = "feedback"
	StageAnalyzing  Stage = "analyzing"
	StageSummary    Stage = "summary"
)

// Mode biases question generation toward curriculum or trivia.
type Mode string

const (
	ModeStudy Mode = "study"
	ModeQuiz  Mode = "quiz"
)

// Persona is the teacher style used when writing prompts.
type Persona string

const (
	PersonaGentle Persona = "gentle" // careful, fundamentals first
	PersonaTricky Persona = "tricky" // applied, slightly mischievous
)

// ParseMode converts a user supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStudy, ModeQuiz:
		return Mode(s), nil
	case "":
		return ModeStudy, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// ParsePersona converts a user supplied string into a Persona.
func ParsePersona(s string) (Persona, error) {
	switch Persona(s) {
	case PersonaGentle, PersonaTricky:
		return Persona(s), nil
	case "":
		return PersonaGentle, nil
	}
	return "", fmt.Errorf("unknown persona %q", s)
}
