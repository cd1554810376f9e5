// Package session implements the quiz lifecycle:
//
//	Title -> Generating -> Playing <-> Feedback -> Analyzing -> Summary
//
// Abort returns to Title from anywhere. A Session never holds its lock
// across a remote call; results that come back after an abort or restart
// are detected with an epoch counter and dropped.
package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/quiz/generation"
	"github.com/vietddude/snapquiz/internal/quiz/metrics"
)

// Generator is the generation protocol as seen by a session.
type Generator interface {
	GenerateQuestionBatch(ctx context.Context, req generation.BatchRequest) ([]domain.Question, error)
	GenerateDetailedExplanation(ctx context.Context, q domain.Question, persona domain.Persona) (string, error)
	GenerateAdvice(ctx context.Context, questions []domain.Question, results []domain.AnswerResult) (string, error)
}

// CooldownReporter supplies the remaining rate-limit cooldown for user
// messages.
type CooldownReporter interface {
	RemainingCooldown() int
}

// Config holds session settings.
type Config struct {
	// AnswerGrace delays the move to Feedback after an answer so the
	// selection animation can finish. Zero switches immediately.
	AnswerGrace time.Duration `yaml:"answer_grace"`
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{AnswerGrace: 400 * time.Millisecond}
}

// Session is one player's quiz. It is safe for concurrent use.
type Session struct {
	id       string
	gen      Generator
	cooldown CooldownReporter
	clock    clock.Clock
	cfg      Config
	log      *slog.Logger
	flight   singleflight.Group

	mu              sync.Mutex
	stage           domain.Stage
	mode            domain.Mode
	persona         domain.Persona
	images          []domain.Image
	questions       []domain.Question
	current         int
	results         []domain.AnswerResult
	advice          string
	statusMessage   string
	errorMessage    string
	questionStarted time.Time
	explanations    map[string]string
	graceTimer      *time.Timer
	epoch           uint64
	lastActive      time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithCooldown sets the cooldown source used in rate-limit messages.
func WithCooldown(c CooldownReporter) Option {
	return func(s *Session) { s.cooldown = c }
}

// WithConfig sets the session settings.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// New creates a session in the Title stage with default mode and persona.
func New(id string, gen Generator, opts ...Option) *Session {
	s := &Session{
		id:           id,
		gen:          gen,
		clock:        clock.Real{},
		cfg:          DefaultConfig(),
		stage:        domain.StageTitle,
		mode:         domain.ModeStudy,
		persona:      domain.PersonaGentle,
		explanations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.Default().With("component", "session", "session_id", id)
	s.lastActive = s.clock.Now()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// LastActive returns the time of the last state change.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touchLocked() {
	s.lastActive = s.clock.Now()
}

// Configure selects mode and persona. Only allowed on the title screen.
func (s *Session) Configure(mode domain.Mode, persona domain.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != domain.StageTitle {
		return &TransitionError{Op: "change settings", Stage: s.stage}
	}
	s.mode = mode
	s.persona = persona
	s.touchLocked()
	return nil
}

// SetImages replaces the source images. Only allowed on the title screen.
func (s *Session) SetImages(images []domain.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != domain.StageTitle {
		return &TransitionError{Op: "set images", Stage: s.stage}
	}
	if len(images) == 0 {
		return generation.ErrNoImages
	}
	if len(images) > domain.MaxImages {
		return generation.ErrTooManyImages
	}
	s.images = append([]domain.Image(nil), images...)
	s.errorMessage = ""
	s.touchLocked()
	return nil
}

// =============================================================================
// Generation
// =============================================================================

type pendingBatch struct {
	req   generation.BatchRequest
	epoch uint64
}

// Start generates a batch from the configured images and begins play. On
// failure the session returns to Title with a user message and the error is
// returned.
func (s *Session) Start(ctx context.Context) error {
	p, err := s.beginStart()
	if err != nil {
		return err
	}
	return s.finishGeneration(ctx, p)
}

// StartAsync validates and moves to Generating, then generates in the
// background. Progress is visible through Snapshot.
func (s *Session) StartAsync(ctx context.Context) error {
	p, err := s.beginStart()
	if err != nil {
		return err
	}
	go func() { _ = s.finishGeneration(context.WithoutCancel(ctx), p) }()
	return nil
}

// Replay generates a fresh batch from the same images, asking the model not
// to repeat the questions just played.
func (s *Session) Replay(ctx context.Context) error {
	p, err := s.beginReplay()
	if err != nil {
		return err
	}
	return s.finishGeneration(ctx, p)
}

// ReplayAsync is Replay with the generation run in the background.
func (s *Session) ReplayAsync(ctx context.Context) error {
	p, err := s.beginReplay()
	if err != nil {
		return err
	}
	go func() { _ = s.finishGeneration(context.WithoutCancel(ctx), p) }()
	return nil
}

func (s *Session) beginStart() (pendingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != domain.StageTitle {
		return pendingBatch{}, &TransitionError{Op: "start", Stage: s.stage}
	}
	if len(s.images) == 0 {
		return pendingBatch{}, generation.ErrNoImages
	}
	return s.enterGeneratingLocked(nil), nil
}

func (s *Session) beginReplay() (pendingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != domain.StageSummary {
		return pendingBatch{}, &TransitionError{Op: "replay", Stage: s.stage}
	}
	avoid := make([]string, 0, len(s.questions))
	for _, q := range s.questions {
		avoid = append(avoid, q.Prompt)
	}
	return s.enterGeneratingLocked(avoid), nil
}

func (s *Session) enterGeneratingLocked(avoid []string) pendingBatch {
	s.epoch++
	epoch := s.epoch
	s.stopGraceLocked()
	s.stage = domain.StageGenerating
	s.statusMessage = generation.ProgressPreparing
	s.errorMessage = ""
	s.touchLocked()

	return pendingBatch{
		epoch: epoch,
		req: generation.BatchRequest{
			Images:   append([]domain.Image(nil), s.images...),
			Mode:     s.mode,
			Persona:  s.persona,
			Avoid:    avoid,
			Progress: s.progressFunc(epoch),
		},
	}
}

func (s *Session) progressFunc(epoch uint64) func(string) {
	return func(msg string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch == epoch && s.stage == domain.StageGenerating {
			s.statusMessage = msg
		}
	}
}

func (s *Session) finishGeneration(ctx context.Context, p pendingBatch) error {
	questions, err := s.gen.GenerateQuestionBatch(ctx, p.req)

	// read before taking the lock; the reporter has its own
	remaining := 0
	if err != nil && s.cooldown != nil {
		remaining = s.cooldown.RemainingCooldown()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != p.epoch {
		s.log.Debug("Dropping superseded question batch", "error", err)
		return ErrSuperseded
	}

	s.statusMessage = ""
	s.touchLocked()

	if err != nil {
		s.clearRoundLocked()
		s.stage = domain.StageTitle
		s.errorMessage = generation.UserMessage(err, remaining)
		metrics.SessionsStarted.WithLabelValues(string(p.req.Mode), "error").Inc()
		s.log.Warn("Question generation failed", "error", err)
		return err
	}

	s.questions = questions
	s.current = 0
	s.results = nil
	s.advice = ""
	s.explanations = make(map[string]string)
	s.stage = domain.StagePlaying
	s.questionStarted = s.clock.Now()
	metrics.SessionsStarted.WithLabelValues(string(p.req.Mode), "ok").Inc()
	s.log.Info("Quiz started", "questions", len(questions), "mode", p.req.Mode, "persona", p.req.Persona)
	return nil
}

// =============================================================================
// Play
// =============================================================================

// RecordAnswer records the player's choice for the current question. A
// second answer to the same question is ignored and reports false.
func (s *Session) RecordAnswer(option int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == domain.StageFeedback || (s.stage == domain.StagePlaying && s.answeredLocked()) {
		return false, nil
	}
	if s.stage != domain.StagePlaying {
		return false, &TransitionError{Op: "answer", Stage: s.stage}
	}
	if option < 0 || option >= domain.OptionCount {
		return false, ErrInvalidOption
	}

	q := s.questions[s.current]
	result := domain.AnswerResult{
		QuestionIndex:  s.current,
		SelectedIndex:  option,
		Correct:        option == q.CorrectIndex,
		ElapsedSeconds: s.clock.Now().Sub(s.questionStarted).Seconds(),
	}
	s.results = append(s.results, result)
	s.touchLocked()
	metrics.AnswersTotal.WithLabelValues(strconv.FormatBool(result.Correct)).Inc()

	if s.cfg.AnswerGrace <= 0 {
		s.stage = domain.StageFeedback
		return true, nil
	}

	epoch, index := s.epoch, s.current
	s.graceTimer = time.AfterFunc(s.cfg.AnswerGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch == epoch && s.stage == domain.StagePlaying && s.current == index {
			s.stage = domain.StageFeedback
			s.graceTimer = nil
		}
	})
	return true, nil
}

func (s *Session) answeredLocked() bool {
	return len(s.results) > s.current
}

func (s *Session) stopGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// Advance moves past the answered question: to the next question, or after
// the last one through Analyzing to Summary. Advice failures fall back to
// canned text.
func (s *Session) Advance(ctx context.Context) error {
	p, err := s.beginAdvance()
	if err != nil || p == nil {
		return err
	}
	return s.finishAnalysis(ctx, *p)
}

// AdvanceAsync is Advance with the advice request run in the background.
func (s *Session) AdvanceAsync(ctx context.Context) error {
	p, err := s.beginAdvance()
	if err != nil || p == nil {
		return err
	}
	go func() { _ = s.finishAnalysis(context.WithoutCancel(ctx), *p) }()
	return nil
}

type pendingAdvice struct {
	questions []domain.Question
	results   []domain.AnswerResult
	epoch     uint64
}

// beginAdvance returns nil when the move finished without a remote call.
func (s *Session) beginAdvance() (*pendingAdvice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case domain.StageFeedback:
	case domain.StagePlaying:
		if !s.answeredLocked() {
			return nil, ErrNotAnswered
		}
	default:
		return nil, &TransitionError{Op: "advance", Stage: s.stage}
	}

	s.stopGraceLocked()
	s.touchLocked()

	if s.current+1 < len(s.questions) {
		s.current++
		s.stage = domain.StagePlaying
		s.questionStarted = s.clock.Now()
		return nil, nil
	}

	s.epoch++
	s.stage = domain.StageAnalyzing
	return &pendingAdvice{
		questions: append([]domain.Question(nil), s.questions...),
		results:   append([]domain.AnswerResult(nil), s.results...),
		epoch:     s.epoch,
	}, nil
}

func (s *Session) finishAnalysis(ctx context.Context, p pendingAdvice) error {
	advice, err := s.gen.GenerateAdvice(ctx, p.questions, p.results)
	if err != nil {
		s.log.Warn("Advice generation failed, using fallback", "error", err)
		advice = generation.FallbackAdvice
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != p.epoch {
		return ErrSuperseded
	}
	s.advice = advice
	s.stage = domain.StageSummary
	s.touchLocked()
	s.log.Info("Quiz finished", "score", domain.Score(s.results))
	return nil
}

// =============================================================================
// Explanations
// =============================================================================

// RequestExplanation returns the detailed explanation for the current
// question during Feedback.
func (s *Session) RequestExplanation(ctx context.Context) (string, error) {
	s.mu.Lock()
	index := s.current
	s.mu.Unlock()
	return s.ExplainQuestion(ctx, index)
}

// ExplainQuestion returns the detailed explanation of question index. It is
// allowed for the current question in Feedback and for any answered
// question in Summary. A fetched explanation is cached for the rest of the
// round; concurrent requests share one remote call. On failure the fallback
// text is returned and nothing is cached.
func (s *Session) ExplainQuestion(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	switch s.stage {
	case domain.StageFeedback:
		if index != s.current {
			s.mu.Unlock()
			return "", ErrInvalidQuestion
		}
	case domain.StageSummary:
		if index < 0 || index >= len(s.results) {
			s.mu.Unlock()
			return "", ErrInvalidQuestion
		}
	default:
		stage := s.stage
		s.mu.Unlock()
		return "", &TransitionError{Op: "explain", Stage: stage}
	}

	q := s.questions[index]
	if text, ok := s.explanations[q.ID]; ok {
		s.mu.Unlock()
		metrics.ExplanationRequests.WithLabelValues("cache").Inc()
		return text, nil
	}
	persona := s.persona
	s.mu.Unlock()

	v, err, _ := s.flight.Do(q.ID, func() (any, error) {
		if text, ok := s.cachedExplanation(q.ID); ok {
			return text, nil
		}
		// shared by every coalesced caller, so not bound to this one
		text, err := s.gen.GenerateDetailedExplanation(context.WithoutCancel(ctx), q, persona)
		if err != nil {
			return nil, err
		}
		s.storeExplanation(q.ID, text)
		return text, nil
	})
	if err != nil {
		s.log.Warn("Explanation generation failed, using fallback", "question_id", q.ID, "error", err)
		metrics.ExplanationRequests.WithLabelValues("fallback").Inc()
		return generation.FallbackExplanation, nil
	}

	metrics.ExplanationRequests.WithLabelValues("remote").Inc()
	return v.(string), nil
}

func (s *Session) cachedExplanation(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.explanations[questionID]
	return text, ok
}

// storeExplanation is the only writer of the explanation cache. Text for a
// question that is no longer part of the round is dropped.
func (s *Session) storeExplanation(questionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.questions {
		if q.ID == questionID {
			s.explanations[questionID] = text
			return
		}
	}
}

// =============================================================================
// Abort / Snapshot
// =============================================================================

// Abort returns to Title, discarding the round and the images. Mode and
// persona are kept. Any call still in flight is ignored when it returns.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.stopGraceLocked()
	s.stage = domain.StageTitle
	s.images = nil
	s.clearRoundLocked()
	s.statusMessage = ""
	s.errorMessage = ""
	s.touchLocked()
}

// clearRoundLocked discards the questions and everything derived from them.
func (s *Session) clearRoundLocked() {
	s.questions = nil
	s.results = nil
	s.current = 0
	s.advice = ""
	s.explanations = make(map[string]string)
}

// Score returns the percentage score of the results so far.
func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Score(s.results)
}

// View is an immutable copy of a session's state.
type View struct {
	ID            string                `json:"id"`
	Stage         domain.Stage          `json:"stage"`
	Mode          domain.Mode           `json:"mode"`
	Persona       domain.Persona        `json:"persona"`
	ImageCount    int                   `json:"image_count"`
	Questions     []domain.Question     `json:"questions"`
	CurrentIndex  int                   `json:"current_index"`
	Answered      bool                  `json:"answered"`
	Results       []domain.AnswerResult `json:"results"`
	Advice        string                `json:"advice,omitempty"`
	StatusMessage string                `json:"status_message,omitempty"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	CorrectCount  int                   `json:"correct_count"`
	Score         int                   `json:"score"`
}

// Current returns the question being played, if any.
func (v View) Current() (domain.Question, bool) {
	if v.CurrentIndex < 0 || v.CurrentIndex >= len(v.Questions) {
		return domain.Question{}, false
	}
	return v.Questions[v.CurrentIndex], true
}

// Snapshot returns the current state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions := make([]domain.Question, len(s.questions))
	for i, q := range s.questions {
		q.Options = append([]string(nil), q.Options...)
		q.DetailedExplanation = s.explanations[q.ID]
		questions[i] = q
	}

	return View{
		ID:            s.id,
		Stage:         s.stage,
		Mode:          s.mode,
		Persona:       s.persona,
		ImageCount:    len(s.images),
		Questions:     questions,
		CurrentIndex:  s.current,
		Answered:      len(s.questions) > 0 && s.answeredLocked(),
		Results:       append([]domain.AnswerResult(nil), s.results...),
		Advice:        s.advice,
		StatusMessage: s.statusMessage,
		ErrorMessage:  s.errorMessage,
		CorrectCount:  domain.CorrectCount(s.results),
		Score:         domain.Score(s.results),
	}
}
