package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/snapquiz/internal/control"
	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

var (
	playMode    string
	playPersona string
)

var playCmd = &cobra.Command{
	Use:   "play <image>...",
	Short: "Play a quiz about the given images in the terminal",
	Args:  cobra.RangeArgs(1, domain.MaxImages),
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playMode, "mode", string(domain.ModeStudy), "study or quiz")
	playCmd.Flags().StringVar(&playPersona, "persona", string(domain.PersonaGentle), "gentle or tricky")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	mode, err := domain.ParseMode(playMode)
	if err != nil {
		return err
	}
	persona, err := domain.ParsePersona(playPersona)
	if err != nil {
		return err
	}

	images, err := readImageFiles(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the terminal has no answer animation to wait for
	cfg.Session.AnswerGrace = 0

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to initialize snapquiz", "error", err)
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	sess := app.NewSession("terminal")
	if err := sess.Configure(mode, persona); err != nil {
		return err
	}
	if err := sess.SetImages(images); err != nil {
		return err
	}

	p := newPlayer(sess, os.Stdin, cmd.OutOrStdout())
	return p.play(ctx)
}

func readImageFiles(paths []string) ([]domain.Image, error) {
	images := make([]domain.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		mimeType := http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", path, mimeType)
		}
		images = append(images, domain.Image{Name: filepath.Base(path), MIMEType: mimeType, Data: data})
	}
	return images, nil
}

// =============================================================================
// Terminal loop
// =============================================================================

var errQuit = errors.New("quit")

type player struct {
	sess *session.Session
	in   *bufio.Scanner
	out  io.Writer
	poll time.Duration
}

func newPlayer(sess *session.Session, in io.Reader, out io.Writer) *player {
	return &player{sess: sess, in: bufio.NewScanner(in), out: out, poll: 200 * time.Millisecond}
}

func (p *player) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// readLine returns the next trimmed, lower-cased input line.
func (p *player) readLine() (string, error) {
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", errQuit
	}
	return strings.ToLower(strings.TrimSpace(p.in.Text())), nil
}

func (p *player) play(ctx context.Context) error {
	err := p.generate(ctx, p.sess.StartAsync)
	for err == nil {
		if err = p.round(ctx); err != nil {
			break
		}
		p.printf("\nPlay again with new questions? [y/N] ")
		line, rerr := p.readLine()
		if rerr != nil || line != "y" {
			break
		}
		err = p.generate(ctx, p.sess.ReplayAsync)
	}
	if errors.Is(err, errQuit) {
		p.sess.Abort()
		p.printf("\nBye!\n")
		return nil
	}
	return err
}

// generate starts a batch and prints progress until the session leaves
// Generating.
func (p *player) generate(ctx context.Context, start func(context.Context) error) error {
	if err := start(ctx); err != nil {
		return err
	}

	last := ""
	for {
		v := p.sess.Snapshot()
		if v.Stage != domain.StageGenerating {
			if v.Stage == domain.StageTitle && v.ErrorMessage != "" {
				return errors.New(v.ErrorMessage)
			}
			return nil
		}
		if v.StatusMessage != "" && v.StatusMessage != last {
			p.printf("%s\n", v.StatusMessage)
			last = v.StatusMessage
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.poll):
		}
	}
}

func (p *player) round(ctx context.Context) error {
	for {
		v := p.sess.Snapshot()
		if v.Stage == domain.StageSummary {
			p.summary(v)
			return nil
		}

		q, ok := v.Current()
		if !ok {
			return fmt.Errorf("no question to play in stage %s", v.Stage)
		}
		if err := p.ask(ctx, v.CurrentIndex, q); err != nil {
			return err
		}
		if err := p.sess.Advance(ctx); err != nil {
			return err
		}
	}
}

func (p *player) ask(ctx context.Context, index int, q domain.Question) error {
	p.printf("\nQuestion %d/%d: %s\n", index+1, domain.TotalQuestions, q.Prompt)
	for i, opt := range q.Options {
		p.printf("  %c) %s\n", 'a'+i, opt)
	}

	for {
		p.printf("Your answer: ")
		line, err := p.readLine()
		if err != nil {
			return err
		}
		if line == "q" {
			return errQuit
		}
		option, ok := parseOption(line)
		if !ok {
			p.printf("Please type a, b, c or d.\n")
			continue
		}
		if _, err := p.sess.RecordAnswer(option); err != nil {
			return err
		}
		if option == q.CorrectIndex {
			p.printf("Correct!\n")
		} else {
			p.printf("Not quite. The answer is %c) %s\n", 'a'+q.CorrectIndex, q.CorrectOption())
		}
		if q.Explanation != "" {
			p.printf("%s\n", q.Explanation)
		}
		break
	}

	for {
		p.printf("[e] explain more, [enter] next, [q] quit: ")
		line, err := p.readLine()
		if err != nil {
			return err
		}
		switch line {
		case "":
			return nil
		case "q":
			return errQuit
		case "e":
			text, err := p.sess.RequestExplanation(ctx)
			if err != nil {
				return err
			}
			p.printf("\n%s\n\n", text)
		}
	}
}

func (p *player) summary(v session.View) {
	p.printf("\nYou got %d out of %d (%d%%).\n", v.CorrectCount, domain.TotalQuestions, v.Score)
	if v.Advice != "" {
		p.printf("%s\n", v.Advice)
	}
}

func parseOption(s string) (int, bool) {
	if len(s) != 1 {
		return 0, false
	}
	switch c := s[0]; {
	case c >= 'a' && c < 'a'+domain.OptionCount:
		return int(c - 'a'), true
	case c >= '1' && c < '1'+domain.OptionCount:
		return int(c - '1'), true
	}
	return 0, false
}
