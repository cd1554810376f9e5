package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/quiz/generation"
	"github.com/vietddude/snapquiz/internal/quiz/health"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

type stubGenerator struct{}

func (stubGenerator) GenerateQuestionBatch(ctx context.Context, req generation.BatchRequest) ([]domain.Question, error) {
	qs := make([]domain.Question, domain.TotalQuestions)
	for i := range qs {
		qs[i] = domain.Question{
			ID:           fmt.Sprintf("q%d", i),
			Prompt:       fmt.Sprintf("Question %d?", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
		}
	}
	return qs, nil
}

func (stubGenerator) GenerateDetailedExplanation(ctx context.Context, q domain.Question, persona domain.Persona) (string, error) {
	return "Because " + q.CorrectOption(), nil
}

func (stubGenerator) GenerateAdvice(ctx context.Context, questions []domain.Question, results []domain.AnswerResult) (string, error) {
	return "Keep it up", nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestServer(t *testing.T) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(func(id string) *session.Session {
		return session.New(id, stubGenerator{}, session.WithConfig(session.Config{}))
	}, time.Hour)
	srv := NewServer(Config{}, registry, health.NewMonitor(health.DefaultConfig()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode, out
}

func uploadImages(t *testing.T, url string, files map[string][]byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	_ = mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPI_FullRound(t *testing.T) {
	ts, _ := newTestServer(t)

	code, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", "")
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}
	base := ts.URL + "/api/sessions/" + created["id"].(string)

	if code, body := doJSON(t, http.MethodPut, base+"/settings", `{"mode":"quiz","persona":"tricky"}`); code != http.StatusOK || body["mode"] != "quiz" {
		t.Fatalf("settings = %d %v", code, body)
	}

	if code, body := uploadImages(t, base+"/images", map[string][]byte{"page.png": pngHeader}); code != http.StatusOK || body["image_count"] != float64(1) {
		t.Fatalf("images = %d %v", code, body)
	}

	if code, _ := doJSON(t, http.MethodPost, base+"/start", ""); code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, view := doJSON(t, http.MethodGet, base, "")
		if view["stage"] == string(domain.StagePlaying) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stage = %v, want playing", view["stage"])
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, answer := doJSON(t, http.MethodPost, base+"/answer", `{"option":1}`)
	if code != http.StatusOK || answer["recorded"] != true {
		t.Fatalf("answer = %d %v", code, answer)
	}
	if stage := answer["session"].(map[string]any)["stage"]; stage != string(domain.StageFeedback) {
		t.Errorf("stage after answer = %v, want feedback", stage)
	}

	code, again := doJSON(t, http.MethodPost, base+"/answer", `{"option":2}`)
	if code != http.StatusOK || again["recorded"] != false {
		t.Errorf("second answer = %d %v, want recorded=false", code, again)
	}

	code, expl := doJSON(t, http.MethodPost, base+"/explanation", "")
	if code != http.StatusOK || expl["explanation"] != "Because b" {
		t.Errorf("explanation = %d %v", code, expl)
	}

	code, next := doJSON(t, http.MethodPost, base+"/next", "")
	if code != http.StatusOK || next["current_index"] != float64(1) {
		t.Errorf("next = %d %v", code, next)
	}

	code, aborted := doJSON(t, http.MethodPost, base+"/abort", "")
	if code != http.StatusOK || aborted["stage"] != string(domain.StageTitle) || aborted["mode"] != "quiz" {
		t.Errorf("abort = %d %v", code, aborted)
	}

	if code, _ := doJSON(t, http.MethodDelete, base, ""); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
	if code, _ := doJSON(t, http.MethodGet, base, ""); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", code)
	}
}

func TestAPI_Errors(t *testing.T) {
	ts, registry := newTestServer(t)
	base := ts.URL + "/api/sessions/" + registry.Create().ID()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, ts.URL + "/api/sessions/nope", "", http.StatusNotFound},
		{"bad mode", http.MethodPut, base + "/settings", `{"mode":"exam"}`, http.StatusBadRequest},
		{"bad json", http.MethodPut, base + "/settings", `{`, http.StatusBadRequest},
		{"start without images", http.MethodPost, base + "/start", "", http.StatusBadRequest},
		{"answer before start", http.MethodPost, base + "/answer", `{"option":0}`, http.StatusConflict},
		{"answer without option", http.MethodPost, base + "/answer", `{}`, http.StatusBadRequest},
		{"next on title", http.MethodPost, base + "/next", "", http.StatusConflict},
		{"explanation on title", http.MethodPost, base + "/explanation", "", http.StatusConflict},
		{"replay on title", http.MethodPost, base + "/replay", "", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doJSON(t, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (body %v)", code, tt.want, body)
			}
			if body["error"] == nil {
				t.Errorf("body = %v, want error field", body)
			}
		})
	}
}

func TestAPI_ImageValidation(t *testing.T) {
	ts, registry := newTestServer(t)
	base := ts.URL + "/api/sessions/" + registry.Create().ID()

	if code, _ := uploadImages(t, base+"/images", map[string][]byte{"notes.txt": []byte("hello")}); code != http.StatusBadRequest {
		t.Errorf("text upload status = %d, want 400", code)
	}

	tooMany := make(map[string][]byte)
	for i := 0; i <= domain.MaxImages; i++ {
		tooMany[fmt.Sprintf("p%d.png", i)] = pngHeader
	}
	if code, _ := uploadImages(t, base+"/images", tooMany); code != http.StatusBadRequest {
		t.Errorf("11 images status = %d, want 400", code)
	}
}

func TestAPI_HealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/health", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("/health = %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, ts.URL+"/api/status", "")
	if code != http.StatusOK || body["label"] != health.LabelReady {
		t.Errorf("/api/status = %d %v", code, body)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Now()
	registry := NewRegistry(func(id string) *session.Session {
		return session.New(id, stubGenerator{})
	}, time.Minute)

	s := registry.Create()
	if registry.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", registry.Len())
	}

	registry.now = func() time.Time { return now }
	if n := registry.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0 for a fresh session", n)
	}

	registry.now = func() time.Time { return now.Add(2 * time.Minute) }
	if n := registry.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, err := registry.Get(s.ID()); err != ErrSessionNotFound {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}
