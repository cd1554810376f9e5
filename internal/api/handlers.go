package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

const (
	maxImageBytes  = 10 << 20
	maxUploadBytes = domain.MaxImages*maxImageBytes + 1<<20
)

func (s *Server) session(r *http.Request) (*session.Session, error) {
	return s.registry.Get(chi.URLParam(r, "sessionID"))
}

// withSession resolves the session from the URL before calling fn.
func (s *Server) withSession(fn func(w http.ResponseWriter, r *http.Request, sess *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.session(r)
		if err != nil {
			respondError(w, err)
			return
		}
		fn(w, r, sess)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Create()
	respondJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsRequest struct {
	Mode    string `json:"mode"`
	Persona string `json:"persona"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		respondError(w, badRequest(err.Error()))
		return
	}
	persona, err := domain.ParsePersona(req.Persona)
	if err != nil {
		respondError(w, badRequest(err.Error()))
		return
	}

	if err := sess.Configure(mode, persona); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, badRequest("invalid multipart form: "+err.Error()))
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, badRequest("images field required"))
		return
	}
	if len(files) > domain.MaxImages {
		respondError(w, badRequest(fmt.Sprintf("at most %d images are allowed", domain.MaxImages)))
		return
	}

	images := make([]domain.Image, 0, len(files))
	for _, fh := range files {
		img, err := readImage(fh)
		if err != nil {
			respondError(w, err)
			return
		}
		images = append(images, img)
	}

	if err := sess.SetImages(images); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func readImage(fh *multipart.FileHeader) (domain.Image, error) {
	if fh.Size > maxImageBytes {
		return domain.Image{}, badRequest(fmt.Sprintf("%s is larger than %d bytes", fh.Filename, maxImageBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return domain.Image{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Image{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return domain.Image{}, badRequest(fmt.Sprintf("%s is not an image (%s)", fh.Filename, mimeType))
	}

	return domain.Image{Name: fh.Filename, MIMEType: mimeType, Data: data}, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.StartAsync(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sess.Snapshot())
}

type answerRequest struct {
	Option *int `json:"option"`
}

type answerResponse struct {
	Recorded bool         `json:"recorded"`
	Session  session.View `json:"session"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Option == nil {
		respondError(w, badRequest("option required"))
		return
	}

	recorded, err := sess.RecordAnswer(*req.Option)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answerResponse{Recorded: recorded, Session: sess.Snapshot()})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.AdvanceAsync(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

type explanationRequest struct {
	Index *int `json:"index"`
}

type explanationResponse struct {
	Index       int    `json:"index"`
	Explanation string `json:"explanation"`
}

func (s *Server) handleExplanation(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req explanationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	index := sess.Snapshot().CurrentIndex
	var (
		text string
		err  error
	)
	if req.Index != nil {
		index = *req.Index
		text, err = sess.ExplainQuestion(r.Context(), index)
	} else {
		text, err = sess.RequestExplanation(r.Context())
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, explanationResponse{Index: index, Explanation: text})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.ReplayAsync(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	sess.Abort()
	respondJSON(w, http.StatusOK, sess.Snapshot())
}
