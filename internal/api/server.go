package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/logger"
	"github.com/samcharles93/greedo/internal/tokenizer"
	"github.com/samcharles93/greedo/internal/version"
)

type Server struct {
	store   *SessionStore
	tok     *tokenizer.SentencePiece
	log     logger.Logger
	clock   func() time.Time
	started time.Time
}

func NewServer(store *SessionStore, tok *tokenizer.SentencePiece, log logger.Logger) *Server {
	if store == nil {
		store = NewSessionStore(nil, 0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store:   store,
		tok:     tok,
		log:     log,
		clock:   time.Now,
		started: time.Now(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	// Sessions
	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions", s.handleListSessions)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/reset", s.handleResetSession)
	e.POST("/v1/sessions/:id/generate", s.handleGenerate)

	// Vocabulary
	e.POST("/v1/tokenize", s.handleTokenize)
	e.POST("/v1/detokenize", s.handleDetokenize)
	e.GET("/v1/vocab", s.handleVocab)

	e.GET("/healthz", s.handleHealth)
	metrics := promhttp.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	rec, err := s.store.Create(s.clock())
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", err.Error(), "", "too_many_sessions")
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	s.log.Info("session created", "session", rec.ID)
	return c.JSON(http.StatusOK, sessionResponse(rec))
}

func (s *Server) handleListSessions(c *echo.Context) error {
	recs := s.store.List()
	out := make([]SessionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionResponse(rec))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   out,
	})
}

func (s *Server) handleGetSession(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, ErrSessionNotFound.Error())
	}
	return c.JSON(http.StatusOK, sessionResponse(rec))
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, ErrSessionNotFound.Error())
	}
	s.log.Info("session deleted", "session", id)
	return c.JSON(http.StatusOK, DeleteSessionResp{
		ID:      id,
		Object:  "session.deleted",
		Deleted: true,
	})
}

func (s *Server) handleResetSession(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, ErrSessionNotFound.Error())
	}
	if err := rec.Engine.Reset(); err != nil {
		status, body := generateErrorStatus(err)
		return c.JSON(status, map[string]any{"error": body})
	}
	return c.JSON(http.StatusOK, sessionResponse(rec))
}

func (s *Server) handleGenerate(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, ErrSessionNotFound.Error())
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := validateGenerate(&req); err != nil {
		return writeRequestError(c, err)
	}

	gen := GenerateResponse{
		ID:        newGenerationID(),
		Object:    "generation",
		SessionID: rec.ID,
		CreatedAt: s.clock().Unix(),
	}
	ireq := &inference.Request{
		Text:         req.Input,
		Continue:     req.Continue,
		MaxNewTokens: req.MaxNewTokens,
		MinSteps:     req.MinSteps,
	}

	if req.Stream {
		return s.streamGenerate(c, rec, gen, ireq)
	}

	res, err := rec.Engine.Generate(c.Request().Context(), ireq, nil)
	fillGeneration(&gen, res, rec.Engine.Status())
	if err != nil {
		status, body := generateErrorStatus(err)
		if res == nil {
			return c.JSON(status, map[string]any{"error": body})
		}
		if res.StopReason == inference.StopCancelled {
			gen.Status = "incomplete"
		} else {
			gen.Status = "failed"
		}
		gen.Error = &body
		return c.JSON(status, gen)
	}
	gen.Status = "completed"
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) streamGenerate(c *echo.Context, rec *sessionRecord, gen GenerateResponse, req *inference.Request) error {
	w, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	stream := func(fragment string) {
		if err := w.Begin(gen); err != nil {
			return
		}
		if err := w.EmitDelta(fragment); err != nil {
			s.log.Debug("stream write failed", "session", rec.ID, "error", err)
		}
	}

	res, err := rec.Engine.Generate(c.Request().Context(), req, stream)
	if err != nil && res == nil && !w.Started() {
		status, body := generateErrorStatus(err)
		return c.JSON(status, map[string]any{"error": body})
	}
	fillGeneration(&gen, res, rec.Engine.Status())
	if err := w.Begin(gen); err != nil {
		return nil
	}

	switch {
	case err == nil:
		_ = w.Complete(gen)
	case res != nil && res.StopReason == inference.StopCancelled:
		_ = w.Incomplete(gen)
	default:
		_, body := generateErrorStatus(err)
		_ = w.Failed(gen, body)
	}
	return nil
}

func validateGenerate(req *GenerateRequest) error {
	if req.MaxNewTokens < 0 {
		return newInvalidRequest("max_new_tokens", "max_new_tokens must be >= 0")
	}
	if req.MinSteps < 0 {
		return newInvalidRequest("min_steps", "min_steps must be >= 0")
	}
	if !req.Continue && strings.TrimSpace(req.Input) == "" {
		return newInvalidRequest("input", "input is required unless continue is set")
	}
	return nil
}

func fillGeneration(gen *GenerateResponse, res *inference.Result, st inference.Status) {
	if res == nil {
		return
	}
	gen.Text = res.Text
	gen.StopReason = string(res.StopReason)
	gen.Usage = usageFrom(res, st.HistoryLength)
}

func sessionResponse(rec *sessionRecord) SessionResponse {
	return SessionResponse{
		ID:        rec.ID,
		Object:    "session",
		CreatedAt: rec.CreatedAt.Unix(),
		Status:    statusFrom(rec.Engine.Status()),
	}
}

func (s *Server) handleTokenize(c *echo.Context) error {
	if s.tok == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "tokenizer not configured", "", "")
	}
	req, err := decodeJSON[TokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ids := s.tok.Encode(req.Text)
	tokens := make([]string, len(ids))
	v := s.tok.Vocabulary()
	for i, id := range ids {
		tokens[i], _ = v.TokenOf(id)
	}
	return c.JSON(http.StatusOK, TokenizeResponse{IDs: ids, Tokens: tokens})
}

func (s *Server) handleDetokenize(c *echo.Context) error {
	if s.tok == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "tokenizer not configured", "", "")
	}
	req, err := decodeJSON[DetokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.IDs == nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "ids is required", "ids", "")
	}
	return c.JSON(http.StatusOK, DetokenizeResponse{Text: s.tok.Decode(req.IDs)})
}

func (s *Server) handleVocab(c *echo.Context) error {
	if s.tok == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "tokenizer not configured", "", "")
	}
	v := s.tok.Vocabulary()
	sp := v.Specials()
	return c.JSON(http.StatusOK, VocabResponse{
		Size:         v.Size(),
		IDSpan:       v.IDSpan(),
		MaxTokenLen:  v.MaxTokenLen(),
		ByteFallback: s.tok.ByteFallback(),
		Specials: map[string]int{
			"unk":        sp.UNK,
			"bos":        sp.BOS,
			"eos":        sp.EOS,
			"line_break": sp.LineBreak,
		},
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.store.Len(),
		Version:  version.String(),
		Uptime:   uptime(s.started, s.clock()),
	})
}
