// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_mockbackend

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	internal_persistence "github.com/interviewx/client/internal/persistence"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

const (
	defaultTokenTTL = time.Hour
	subjectKey      = "subject"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type draftBody struct {
	QuestionID string `json:"questionId"`
	internal_type.Draft
}

type Option func(*Server)

func WithClock(clock utils.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithSecret sets the HMAC key tokens are signed with.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = append([]byte(nil), secret...) }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// Server is a development backend for the interview client. Sessions,
// answers, drafts and media live in a MemoryAdapter; the websocket endpoint
// scores answers locally and replies with analysis events.
type Server struct {
	logger commons.Logger
	store  *internal_persistence.MemoryAdapter
	clock  utils.Clock
	secret []byte
	ttl    time.Duration
	engine *gin.Engine

	mu     sync.Mutex
	events []internal_type.Message
	chunks map[string]int
}

func New(logger commons.Logger, store *internal_persistence.MemoryAdapter, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		store:  store,
		clock:  utils.NewRealClock(),
		ttl:    defaultTokenTTL,
		chunks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString())
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	s.engine = engine
	s.routes()
	return s
}

func (s *Server) routes() {
	s.logger.Info("mock backend routes added to engine.")
	s.engine.GET("/healthz/", s.Healthz)
	s.engine.POST("/api/auth/refresh", s.Refresh)
	s.engine.GET("/ws", s.authenticate, s.Connect)

	apiv1 := s.engine.Group("/api", s.authenticate)
	{
		apiv1.GET("/sessions/:id", s.GetSession)
		apiv1.PATCH("/sessions/:id", s.UpdateSession)
		apiv1.POST("/sessions/:id/answers", s.SubmitAnswer)
		apiv1.PUT("/sessions/:id/draft", s.SaveDraft)
		apiv1.POST("/sessions/:id/submit", s.FinalizeSubmission)
		apiv1.POST("/media", s.UploadMedia)
	}
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Store() *internal_persistence.MemoryAdapter {
	return s.store
}

// IssueToken signs a credential for subject valid for the configured TTL.
func (s *Server) IssueToken(subject string) (string, error) {
	now := s.clock.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}).SignedString(s.secret)
}

func (s *Server) parseToken(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) authenticate(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: string(types.KindUnauthorized), Message: "missing bearer credential"})
		return
	}
	claims, err := s.parseToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: string(types.KindUnauthorized), Message: err.Error()})
		return
	}
	c.Set(subjectKey, claims.Subject)
	c.Next()
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Refresh exchanges a correctly signed credential, expired or not, for a
// fresh one with the same subject.
func (s *Server) Refresh(c *gin.Context) {
	var body tokenBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Token == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: string(types.KindValidation), Message: "token is required"})
		return
	}
	claims, err := s.parseToken(body.Token, jwt.WithoutClaimsValidation())
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorBody{Error: string(types.KindUnauthorized), Message: err.Error()})
		return
	}
	token, err := s.IssueToken(claims.Subject)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Debugf("refreshed credential for %s", claims.Subject)
	c.JSON(http.StatusOK, tokenBody{Token: token})
}

func (s *Server) GetSession(c *gin.Context) {
	descriptor, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, descriptor)
}

func (s *Server) UpdateSession(c *gin.Context) {
	var update internal_type.SessionUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		s.invalid(c, err.Error())
		return
	}
	switch update.Status {
	case internal_type.SessionNotStarted, internal_type.SessionInProgress, internal_type.SessionPaused,
		internal_type.SessionCompleted, internal_type.SessionCancelled:
	default:
		s.invalid(c, "unknown session status "+string(update.Status))
		return
	}
	if err := s.store.UpdateSession(c.Request.Context(), c.Param("id"), update); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) SubmitAnswer(c *gin.Context) {
	var answer internal_type.Answer
	if err := c.ShouldBindJSON(&answer); err != nil {
		s.invalid(c, err.Error())
		return
	}
	if answer.QuestionID == "" {
		s.invalid(c, "questionId is required")
		return
	}
	receipt, err := s.store.SubmitAnswer(c.Request.Context(), c.Param("id"), answer)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (s *Server) UploadMedia(c *gin.Context) {
	kind := internal_type.MediaKind(c.PostForm("kind"))
	if kind != internal_type.MediaAudio && kind != internal_type.MediaVideo {
		s.invalid(c, "kind must be audio or video")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		s.invalid(c, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(file)
	if err != nil {
		s.fail(c, err)
		return
	}
	ref, err := s.store.UploadMedia(c.Request.Context(), kind, blob)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Debugf("stored %s upload %s (%d bytes)", kind, ref.Ref, len(blob))
	c.JSON(http.StatusCreated, ref)
}

func (s *Server) SaveDraft(c *gin.Context) {
	var body draftBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.invalid(c, err.Error())
		return
	}
	if body.QuestionID == "" {
		s.invalid(c, "questionId is required")
		return
	}
	if err := s.store.SaveDraft(c.Request.Context(), c.Param("id"), body.QuestionID, body.Draft); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) FinalizeSubmission(c *gin.Context) {
	var summary internal_type.Summary
	if err := c.ShouldBindJSON(&summary); err != nil {
		s.invalid(c, err.Error())
		return
	}
	id := c.Param("id")
	if summary.SessionID != "" && summary.SessionID != id {
		s.invalid(c, "summary belongs to session "+summary.SessionID)
		return
	}
	if err := s.store.FinalizeSubmission(c.Request.Context(), id, summary); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Infow("session submitted", "session", id, "status", summary.Status, "answered", summary.Answered)
	c.Status(http.StatusNoContent)
}

func (s *Server) invalid(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, errorBody{Error: string(types.KindValidation), Message: message})
}

// fail writes err with the status matching its kind.
func (s *Server) fail(c *gin.Context, err error) {
	kind := types.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindConflict:
		status = http.StatusConflict
	case types.KindValidation:
		status = http.StatusUnprocessableEntity
	case types.KindUnauthorized:
		status = http.StatusUnauthorized
	case types.KindNetwork:
		status = http.StatusServiceUnavailable
	default:
		kind = types.KindServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	var e *types.Error
	message := err.Error()
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	c.JSON(status, errorBody{Error: string(kind), Message: message})
}

// Events returns every recorded inbound websocket frame except heartbeats
// and audio chunks, in arrival order.
func (s *Server) Events() []internal_type.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal_type.Message(nil), s.events...)
}

func (s *Server) EventKinds() []internal_type.MessageKind {
	var out []internal_type.MessageKind
	for _, e := range s.Events() {
		out = append(out, e.Kind)
	}
	return out
}

// ChunkCount is the number of audio chunks received for questionID.
func (s *Server) ChunkCount(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[questionID]
}

func (s *Server) record(msg internal_type.Message) {
	s.mu.Lock()
	s.events = append(s.events, msg)
	s.mu.Unlock()
}

func (s *Server) countChunk(questionID string) {
	s.mu.Lock()
	s.chunks[questionID]++
	s.mu.Unlock()
}
