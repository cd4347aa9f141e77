package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"training-sync-service/internal/app"
	"training-sync-service/internal/content"
	"training-sync-service/internal/domain"
)

const (
	// HeaderHostPassword carries the shared host password on session creation.
	HeaderHostPassword = "X-Host-Password"
	// HeaderAdminPassword carries the admin password on purge-all.
	HeaderAdminPassword = "X-Admin-Password"

	maxBodyBytes = 1 << 20
)

var errMissingService = errors.New("session service dependency required")

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Service        *app.SessionService
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin engine serving the session API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", HeaderHostPassword, HeaderAdminPassword},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		service: deps.Service,
		logger:  logger,
		stream:  newStreamHandler(deps.Service, logger),
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/content", handler.handleContent)

	sessions := router.Group("/sessions")
	sessions.POST("", handler.handleCreateSession)
	sessions.GET("/:code", handler.handleGetSession)
	sessions.PUT("/:code", handler.handleReplaceState)
	sessions.GET("/:code/participants", handler.handleListParticipants)
	sessions.POST("/:code/participants", handler.handleRegisterParticipant)
	sessions.DELETE("/:code/participants/:id", handler.handleRemoveParticipant)
	sessions.GET("/:code/scores", handler.handleListScores)
	sessions.POST("/:code/scores", handler.handleAddScore)
	sessions.GET("/:code/presence", handler.handlePresence)
	sessions.GET("/:code/stream", handler.stream.serve)

	router.POST("/admin/clear-store", handler.handleClearStore)

	return router, nil
}

type httpHandler struct {
	service *app.SessionService
	logger  *zap.Logger
	stream  *streamHandler
}

type createSessionPayload struct {
	InitialState *domain.PresentationState `json:"initialState"`
}

type replaceStatePayload struct {
	State *domain.PresentationState `json:"state"`
}

type sessionStatePayload struct {
	Code  string                   `json:"code"`
	State domain.PresentationState `json:"state"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleContent serves the course; ?code= applies that session's custom content.
func (h *httpHandler) handleContent(c *gin.Context) {
	doc, err := h.service.Content(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if code := c.Query("code"); code != "" {
		session, err := h.service.Get(c.Request.Context(), code)
		if err != nil {
			h.writeError(c, err)
			return
		}
		doc = content.ApplyOverrides(doc, session.State.CustomContent)
	}
	c.JSON(http.StatusOK, doc)
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	request := bindLenient[createSessionPayload](c)

	created, err := h.service.Create(c.Request.Context(), request.InitialState, c.GetHeader(HeaderHostPassword))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleReplaceState(c *gin.Context) {
	request := bindLenient[replaceStatePayload](c)
	if request.State == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}

	state, err := h.service.ReplaceState(c.Request.Context(), c.Param("code"), bearerToken(c), *request.State)
	if err != nil {
		h.writeError(c, err)
		return
	}
	code, _ := domain.NormalizeCode(c.Param("code"))
	c.JSON(http.StatusOK, sessionStatePayload{Code: code, State: state})
}

func (h *httpHandler) handleListParticipants(c *gin.Context) {
	participants, err := h.service.ListParticipants(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *httpHandler) handleRegisterParticipant(c *gin.Context) {
	request := bindLenient[domain.Participant](c)

	participants, err := h.service.RegisterParticipant(c.Request.Context(), c.Param("code"), request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *httpHandler) handleRemoveParticipant(c *gin.Context) {
	participants, err := h.service.RemoveParticipant(c.Request.Context(), c.Param("code"), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *httpHandler) handleListScores(c *gin.Context) {
	scores, err := h.service.ListScores(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores})
}

func (h *httpHandler) handleAddScore(c *gin.Context) {
	request := bindLenient[domain.ScoreEntry](c)

	scores, err := h.service.AddScore(c.Request.Context(), c.Param("code"), request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores})
}

func (h *httpHandler) handlePresence(c *gin.Context) {
	summary, err := h.service.Presence(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleClearStore(c *gin.Context) {
	result, err := h.service.Purge(c.Request.Context(), c.GetHeader(HeaderAdminPassword))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !result.Cleared {
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	writeError(c, h.logger, err)
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, content.ErrContentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrInvalidParticipant),
		errors.Is(err, domain.ErrInvalidScore),
		errors.Is(err, domain.ErrDurableNotConfigured):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindLenient decodes a JSON body into a T. An empty or unparseable body
// yields the zero value, the same as an empty object.
func bindLenient[T any](c *gin.Context) T {
	var empty T
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		return empty
	}
	var decoded T
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty
	}
	return decoded
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
