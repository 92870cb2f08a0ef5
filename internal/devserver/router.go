// Package devserver is an in-memory implementation of the remote study API,
// used for local development and end-to-end tests of the sync layer.
package devserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "studysync_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDataset       = errors.New("dataset dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Tokens  TokenManager
	Dataset *Dataset
	Logger  *zap.Logger
}

// resourceTables maps REST resources onto the tables they write.
var resourceTables = map[string]string{
	api.ResourceClasses: models.TableClasses,
	api.ResourceTasks:   models.TableTasks,
	api.ResourceEvents:  models.TableCalendarEvents,
	api.ResourceHabits:  models.TableHabits,
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Dataset == nil {
		return nil, errMissingDataset
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:  deps.Tokens,
		dataset: deps.Dataset,
		logger:  logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync/push", handler.handlePush)
	protected.POST("/sync/pull", handler.handlePull)
	for resource, table := range resourceTables {
		protected.POST("/"+resource, handler.handleCreate(table))
		protected.PATCH("/"+resource+"/:id", handler.handleUpdate(table))
		protected.DELETE("/"+resource+"/:id", handler.handleDelete(table))
	}

	return router, nil
}

type httpHandler struct {
	tokens  TokenManager
	dataset *Dataset
	logger  *zap.Logger
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(request.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handlePush(c *gin.Context) {
	var request api.PushRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.TableName) == "" {
		c.JSON(http.StatusBadRequest, api.PushResponse{Error: "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if err := h.dataset.Push(userID, request.TableName, request.DeviceID, request.Records); err != nil {
		h.logger.Info("push rejected",
			zap.String("table", request.TableName),
			zap.String("device_id", request.DeviceID),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, api.PushResponse{Error: err.Error()})
		return
	}
	h.logger.Debug("push accepted",
		zap.String("table", request.TableName),
		zap.String("device_id", request.DeviceID),
		zap.Int("records", len(request.Records)))
	c.JSON(http.StatusOK, api.PushResponse{Success: true})
}

func (h *httpHandler) handlePull(c *gin.Context) {
	var request api.PullRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	lastSync := ""
	if request.LastSync != nil {
		lastSync = *request.LastSync
	}
	userID := c.GetString(userIDContextKey)
	tables, watermark, err := h.dataset.Pull(userID, request.DeviceID, lastSync, request.Tables)
	if err != nil {
		h.logger.Info("pull rejected", zap.String("device_id", request.DeviceID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.PullResponse{
		Success: true,
		Data:    api.PullData{Tables: tables, LastSync: watermark},
	})
}

func (h *httpHandler) handleCreate(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields Record
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
			return
		}
		record, err := h.dataset.Create(c.GetString(userIDContextKey), table, fields)
		if err != nil {
			h.respondError(c, table, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": record})
	}
}

func (h *httpHandler) handleUpdate(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields Record
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
			return
		}
		record, err := h.dataset.Update(c.GetString(userIDContextKey), table, c.Param("id"), fields)
		if err != nil {
			h.respondError(c, table, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
	}
}

func (h *httpHandler) handleDelete(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.dataset.Delete(c.GetString(userIDContextKey), table, c.Param("id")); err != nil {
			h.respondError(c, table, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *httpHandler) respondError(c *gin.Context, table string, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errRecordNotFound) {
		status = http.StatusNotFound
	}
	h.logger.Debug("record request failed", zap.String("table", table), zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
