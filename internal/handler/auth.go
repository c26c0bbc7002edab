package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/web-casa/stackdeck/internal/auth"
)

// AuthHandler manages setup, login and identity endpoints.
type AuthHandler struct {
	store   *auth.Store
	limiter *auth.Limiter
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(store *auth.Store, limiter *auth.Limiter) *AuthHandler {
	return &AuthHandler{store: store, limiter: limiter}
}

type credentialRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Status reports whether the first administrator still has to be registered.
func (h *AuthHandler) Status(c *gin.Context) {
	required, err := h.store.IsSetupRequired()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setup_required": required})
}

// Register creates the single administrator. It only succeeds once.
func (h *AuthHandler) Register(c *gin.Context) {
	if !h.allowAttempt(c) {
		return
	}
	var req credentialRequest
	if !bindJSON(c, &req, false) {
		return
	}
	token, err := h.store.Register(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "token": token})
}

// Login exchanges credentials for a token. Attempts are limited per client IP.
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.allowAttempt(c) {
		return
	}
	var req credentialRequest
	if !bindJSON(c, &req, false) {
		return
	}
	token, err := h.store.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "token": token})
}

// Me returns the authenticated username.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": auth.Username(c)})
}

func (h *AuthHandler) allowAttempt(c *gin.Context) bool {
	if err := h.limiter.Check(c.ClientIP(), auth.ClassLogin); err != nil {
		respondError(c, err)
		return false
	}
	return true
}
