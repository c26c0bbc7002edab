package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/web-casa/stackdeck/internal/service"
	"github.com/web-casa/stackdeck/internal/stack"
)

// StackHandler serves stack files and compose actions.
type StackHandler struct {
	registry *stack.Registry
	compose  *service.ComposeService
}

// NewStackHandler creates a new StackHandler
func NewStackHandler(registry *stack.Registry, compose *service.ComposeService) *StackHandler {
	return &StackHandler{registry: registry, compose: compose}
}

type createStackRequest struct {
	Name           string  `json:"name" binding:"required,stackname"`
	ComposeContent string  `json:"compose_content" binding:"required"`
	EnvContent     *string `json:"env_content"`
}

type updateStackRequest struct {
	ComposeContent string  `json:"compose_content" binding:"required"`
	EnvContent     *string `json:"env_content"`
}

// List returns the stack root and the stacks discovered under it.
func (h *StackHandler) List(c *gin.Context) {
	stacks, err := h.registry.Discover()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": h.registry.Root(), "stacks": stacks})
}

func (h *StackHandler) Create(c *gin.Context) {
	var req createStackRequest
	if !bindJSON(c, &req, false) {
		return
	}
	st, err := h.registry.Create(req.Name, req.ComposeContent, req.EnvContent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Set(auditTargetKey, req.Name)
	c.JSON(http.StatusCreated, gin.H{"stack": st})
}

// Files returns the compose and env contents of a stack.
func (h *StackHandler) Files(c *gin.Context) {
	name := c.Param("name")
	files, err := h.registry.Read(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stack":           name,
		"compose_content": files.ComposeContent,
		"env_content":     files.EnvContent,
	})
}

// Update overwrites the stack's files. An omitted or empty env_content removes
// .env rather than writing an empty file.
func (h *StackHandler) Update(c *gin.Context) {
	name := c.Param("name")
	var req updateStackRequest
	if !bindJSON(c, &req, false) {
		return
	}
	st, err := h.registry.Update(name, req.ComposeContent, req.EnvContent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stack": name, "details": st})
}

func (h *StackHandler) Ps(c *gin.Context) {
	name := c.Param("name")
	containers, err := h.compose.Ps(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stack": name, "containers": containers})
}

func (h *StackHandler) Up(c *gin.Context) {
	res, err := h.compose.Up(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StackHandler) Down(c *gin.Context) {
	res, err := h.compose.Down(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ComposeLs lists every compose project the engine knows about.
func (h *StackHandler) ComposeLs(c *gin.Context) {
	projects, err := h.compose.Ls(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}
