package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/service"
)

// ResourceHandler serves containers, images, volumes, networks and disk usage.
type ResourceHandler struct {
	svc *service.ResourceService
}

// NewResourceHandler creates a new ResourceHandler
func NewResourceHandler(svc *service.ResourceService) *ResourceHandler {
	return &ResourceHandler{svc: svc}
}

func (h *ResourceHandler) ListContainers(c *gin.Context) {
	containers, err := h.svc.ListContainers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"containers": containers})
}

func (h *ResourceHandler) StartContainer(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.StartContainer(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "id": id})
}

// StopContainer accepts an optional ?timeout= in seconds.
func (h *ResourceHandler) StopContainer(c *gin.Context) {
	id := c.Param("id")
	var timeout *int
	if raw := c.Query("timeout"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperr.New(apperr.Validation, "timeout must be an integer"))
			return
		}
		timeout = &n
	}
	if err := h.svc.StopContainer(c.Request.Context(), id, timeout); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "id": id})
}

func (h *ResourceHandler) RemoveContainer(c *gin.Context) {
	id := c.Param("id")
	force, ok := queryBool(c, "force")
	if !ok {
		return
	}
	if err := h.svc.RemoveContainer(c.Request.Context(), id, force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (h *ResourceHandler) ListImages(c *gin.Context) {
	images, err := h.svc.ListImages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *ResourceHandler) RemoveImage(c *gin.Context) {
	id := c.Param("id")
	force, ok := queryBool(c, "force")
	if !ok {
		return
	}
	noPrune, ok := queryBool(c, "noprune")
	if !ok {
		return
	}
	removed, err := h.svc.RemoveImage(c.Request.Context(), id, force, noPrune)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id, "removed": removed})
}

func (h *ResourceHandler) ListVolumes(c *gin.Context) {
	volumes, err := h.svc.ListVolumes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volumes": volumes})
}

func (h *ResourceHandler) RemoveVolume(c *gin.Context) {
	name := c.Param("name")
	force, ok := queryBool(c, "force")
	if !ok {
		return
	}
	if err := h.svc.RemoveVolume(c.Request.Context(), name, force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "name": name})
}

func (h *ResourceHandler) ListNetworks(c *gin.Context) {
	networks, err := h.svc.ListNetworks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

func (h *ResourceHandler) RemoveNetwork(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.RemoveNetwork(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// Usage returns the engine's disk usage summary.
func (h *ResourceHandler) Usage(c *gin.Context) {
	summary, err := h.svc.Usage(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// Cleanup prunes the kinds flagged in the body. An empty body prunes nothing.
func (h *ResourceHandler) Cleanup(c *gin.Context) {
	var opts service.CleanupOptions
	if !bindJSON(c, &opts, true) {
		return
	}
	result, err := h.svc.Cleanup(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryBool(c *gin.Context, key string) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondError(c, apperr.New(apperr.Validation, "%s must be a boolean", key))
		return false, false
	}
	return v, true
}
