package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/web-casa/stackdeck/internal/config"
)

// ConfigHandler exposes the persisted UI settings.
type ConfigHandler struct {
	settings *config.SettingsStore
}

// NewConfigHandler creates a new ConfigHandler
func NewConfigHandler(settings *config.SettingsStore) *ConfigHandler {
	return &ConfigHandler{settings: settings}
}

// Get returns the current settings.
func (h *ConfigHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Get())
}

// Update merges the provided fields into the settings and persists them.
// Omitted fields keep their values.
func (h *ConfigHandler) Update(c *gin.Context) {
	var req config.SettingsUpdate
	if !bindJSON(c, &req, false) {
		return
	}
	updated, err := h.settings.Update(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
