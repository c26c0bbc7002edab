package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/auth"
	"github.com/web-casa/stackdeck/internal/model"
)

// auditTargetKey lets a handler name a target that is not a route parameter.
const auditTargetKey = "audit_target"

// AuditHandler records mutating operations and serves the trail.
type AuditHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewAuditHandler(db *gorm.DB, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{db: db, logger: logger}
}

// List returns audit entries, newest first, with pagination.
func (h *AuditHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	q := h.db.Model(&model.AuditLog{})
	if action := c.Query("action"); action != "" {
		q = q.Where("action = ?", action)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, err, "count audit log"))
		return
	}
	logs := []model.AuditLog{}
	if err := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error; err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, err, "read audit log"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Record returns middleware that writes an entry once the handler has
// succeeded. param names the route parameter identifying the target.
func (h *AuditHandler) Record(action, target, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusBadRequest || c.IsAborted() {
			return
		}
		entry := model.AuditLog{
			Username: auth.Username(c),
			Action:   action,
			Target:   target,
			IP:       c.ClientIP(),
			Status:   status,
		}
		if param != "" {
			entry.TargetID = c.Param(param)
		}
		if id := c.GetString(auditTargetKey); id != "" {
			entry.TargetID = id
		}
		if err := h.db.Create(&entry).Error; err != nil {
			h.logger.Warn("audit write failed", "action", action, "err", err)
		}
	}
}
