package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/auth"
	"github.com/web-casa/stackdeck/internal/config"
	"github.com/web-casa/stackdeck/internal/session"
)

// StreamHandler opens log, shell and deploy sessions over WebSocket and
// manages the live ones.
type StreamHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(sessions *session.Manager, settings *config.SettingsStore, logger *slog.Logger) *StreamHandler {
	allowed := allowedOrigin(settings)
	return &StreamHandler{
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // Non-browser clients
				}
				return strings.HasSuffix(origin, "://"+r.Host) || allowed(origin)
			},
		},
	}
}

// List returns the live sessions.
func (h *StreamHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// Kill terminates a live session and its backing process.
func (h *StreamHandler) Kill(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Kill(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed", "id": id})
}

// Logs follows a container's logs. ?tail= selects the backlog.
func (h *StreamHandler) Logs(c *gin.Context) {
	h.serve(c, session.Request{
		Kind:    session.KindLogs,
		Subject: c.Param("id"),
		Tail:    c.Query("tail"),
	})
}

// Shell opens an interactive shell in a running container.
func (h *StreamHandler) Shell(c *gin.Context) {
	cols, ok := queryDim(c, "cols")
	if !ok {
		return
	}
	rows, ok := queryDim(c, "rows")
	if !ok {
		return
	}
	h.serve(c, session.Request{
		Kind:    session.KindShell,
		Subject: c.Param("id"),
		Shell:   c.Query("shell"),
		Cols:    cols,
		Rows:    rows,
	})
}

// Deploy streams compose up or down for a stack, chosen by ?action=.
func (h *StreamHandler) Deploy(c *gin.Context) {
	h.serve(c, session.Request{
		Kind:    session.KindDeploy,
		Subject: c.Param("name"),
		Action:  c.Query("action"),
	})
}

// serve resolves the session before upgrading, so a bad subject is a plain
// HTTP error and nothing is spawned.
func (h *StreamHandler) serve(c *gin.Context, req session.Request) {
	req.User = auth.Username(c)
	ctx := c.Request.Context()

	sess, err := h.sessions.Open(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "kind", string(req.Kind), "err", err)
		sess.Close(session.CloseInternal, "upgrade failed")
		return
	}

	if err := sess.Attach(ctx, session.NewWSConn(ws)); err != nil {
		return
	}
	if err := sess.Serve(ctx); err != nil {
		h.logger.Debug("session ended with error", "session", sess.ID(), "err", err)
	}
}

func queryDim(c *gin.Context, key string) (uint16, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || n == 0 {
		respondError(c, apperr.New(apperr.Validation, "%s must be a positive integer", key))
		return 0, false
	}
	return uint16(n), true
}
