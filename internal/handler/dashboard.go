package handler

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/service"
	"github.com/web-casa/stackdeck/internal/session"
	"github.com/web-casa/stackdeck/internal/stack"
)

// DashboardHandler summarises containers, stacks and live sessions.
type DashboardHandler struct {
	resources *service.ResourceService
	stacks    *stack.Registry
	sessions  *session.Manager
	version   string
}

func NewDashboardHandler(resources *service.ResourceService, stacks *stack.Registry, sessions *session.Manager, version string) *DashboardHandler {
	return &DashboardHandler{resources: resources, stacks: stacks, sessions: sessions, version: version}
}

// Stats returns counts for the overview page.
func (h *DashboardHandler) Stats(c *gin.Context) {
	var (
		containers []docker.ContainerInfo
		stacks     []stack.Stack
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		containers, err = h.resources.ListContainers(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		stacks, err = h.stacks.Discover()
		return err
	})
	if err := g.Wait(); err != nil {
		respondError(c, err)
		return
	}

	states := map[string]int{}
	for _, ctr := range containers {
		states[ctr.State]++
	}
	kinds := map[session.Kind]int{}
	for _, s := range h.sessions.List() {
		kinds[s.Kind]++
	}

	c.JSON(http.StatusOK, gin.H{
		"containers": gin.H{
			"total":   len(containers),
			"running": states["running"],
			"exited":  states["exited"],
			"paused":  states["paused"],
		},
		"stacks": gin.H{
			"total": len(stacks),
			"root":  h.stacks.Root(),
		},
		"sessions": gin.H{
			"total":  h.sessions.Len(),
			"logs":   kinds[session.KindLogs],
			"shell":  kinds[session.KindShell],
			"deploy": kinds[session.KindDeploy],
		},
		"system": gin.H{
			"version":    h.version,
			"go_version": runtime.Version(),
			"go_os":      runtime.GOOS,
			"go_arch":    runtime.GOARCH,
		},
	})
}
