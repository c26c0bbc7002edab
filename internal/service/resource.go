package service

import (
	"context"
	"log/slog"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/model"
)

// Engine is the subset of the Engine API client the gateway uses.
type Engine interface {
	ListContainers(ctx context.Context) ([]docker.ContainerInfo, error)
	InspectContainer(ctx context.Context, id string) (docker.ContainerDetails, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout *int) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	ListImages(ctx context.Context) ([]docker.ImageInfo, error)
	RemoveImage(ctx context.Context, id string, force, noPrune bool) ([]string, error)
	ListVolumes(ctx context.Context) ([]docker.VolumeInfo, error)
	RemoveVolume(ctx context.Context, name string, force bool) error
	ListNetworks(ctx context.Context) ([]docker.NetworkInfo, error)
	RemoveNetwork(ctx context.Context, id string) error
	PruneContainers(ctx context.Context) (model.PruneResult, error)
	PruneVolumes(ctx context.Context) (model.PruneResult, error)
	PruneNetworks(ctx context.Context) (model.PruneResult, error)
	PruneImages(ctx context.Context) (model.PruneResult, error)
	DiskUsage(ctx context.Context) (model.UsageSnapshot, error)
}

// CleanupOptions selects which resource kinds a cleanup prunes.
type CleanupOptions struct {
	Containers bool `json:"containers"`
	Volumes    bool `json:"volumes"`
	Networks   bool `json:"networks"`
	Images     bool `json:"images"`
}

// Any reports whether at least one prune is requested.
func (o CleanupOptions) Any() bool {
	return o.Containers || o.Volumes || o.Networks || o.Images
}

// ResourceService performs one-shot Engine operations. Confirmation is the
// caller's job; every call acts unconditionally.
type ResourceService struct {
	engine Engine
	logger *slog.Logger
}

// NewResourceService creates a ResourceService.
func NewResourceService(engine Engine, logger *slog.Logger) *ResourceService {
	return &ResourceService{engine: engine, logger: logger}
}

// ── Containers ──

func (s *ResourceService) ListContainers(ctx context.Context) ([]docker.ContainerInfo, error) {
	return s.engine.ListContainers(ctx)
}

func (s *ResourceService) InspectContainer(ctx context.Context, id string) (docker.ContainerDetails, error) {
	if err := requireID(id, "container id"); err != nil {
		return docker.ContainerDetails{}, err
	}
	return s.engine.InspectContainer(ctx, id)
}

func (s *ResourceService) StartContainer(ctx context.Context, id string) error {
	if err := requireID(id, "container id"); err != nil {
		return err
	}
	if err := s.engine.StartContainer(ctx, id); err != nil {
		return err
	}
	s.logger.Info("container started", "id", id)
	return nil
}

// StopContainer stops id, waiting up to timeout seconds when given.
func (s *ResourceService) StopContainer(ctx context.Context, id string, timeout *int) error {
	if err := requireID(id, "container id"); err != nil {
		return err
	}
	if timeout != nil && *timeout < 0 {
		return apperr.New(apperr.Validation, "timeout must not be negative")
	}
	if err := s.engine.StopContainer(ctx, id, timeout); err != nil {
		return err
	}
	s.logger.Info("container stopped", "id", id)
	return nil
}

func (s *ResourceService) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := requireID(id, "container id"); err != nil {
		return err
	}
	if err := s.engine.RemoveContainer(ctx, id, force); err != nil {
		return err
	}
	s.logger.Info("container removed", "id", id, "force", force)
	return nil
}

// ── Images, volumes, networks ──

func (s *ResourceService) ListImages(ctx context.Context) ([]docker.ImageInfo, error) {
	return s.engine.ListImages(ctx)
}

func (s *ResourceService) RemoveImage(ctx context.Context, id string, force, noPrune bool) ([]string, error) {
	if err := requireID(id, "image id"); err != nil {
		return nil, err
	}
	removed, err := s.engine.RemoveImage(ctx, id, force, noPrune)
	if err != nil {
		return nil, err
	}
	s.logger.Info("image removed", "id", id, "force", force, "noprune", noPrune)
	return removed, nil
}

func (s *ResourceService) ListVolumes(ctx context.Context) ([]docker.VolumeInfo, error) {
	return s.engine.ListVolumes(ctx)
}

func (s *ResourceService) RemoveVolume(ctx context.Context, name string, force bool) error {
	if err := requireID(name, "volume name"); err != nil {
		return err
	}
	if err := s.engine.RemoveVolume(ctx, name, force); err != nil {
		return err
	}
	s.logger.Info("volume removed", "name", name, "force", force)
	return nil
}

func (s *ResourceService) ListNetworks(ctx context.Context) ([]docker.NetworkInfo, error) {
	return s.engine.ListNetworks(ctx)
}

func (s *ResourceService) RemoveNetwork(ctx context.Context, id string) error {
	if err := requireID(id, "network id"); err != nil {
		return err
	}
	if err := s.engine.RemoveNetwork(ctx, id); err != nil {
		return err
	}
	s.logger.Info("network removed", "id", id)
	return nil
}

// ── System ──

// Usage returns the current disk usage snapshot.
func (s *ResourceService) Usage(ctx context.Context) (model.UsageSnapshot, error) {
	return s.engine.DiskUsage(ctx)
}

// Cleanup prunes the selected kinds and reports usage before and after.
// With nothing selected no prune runs and after equals before.
func (s *ResourceService) Cleanup(ctx context.Context, opts CleanupOptions) (model.CleanupResult, error) {
	before, err := s.engine.DiskUsage(ctx)
	if err != nil {
		return model.CleanupResult{}, err
	}

	result := model.CleanupResult{Before: before, After: before, Results: map[string]model.PruneResult{}}
	if !opts.Any() {
		return result, nil
	}

	steps := []struct {
		enabled bool
		name    string
		prune   func(context.Context) (model.PruneResult, error)
	}{
		{opts.Containers, "containers", s.engine.PruneContainers},
		{opts.Volumes, "volumes", s.engine.PruneVolumes},
		{opts.Networks, "networks", s.engine.PruneNetworks},
		{opts.Images, "images", s.engine.PruneImages},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		res, err := step.prune(ctx)
		if err != nil {
			return model.CleanupResult{}, err
		}
		result.Results[step.name] = res
		s.logger.Info("pruned", "kind", step.name, "deleted", len(res.Deleted), "reclaimed", res.SpaceReclaimed)
	}

	after, err := s.engine.DiskUsage(ctx)
	if err != nil {
		return model.CleanupResult{}, err
	}
	result.After = after
	if d := before.TotalSize - after.TotalSize; d > 0 {
		result.ReclaimedBytes = d
	}
	return result, nil
}

func requireID(id, what string) error {
	if id == "" {
		return apperr.New(apperr.Validation, "%s is required", what)
	}
	return nil
}
