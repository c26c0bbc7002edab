package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records calls and serves scripted disk usage snapshots.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	usage    []model.UsageSnapshot
	usageIdx int
	pruneErr error
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) ListContainers(context.Context) ([]docker.ContainerInfo, error) {
	f.record("list-containers")
	return []docker.ContainerInfo{{ID: "abc123", Name: "web", State: "running"}}, nil
}
func (f *fakeEngine) InspectContainer(_ context.Context, id string) (docker.ContainerDetails, error) {
	f.record("inspect " + id)
	if id == "missing" {
		return docker.ContainerDetails{}, apperr.New(apperr.NotFound, "no such container")
	}
	return docker.ContainerDetails{ID: id, Name: id, Running: true}, nil
}
func (f *fakeEngine) StartContainer(_ context.Context, id string) error {
	f.record("start " + id)
	return nil
}
func (f *fakeEngine) StopContainer(_ context.Context, id string, _ *int) error {
	f.record("stop " + id)
	return nil
}
func (f *fakeEngine) RemoveContainer(_ context.Context, id string, _ bool) error {
	f.record("rm " + id)
	return nil
}
func (f *fakeEngine) ListImages(context.Context) ([]docker.ImageInfo, error) {
	return []docker.ImageInfo{}, nil
}
func (f *fakeEngine) RemoveImage(_ context.Context, id string, _, _ bool) ([]string, error) {
	f.record("rmi " + id)
	return []string{"deleted: sha256:" + id}, nil
}
func (f *fakeEngine) ListVolumes(context.Context) ([]docker.VolumeInfo, error) {
	return []docker.VolumeInfo{}, nil
}
func (f *fakeEngine) RemoveVolume(_ context.Context, name string, _ bool) error {
	f.record("rmv " + name)
	if name == "in-use" {
		return apperr.New(apperr.ResourceBusy, "volume is in use")
	}
	return nil
}
func (f *fakeEngine) ListNetworks(context.Context) ([]docker.NetworkInfo, error) {
	return []docker.NetworkInfo{}, nil
}
func (f *fakeEngine) RemoveNetwork(_ context.Context, id string) error {
	f.record("rmn " + id)
	return nil
}
func (f *fakeEngine) prune(kind string) (model.PruneResult, error) {
	f.record("prune " + kind)
	if f.pruneErr != nil {
		return model.PruneResult{}, f.pruneErr
	}
	return model.PruneResult{Deleted: []string{kind + "-1"}, SpaceReclaimed: 100}, nil
}
func (f *fakeEngine) PruneContainers(context.Context) (model.PruneResult, error) {
	return f.prune("containers")
}
func (f *fakeEngine) PruneVolumes(context.Context) (model.PruneResult, error) {
	return f.prune("volumes")
}
func (f *fakeEngine) PruneNetworks(context.Context) (model.PruneResult, error) {
	return f.prune("networks")
}
func (f *fakeEngine) PruneImages(context.Context) (model.PruneResult, error) {
	return f.prune("images")
}
func (f *fakeEngine) DiskUsage(context.Context) (model.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "df")
	snap := f.usage[f.usageIdx]
	if f.usageIdx < len(f.usage)-1 {
		f.usageIdx++
	}
	return snap, nil
}

func snapshot(total int64) model.UsageSnapshot {
	return model.UsageSnapshot{TotalSize: total, Images: model.CategoryUsage{Count: 3, Size: total}}
}

func TestCleanupNothingSelected(t *testing.T) {
	engine := &fakeEngine{usage: []model.UsageSnapshot{snapshot(1000), snapshot(10)}}
	svc := NewResourceService(engine, discardLogger())

	res, err := svc.Cleanup(context.Background(), CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, res.Before, res.After)
	assert.Equal(t, int64(0), res.ReclaimedBytes)
	assert.Empty(t, res.Results)
	assert.Equal(t, []string{"df"}, engine.Calls(), "no prune may run")
}

func TestCleanupSelectedKinds(t *testing.T) {
	engine := &fakeEngine{usage: []model.UsageSnapshot{snapshot(5000), snapshot(1200)}}
	svc := NewResourceService(engine, discardLogger())

	res, err := svc.Cleanup(context.Background(), CleanupOptions{Containers: true, Images: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3800), res.ReclaimedBytes)
	assert.Equal(t, int64(5000), res.Before.TotalSize)
	assert.Equal(t, int64(1200), res.After.TotalSize)
	assert.Contains(t, res.Results, "containers")
	assert.Contains(t, res.Results, "images")
	assert.NotContains(t, res.Results, "volumes")
	assert.Equal(t, []string{"df", "prune containers", "prune images", "df"}, engine.Calls())
}

func TestCleanupReclaimedNeverNegative(t *testing.T) {
	engine := &fakeEngine{usage: []model.UsageSnapshot{snapshot(100), snapshot(400)}}
	svc := NewResourceService(engine, discardLogger())

	res, err := svc.Cleanup(context.Background(), CleanupOptions{Volumes: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ReclaimedBytes)
}

func TestCleanupPruneError(t *testing.T) {
	engine := &fakeEngine{usage: []model.UsageSnapshot{snapshot(100)}, pruneErr: errors.New("daemon gone")}
	svc := NewResourceService(engine, discardLogger())

	_, err := svc.Cleanup(context.Background(), CleanupOptions{Networks: true})
	assert.Error(t, err)
}

func TestResourceValidation(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewResourceService(engine, discardLogger())
	ctx := context.Background()

	assert.ErrorIs(t, svc.StartContainer(ctx, ""), apperr.ErrValidation)
	neg := -1
	assert.ErrorIs(t, svc.StopContainer(ctx, "abc", &neg), apperr.ErrValidation)
	assert.ErrorIs(t, svc.RemoveVolume(ctx, "", false), apperr.ErrValidation)
	assert.Empty(t, engine.Calls())

	assert.ErrorIs(t, svc.RemoveVolume(ctx, "in-use", false), apperr.ErrResourceBusy)
	_, err := svc.InspectContainer(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
