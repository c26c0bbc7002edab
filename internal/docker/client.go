// Package docker wraps the Docker Engine API for the resource endpoints and
// log streams.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/model"
)

// Client wraps the Docker Engine API client with convenience methods.
type Client struct {
	cli *client.Client
}

// NewClient creates a Client for the daemon at host, e.g.
// unix:///var/run/docker.sock. The API version is negotiated lazily.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Close releases the Docker client resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks if Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return translate(err, "ping engine")
}

// ── Containers ──

// ContainerInfo is a simplified container representation for API responses.
type ContainerInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   string            `json:"state"`  // running, exited, paused, etc.
	Status  string            `json:"status"` // human-readable, e.g. "Up 2 hours"
	Created int64             `json:"created"`
	Ports   []PortBinding     `json:"ports"`
	Labels  map[string]string `json:"labels"`
	Project string            `json:"project,omitempty"` // compose project label
}

// PortBinding is a simplified port mapping.
type PortBinding struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      string `json:"host_port"`
	ContainerPort string `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// ContainerDetails is what a stream session needs to know about its subject.
type ContainerDetails struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
	TTY     bool   `json:"tty"`
}

// ListContainers returns all containers, including stopped ones.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, translate(err, "list containers")
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}

		ports := make([]PortBinding, 0, len(ctr.Ports))
		for _, p := range ctr.Ports {
			ports = append(ports, PortBinding{
				HostIP:        p.IP,
				HostPort:      portStr(p.PublicPort),
				ContainerPort: portStr(p.PrivatePort),
				Protocol:      p.Type,
			})
		}

		result = append(result, ContainerInfo{
			ID:      shortID(ctr.ID),
			Name:    name,
			Image:   ctr.Image,
			State:   ctr.State,
			Status:  ctr.Status,
			Created: ctr.Created,
			Ports:   ports,
			Labels:  ctr.Labels,
			Project: ctr.Labels["com.docker.compose.project"],
		})
	}
	return result, nil
}

// InspectContainer resolves id (or name) to its details.
func (c *Client) InspectContainer(ctx context.Context, id string) (ContainerDetails, error) {
	info, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerDetails{}, translate(err, "inspect container %s", id)
	}
	d := ContainerDetails{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/")}
	if info.State != nil {
		d.Running = info.State.Running
	}
	if info.Config != nil {
		d.TTY = info.Config.Tty
	}
	return d, nil
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return translate(c.cli.ContainerStart(ctx, id, container.StartOptions{}), "start container %s", id)
}

// StopContainer stops a running container. A nil timeout uses the
// container's configured stop timeout.
func (c *Client) StopContainer(ctx context.Context, id string, timeout *int) error {
	return translate(c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: timeout}), "stop container %s", id)
}

// RemoveContainer removes a container.
func (c *Client) RemoveContainer(ctx context.Context, id string, force bool) error {
	return translate(c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}), "remove container %s", id)
}

// ContainerLogs returns the raw log stream for a container. For containers
// without a TTY the stream is multiplexed and must be demuxed with stdcopy.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail string, follow bool) (io.ReadCloser, error) {
	if tail == "" {
		tail = "200"
	}
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Follow:     follow,
	})
	if err != nil {
		return nil, translate(err, "container logs %s", id)
	}
	return rc, nil
}

// ── Images ──

// ImageInfo is a simplified image representation.
type ImageInfo struct {
	ID         string   `json:"id"`
	Tags       []string `json:"tags"`
	Size       int64    `json:"size"`
	Created    int64    `json:"created"`
	Containers int64    `json:"containers"`
}

// ListImages returns all local images.
func (c *Client) ListImages(ctx context.Context) ([]ImageInfo, error) {
	images, err := c.cli.ImageList(ctx, image.ListOptions{All: false})
	if err != nil {
		return nil, translate(err, "list images")
	}

	result := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		tags := img.RepoTags
		if tags == nil {
			tags = []string{}
		}
		result = append(result, ImageInfo{
			ID:         shortID(strings.TrimPrefix(img.ID, "sha256:")),
			Tags:       tags,
			Size:       img.Size,
			Created:    img.Created,
			Containers: img.Containers,
		})
	}
	return result, nil
}

// RemoveImage removes an image and reports the untagged and deleted references.
func (c *Client) RemoveImage(ctx context.Context, id string, force, noPrune bool) ([]string, error) {
	resp, err := c.cli.ImageRemove(ctx, id, image.RemoveOptions{Force: force, PruneChildren: !noPrune})
	if err != nil {
		return nil, translate(err, "remove image %s", id)
	}
	removed := make([]string, 0, len(resp))
	for _, r := range resp {
		if r.Untagged != "" {
			removed = append(removed, "untagged: "+r.Untagged)
		}
		if r.Deleted != "" {
			removed = append(removed, "deleted: "+r.Deleted)
		}
	}
	return removed, nil
}

// ── Networks ──

// NetworkInfo is a simplified network representation.
type NetworkInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Scope      string `json:"scope"`
	Internal   bool   `json:"internal"`
	Containers int    `json:"containers"`
}

// ListNetworks returns all Docker networks.
func (c *Client) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	nets, err := c.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, translate(err, "list networks")
	}

	result := make([]NetworkInfo, 0, len(nets))
	for _, n := range nets {
		result = append(result, NetworkInfo{
			ID:         shortID(n.ID),
			Name:       n.Name,
			Driver:     n.Driver,
			Scope:      n.Scope,
			Internal:   n.Internal,
			Containers: len(n.Containers),
		})
	}
	return result, nil
}

// RemoveNetwork removes a network.
func (c *Client) RemoveNetwork(ctx context.Context, id string) error {
	return translate(c.cli.NetworkRemove(ctx, id), "remove network %s", id)
}

// ── Volumes ──

// VolumeInfo is a simplified volume representation.
type VolumeInfo struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Mountpoint string            `json:"mountpoint"`
	CreatedAt  string            `json:"created_at"`
	Labels     map[string]string `json:"labels"`
}

// ListVolumes returns all Docker volumes.
func (c *Client) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	resp, err := c.cli.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, translate(err, "list volumes")
	}

	result := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		result = append(result, VolumeInfo{
			Name:       v.Name,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
			CreatedAt:  v.CreatedAt,
			Labels:     v.Labels,
		})
	}
	return result, nil
}

// RemoveVolume removes a volume.
func (c *Client) RemoveVolume(ctx context.Context, name string, force bool) error {
	return translate(c.cli.VolumeRemove(ctx, name, force), "remove volume %s", name)
}

// ── Prune ──

// PruneContainers removes stopped containers.
func (c *Client) PruneContainers(ctx context.Context) (model.PruneResult, error) {
	report, err := c.cli.ContainersPrune(ctx, filters.Args{})
	if err != nil {
		return model.PruneResult{}, translate(err, "prune containers")
	}
	return model.PruneResult{Deleted: nonNil(report.ContainersDeleted), SpaceReclaimed: report.SpaceReclaimed}, nil
}

// PruneVolumes removes unused volumes.
func (c *Client) PruneVolumes(ctx context.Context) (model.PruneResult, error) {
	report, err := c.cli.VolumesPrune(ctx, filters.Args{})
	if err != nil {
		return model.PruneResult{}, translate(err, "prune volumes")
	}
	return model.PruneResult{Deleted: nonNil(report.VolumesDeleted), SpaceReclaimed: report.SpaceReclaimed}, nil
}

// PruneNetworks removes unused networks.
func (c *Client) PruneNetworks(ctx context.Context) (model.PruneResult, error) {
	report, err := c.cli.NetworksPrune(ctx, filters.Args{})
	if err != nil {
		return model.PruneResult{}, translate(err, "prune networks")
	}
	return model.PruneResult{Deleted: nonNil(report.NetworksDeleted)}, nil
}

// PruneImages removes every unused image, not only dangling layers.
func (c *Client) PruneImages(ctx context.Context) (model.PruneResult, error) {
	report, err := c.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "false")))
	if err != nil {
		return model.PruneResult{}, translate(err, "prune images")
	}
	deleted := make([]string, 0, len(report.ImagesDeleted))
	for _, d := range report.ImagesDeleted {
		if d.Deleted != "" {
			deleted = append(deleted, d.Deleted)
		} else if d.Untagged != "" {
			deleted = append(deleted, d.Untagged)
		}
	}
	return model.PruneResult{Deleted: deleted, SpaceReclaimed: report.SpaceReclaimed}, nil
}

// ── System ──

// DiskUsage summarises engine disk usage. The total is the shared layer size
// plus container writable layers, volume data and build cache.
func (c *Client) DiskUsage(ctx context.Context) (model.UsageSnapshot, error) {
	du, err := c.cli.DiskUsage(ctx, types.DiskUsageOptions{})
	if err != nil {
		return model.UsageSnapshot{}, translate(err, "disk usage")
	}

	var snap model.UsageSnapshot
	snap.Images.Count = len(du.Images)
	for _, img := range du.Images {
		if img != nil {
			snap.Images.Size += nonNeg(img.Size)
		}
	}
	snap.Containers.Count = len(du.Containers)
	for _, ctr := range du.Containers {
		if ctr != nil {
			snap.Containers.Size += nonNeg(ctr.SizeRootFs)
		}
	}
	snap.Volumes.Count = len(du.Volumes)
	for _, v := range du.Volumes {
		if v != nil && v.UsageData != nil {
			snap.Volumes.Size += nonNeg(v.UsageData.Size)
		}
	}
	snap.BuildCache.Count = len(du.BuildCache)
	for _, bc := range du.BuildCache {
		if bc != nil {
			snap.BuildCache.Size += nonNeg(bc.Size)
		}
	}

	snap.TotalSize = nonNeg(du.LayersSize) + snap.Containers.Size + snap.Volumes.Size + snap.BuildCache.Size
	snap.TotalSizeHuman = units.HumanSize(float64(snap.TotalSize))
	return snap, nil
}

// ── Helpers ──

// translate classifies engine errors into the shared error kinds.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errdefs.IsNotFound(err):
		return apperr.Wrap(apperr.NotFound, err, "%s", msg)
	case errdefs.IsConflict(err), errdefs.IsForbidden(err):
		// Networks with attached endpoints are refused with 403.
		return apperr.Wrap(apperr.ResourceBusy, err, "%s", msg)
	case errdefs.IsInvalidParameter(err):
		return apperr.Wrap(apperr.Validation, err, "%s", msg)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.Timeout, err, "%s", msg)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func portStr(port uint16) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("%d", port)
}

// Sizes of -1 mean "not computed" in the engine API.
func nonNeg(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
