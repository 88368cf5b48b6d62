package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

const (
	labelManaged   = "ctf-instancer.managed"
	labelUser      = "ctf-instancer.user"
	labelChallenge = "ctf-instancer.challenge"

	removeTimeout = 10 * time.Second
)

type Config struct {
	// Network is the bridge network shared by every instance.
	Network string
	// Host is advertised to players as the address of their instance.
	Host string
	// MinPort and MaxPort bound the published host ports. Zero for both
	// lets the daemon choose.
	MinPort int
	MaxPort int
	// RegistryURL is prepended to image references without a registry.
	RegistryURL string
	PullImages  bool
}

// Backend runs each instance as one container on the local Docker daemon.
type Backend struct {
	dockerClient *client.Client
	config       Config
	ports        *portPool
	networkID    string
	logger       *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	return &Backend{
		dockerClient: cli,
		config:       cfg,
		ports:        newPortPool(cfg.MinPort, cfg.MaxPort),
		logger:       logger.With(slog.String("component", "docker")),
	}, nil
}

// Prepare creates the shared network. An existing network with the same
// name is reused.
func (b *Backend) Prepare(ctx context.Context) error {
	if b.config.Network == "" {
		return nil
	}

	resp, err := b.dockerClient.NetworkCreate(ctx, b.config.Network, client.NetworkCreateOptions{
		Driver: "bridge",
		Labels: map[string]string{labelManaged: "true"},
	})
	if err != nil {
		if cerrdefs.IsConflict(err) || strings.Contains(err.Error(), "already exists") {
			b.logger.Info("reusing network", slog.String("network", b.config.Network))
			b.networkID = b.config.Network
			return nil
		}
		return fmt.Errorf("failed to create network %s: %w", b.config.Network, err)
	}

	b.networkID = resp.ID
	b.logger.Info("created network", slog.String("network", b.config.Network), slog.String("id", resp.ID))
	return nil
}

func (b *Backend) Teardown(ctx context.Context) error {
	defer b.dockerClient.Close()

	if b.networkID == "" {
		return nil
	}
	if _, err := b.dockerClient.NetworkRemove(ctx, b.networkID, client.NetworkRemoveOptions{}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove network %s: %w", b.config.Network, err)
	}
	return nil
}

func (b *Backend) imageRef(image string) string {
	if b.config.RegistryURL == "" {
		return image
	}
	first, _, found := strings.Cut(image, "/")
	if found && (strings.ContainsAny(first, ".:") || first == "localhost") {
		return image
	}
	return fmt.Sprintf("%s/%s", b.config.RegistryURL, image)
}

func (b *Backend) Create(ctx context.Context, name string, key domain.InstanceKey, spec domain.EnvironmentSpec) (*domain.Handle, error) {
	image := b.imageRef(spec.Image)
	if b.config.PullImages {
		if err := b.pullImage(ctx, image); err != nil {
			return nil, err
		}
	}

	containerPort, err := network.ParsePort(fmt.Sprintf("%d/tcp", spec.InternalPort))
	if err != nil {
		return nil, fmt.Errorf("invalid internal port %d: %w", spec.InternalPort, err)
	}

	hostPort, err := b.ports.acquire(name)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate port: %w", err)
	}

	binding := network.PortBinding{HostIP: netip.MustParseAddr("0.0.0.0")}
	if hostPort != 0 {
		binding.HostPort = strconv.Itoa(hostPort)
	}

	hostConfig := &container.HostConfig{
		PortBindings: network.PortMap{
			containerPort: []network.PortBinding{binding},
		},
		AutoRemove:  false,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources:   resources(spec),
	}

	networkConfig := &network.NetworkingConfig{}
	if b.config.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(b.config.Network)
		networkConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			b.config.Network: {},
		}
	}

	containerConfig := &container.Config{
		Image: image,
		Env:   envList(spec.Env),
		ExposedPorts: network.PortSet{
			containerPort: struct{}{},
		},
		Labels: map[string]string{
			labelManaged:   "true",
			labelUser:      key.UserID,
			labelChallenge: key.Challenge,
		},
	}

	resp, err := b.dockerClient.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           containerConfig,
		HostConfig:       hostConfig,
		NetworkingConfig: networkConfig,
		Name:             name,
	})
	if err != nil {
		b.ports.release(name)
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if _, err := b.dockerClient.ContainerStart(ctx, resp.ID, client.ContainerStartOptions{}); err != nil {
		b.removeQuietly(resp.ID, name)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := b.dockerClient.ContainerInspect(ctx, resp.ID, client.ContainerInspectOptions{})
	if err != nil {
		b.removeQuietly(resp.ID, name)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	boundPort := hostPort
	if inspect.Container.NetworkSettings != nil {
		if bindings, ok := inspect.Container.NetworkSettings.Ports[containerPort]; ok && len(bindings) > 0 {
			if p, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				boundPort = p
			}
		}
	}

	b.logger.Info("started container",
		slog.String("container_id", resp.ID),
		slog.String("name", name),
		slog.Int("host_port", boundPort),
	)

	return &domain.Handle{
		Name: name,
		ID:   resp.ID,
		Host: b.config.Host,
		Port: boundPort,
	}, nil
}

// Destroy force-removes the container. A container that no longer exists
// counts as destroyed.
func (b *Backend) Destroy(ctx context.Context, handle *domain.Handle) error {
	if _, err := b.dockerClient.ContainerRemove(ctx, containerRef(handle), client.ContainerRemoveOptions{
		Force: true,
	}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	b.ports.release(handle.Name)
	return nil
}

func (b *Backend) Inspect(ctx context.Context, handle *domain.Handle) (bool, error) {
	inspect, err := b.dockerClient.ContainerInspect(ctx, containerRef(handle), client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}

	if inspect.Container.State == nil {
		return false, nil
	}
	return inspect.Container.State.Running, nil
}

func (b *Backend) Logs(ctx context.Context, handle *domain.Handle) (io.ReadCloser, error) {
	logReader, err := b.dockerClient.ContainerLogs(ctx, containerRef(handle), client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Timestamps: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	return logReader, nil
}

func (b *Backend) removeQuietly(id, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if _, err := b.dockerClient.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		b.logger.Warn("failed to remove container", slog.String("container_id", id), slog.Any("error", err))
	}
	b.ports.release(name)
}

func (b *Backend) pullImage(ctx context.Context, imageName string) error {
	reader, err := b.dockerClient.ImagePull(ctx, imageName, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	for {
		var message struct {
			Status string `json:"status,omitempty"`
			Error  string `json:"error,omitempty"`
		}

		if err := decoder.Decode(&message); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("failed to decode pull output: %w", err)
		}

		if message.Error != "" {
			return fmt.Errorf("pull error: %s", message.Error)
		}

		b.logger.Debug("pull", slog.String("image", imageName), slog.String("status", message.Status))
	}

	return nil
}

func containerRef(handle *domain.Handle) string {
	if handle.ID != "" {
		return handle.ID
	}
	return handle.Name
}

func resources(spec domain.EnvironmentSpec) container.Resources {
	var r container.Resources
	if spec.MemoryMB > 0 {
		r.Memory = int64(spec.MemoryMB) * 1024 * 1024
		r.MemorySwap = r.Memory
	}
	if spec.CPUs > 0 {
		r.NanoCPUs = int64(spec.CPUs * 1e9)
	}
	if spec.PIDsLimit > 0 {
		limit := int64(spec.PIDsLimit)
		r.PidsLimit = &limit
	}
	return r
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
