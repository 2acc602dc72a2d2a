package network

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// Runtime is the slice of the container runtime the manager needs.
type Runtime interface {
	NetworkExists(ctx context.Context, name string) (bool, error)
	NetworkCreate(ctx context.Context, name string) error
	NetworkRemove(ctx context.Context, name string) error
	NetworkMembers(ctx context.Context, name string) ([]string, error)
	NetworkDisconnect(ctx context.Context, network, container string) error
}

// InstanceLister is the slice of the registry the manager needs.
type InstanceLister interface {
	List(ctx context.Context) ([]*types.ServiceInstance, []string, error)
}

// Manager owns the shared network's lifecycle. The network exists if and
// only if its consumer set is non-empty: the active primary instances plus
// any auxiliary service whose on-disk compose file references the network
// by name.
type Manager struct {
	name     string
	aux      []config.AuxService
	settle   time.Duration
	runtime  Runtime
	registry InstanceLister

	// sleep is swappable so tests don't wait out the settle delay.
	sleep func(time.Duration)
}

// NewManager creates a lifecycle manager for cfg.NetworkName.
func NewManager(cfg *config.Config, rt Runtime, reg InstanceLister) *Manager {
	return &Manager{
		name:     cfg.NetworkName,
		aux:      cfg.AuxServices,
		settle:   cfg.SettleDelay,
		runtime:  rt,
		registry: reg,
		sleep:    time.Sleep,
	}
}

// EnsureCreated creates the shared network if it does not exist. Idempotent;
// a creation failure is fatal to the enclosing installation.
func (m *Manager) EnsureCreated(ctx context.Context) error {
	exists, err := m.runtime.NetworkExists(ctx, m.name)
	if err != nil {
		return fmt.Errorf("checking network %s: %w", m.name, err)
	}
	if exists {
		return nil
	}

	logger := log.WithComponent("network")
	logger.Info().Str("network", m.name).Msg("creating shared network")
	if err := m.runtime.NetworkCreate(ctx, m.name); err != nil {
		return fmt.Errorf("creating network %s: %w", m.name, err)
	}
	return nil
}

// MaybeRemove tears the network down when nothing consumes it anymore.
// The instance currently being removed is excluded from the primary count.
// Teardown is all-or-nothing: stale attachments are disconnected best-effort
// (each failure a warning), and a removal failure is itself only a warning —
// the network may legitimately still be referenced by something the scan
// could not see, and an orphaned network is harmless. Nothing is retried.
func (m *Manager) MaybeRemove(ctx context.Context, excluding string) (*types.OperationSummary, error) {
	summary := &types.OperationSummary{}
	logger := log.WithComponent("network")

	exists, err := m.runtime.NetworkExists(ctx, m.name)
	if err != nil {
		return summary, fmt.Errorf("checking network %s: %w", m.name, err)
	}
	if !exists {
		return summary, nil
	}

	consumers, err := m.consumerSet(ctx, excluding)
	if err != nil {
		return summary, err
	}
	if len(consumers) > 0 {
		logger.Debug().Strs("consumers", consumers).Str("network", m.name).
			Msg("network still in use, keeping")
		return summary, nil
	}

	members, err := m.runtime.NetworkMembers(ctx, m.name)
	if err != nil {
		summary.Warn("listing members of %s: %v", m.name, err)
		members = nil
	}
	for _, member := range members {
		if err := m.runtime.NetworkDisconnect(ctx, m.name, member); err != nil {
			logger.Warn().Err(err).Str("container", member).Msg("failed to disconnect stale network member")
			summary.Warn("disconnecting %s from %s: %v", member, m.name, err)
		}
	}
	if len(members) > 0 && m.settle > 0 {
		m.sleep(m.settle)
	}

	logger.Info().Str("network", m.name).Msg("removing shared network, no consumers remain")
	if err := m.runtime.NetworkRemove(ctx, m.name); err != nil {
		logger.Warn().Err(err).Str("network", m.name).
			Msg("network removal failed, it may still be referenced; retry after cleaning up attachments")
		summary.Warn("removing network %s: %v", m.name, err)
	}
	return summary, nil
}

// consumerSet names everything currently justifying the network's
// existence.
func (m *Manager) consumerSet(ctx context.Context, excluding string) ([]string, error) {
	instances, _, err := m.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating instances: %w", err)
	}

	var consumers []string
	for _, inst := range instances {
		if inst.Name == excluding {
			continue
		}
		if inst.Status == types.StatusActive {
			consumers = append(consumers, inst.Name)
		}
	}
	for _, aux := range m.aux {
		if referencesNetwork(aux.Dir, m.name) {
			consumers = append(consumers, aux.Name)
		}
	}
	return consumers, nil
}

// composeNetworks is the subset of a compose file the consumer check reads.
type composeNetworks struct {
	Networks map[string]struct {
		Name string `yaml:"name"`
	} `yaml:"networks"`
}

// referencesNetwork reports whether the compose file in dir declares the
// named network, either as a key or through an explicit name field. Parsing
// the file beats substring matching: a commented-out reference must not keep
// the network alive.
func referencesNetwork(dir, network string) bool {
	for _, file := range []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			continue
		}
		var doc composeNetworks
		if err := yaml.Unmarshal(data, &doc); err != nil {
			continue
		}
		for key, spec := range doc.Networks {
			if key == network || spec.Name == network {
				return true
			}
		}
	}
	return false
}
