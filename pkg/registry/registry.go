package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// Attribute keys persisted per instance.
const (
	KeyExecutionClient = "EXECUTION_CLIENT"
	KeyConsensusClient = "CONSENSUS_CLIENT"
	KeyStatus          = "STATUS"
	KeyNetworks        = "NETWORKS"
	KeyInstalledAt     = "INSTALLED_AT"
	portKeyPrefix      = "PORT_"
)

// StatusQuerier answers whether an instance's workload is running. Satisfied
// by *runtime.DockerRuntime; nil disables live refinement.
type StatusQuerier interface {
	ContainerStatus(ctx context.Context, name string) (types.RuntimeStatus, error)
}

// Registry enumerates installed instances by scanning the instance root.
// Scans are never cached: installation and removal can happen externally
// between calls, so every List hits the filesystem.
type Registry struct {
	root    string
	prefix  string
	pattern *regexp.Regexp
	querier StatusQuerier
}

// New creates a registry over root for instances named <prefix><number>.
func New(root, prefix string, querier StatusQuerier) *Registry {
	return &Registry{
		root:    root,
		prefix:  prefix,
		pattern: regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + "([0-9]+)$"),
		querier: querier,
	}
}

// InstancePath resolves an instance name to its directory under the root,
// refusing names that would escape it.
func (r *Registry) InstancePath(name string) (string, error) {
	return securejoin.SecureJoin(r.root, name)
}

// ValidName reports whether name matches the fleet naming pattern.
func (r *Registry) ValidName(name string) bool {
	return r.pattern.MatchString(name)
}

// List re-scans the instance root and returns complete instances plus the
// paths of directories that match the naming pattern but lack the completion
// marker. Incomplete directories are surfaced for the operator and skipped;
// they are never removed here. Enumeration never mutates state.
func (r *Registry) List(ctx context.Context) ([]*types.ServiceInstance, []string, error) {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scanning instance root %s: %w", r.root, err)
	}

	logger := log.WithComponent("registry")
	var instances []*types.ServiceInstance
	var incomplete []string

	for _, entry := range entries {
		if !entry.IsDir() || !r.pattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		inst, err := r.load(ctx, entry.Name(), dir)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn().Str("dir", dir).Msg("directory matches instance naming but has no attributes file, skipping")
				incomplete = append(incomplete, dir)
				continue
			}
			return nil, nil, err
		}
		if inst == nil {
			incomplete = append(incomplete, dir)
			continue
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(i, j int) bool {
		return r.number(instances[i].Name) < r.number(instances[j].Name)
	})
	return instances, incomplete, nil
}

// Get returns the named instance or types.ErrNotFound.
func (r *Registry) Get(ctx context.Context, name string) (*types.ServiceInstance, error) {
	dir, err := r.InstancePath(name)
	if err != nil {
		return nil, err
	}
	inst, err := r.load(ctx, name, dir)
	if os.IsNotExist(err) || (err == nil && inst == nil) {
		return nil, fmt.Errorf("instance %s: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// AllReservations returns every persisted port reservation on the host, the
// allocator's view of used ports that survives process restarts.
func (r *Registry) AllReservations(ctx context.Context) ([]types.PortReservation, error) {
	instances, _, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var reservations []types.PortReservation
	for _, inst := range instances {
		reservations = append(reservations, inst.Ports...)
	}
	return reservations, nil
}

// NextFreeName returns the lowest instance name whose number is claimed by
// neither a complete nor an incomplete directory. Numbers of incomplete
// installs are skipped, never reused; reclaiming them is an explicit
// operator action.
func (r *Registry) NextFreeName(ctx context.Context) (string, error) {
	instances, incomplete, err := r.List(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[int]bool)
	for _, inst := range instances {
		taken[r.number(inst.Name)] = true
	}
	for _, dir := range incomplete {
		taken[r.number(filepath.Base(dir))] = true
	}
	for n := 1; ; n++ {
		if !taken[n] {
			return fmt.Sprintf("%s%d", r.prefix, n), nil
		}
	}
}

// load reads one instance directory. Returns (nil, nil) when the directory
// exists but carries no completion marker.
func (r *Registry) load(ctx context.Context, name, dir string) (*types.ServiceInstance, error) {
	attrs, err := LoadAttrs(filepath.Join(dir, AttrsFileName))
	if err != nil {
		return nil, err
	}
	if marker, _ := attrs.Get(MarkerKey); marker != "true" {
		return nil, nil
	}

	inst := &types.ServiceInstance{Name: name, Dir: dir}
	inst.ExecutionClient, _ = attrs.Get(KeyExecutionClient)
	inst.ConsensusClient, _ = attrs.Get(KeyConsensusClient)

	if v, ok := attrs.Get(KeyNetworks); ok && v != "" {
		inst.Networks = strings.Split(v, ",")
	}
	if v, ok := attrs.Get(KeyInstalledAt); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			inst.InstalledAt = t
		}
	}

	for _, key := range attrs.KeysWithPrefix(portKeyPrefix) {
		value, _ := attrs.Get(key)
		reservation, err := parsePortValue(name, key, value)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		inst.Ports = append(inst.Ports, reservation)
	}

	inst.Status = r.refineStatus(ctx, name, attrs)
	return inst, nil
}

// refineStatus combines the persisted status with a live runtime query. A
// failed install stays failed until an operator intervenes; otherwise the
// runtime's answer wins because containers can be stopped or started behind
// the registry's back.
func (r *Registry) refineStatus(ctx context.Context, name string, attrs *Attrs) types.InstanceStatus {
	persisted, _ := attrs.Get(KeyStatus)
	if persisted == string(types.StatusFailed) {
		return types.StatusFailed
	}
	if r.querier == nil {
		if persisted == "" {
			return types.StatusStopped
		}
		return types.InstanceStatus(persisted)
	}
	status, err := r.querier.ContainerStatus(ctx, ExecutionContainerName(name))
	if err != nil || status == types.RuntimeUnknown {
		if persisted == "" {
			return types.StatusStopped
		}
		return types.InstanceStatus(persisted)
	}
	if status == types.RuntimeRunning {
		return types.StatusActive
	}
	return types.StatusStopped
}

// ExecutionContainerName is the deterministic container name of an
// instance's execution client, used for liveness queries.
func ExecutionContainerName(instance string) string {
	return instance + "-execution"
}

// ConsensusContainerName is the deterministic container name of an
// instance's consensus client.
func ConsensusContainerName(instance string) string {
	return instance + "-consensus"
}

// PortAttrKey converts a logical purpose ("el-p2p") into its attribute key
// ("PORT_EL_P2P").
func PortAttrKey(purpose string) string {
	return portKeyPrefix + strings.ToUpper(strings.ReplaceAll(purpose, "-", "_"))
}

// PurposeFromAttrKey reverses PortAttrKey.
func PurposeFromAttrKey(key string) string {
	p := strings.TrimPrefix(key, portKeyPrefix)
	return strings.ToLower(strings.ReplaceAll(p, "_", "-"))
}

func parsePortValue(instance, key, value string) (types.PortReservation, error) {
	portStr, proto, ok := strings.Cut(value, "/")
	if !ok {
		proto = "tcp"
		portStr = value
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port <= 0 || port > 65535 {
		return types.PortReservation{}, fmt.Errorf("attribute %s: invalid port %q", key, value)
	}
	return types.PortReservation{
		Port:     port,
		Protocol: strings.TrimSpace(proto),
		Instance: instance,
		Purpose:  PurposeFromAttrKey(key),
	}, nil
}

func (r *Registry) number(name string) int {
	m := r.pattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
