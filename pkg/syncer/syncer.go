package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/registry"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// In-container ports the artifacts point at. Scraping and beacon API access
// happen over the shared network, so container DNS names and container
// ports are used, never the per-instance host ports.
const (
	elMetricsPort = 6060
	clMetricsPort = 8008
	clRestPort    = 5052
)

// beaconURLsKey is the env key in the validator service's env file that
// carries the generated beacon endpoint list.
const beaconURLsKey = "BEACON_NODE_URLS"

// Runtime is the slice of the container runtime the syncer needs.
type Runtime interface {
	ContainerStatus(ctx context.Context, name string) (types.RuntimeStatus, error)
	ComposeRestart(ctx context.Context, dir string) error
}

// InstanceLister is the slice of the registry the syncer needs.
type InstanceLister interface {
	List(ctx context.Context) ([]*types.ServiceInstance, []string, error)
}

// Syncer regenerates the configuration artifacts consumed by dependent
// services. Every artifact is a pure function of current registry state:
// it is recomputed from scratch and written wholesale on every pass, never
// diffed or patched, so it cannot drift from reality.
type Syncer struct {
	cfg      *config.Config
	registry InstanceLister
	runtime  Runtime
}

// New creates a synchronizer.
func New(cfg *config.Config, reg InstanceLister, rt Runtime) *Syncer {
	return &Syncer{cfg: cfg, registry: reg, runtime: rt}
}

// scrapeTarget is one prometheus file_sd entry.
type scrapeTarget struct {
	Targets []string          `yaml:"targets"`
	Labels  map[string]string `yaml:"labels"`
}

// Resync recomputes every artifact from the current registry state and
// restarts each artifact's owning service if (and only if) it is currently
// running. Callers must invoke it only after the registry reflects the
// intended end state. Restart failures are warnings; generation failures
// are errors.
func (s *Syncer) Resync(ctx context.Context) (*types.OperationSummary, error) {
	summary := &types.OperationSummary{}

	instances, _, err := s.registry.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("enumerating instances: %w", err)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })

	if err := s.writeScrapeTargets(instances); err != nil {
		return summary, err
	}
	s.restartOwner(ctx, "monitoring", summary)

	if s.cfg.VeroDir != "" {
		wrote, err := s.writeBeaconEndpoints(instances)
		if err != nil {
			return summary, err
		}
		if wrote {
			s.restartOwner(ctx, "vero", summary)
		}
	}

	logger := log.WithComponent("syncer")
	logger.Debug().Int("instances", len(instances)).Msg("artifacts resynchronized")
	return summary, nil
}

// writeScrapeTargets regenerates the prometheus file_sd artifact listing
// every instance's execution and consensus metrics endpoints.
func (s *Syncer) writeScrapeTargets(instances []*types.ServiceInstance) error {
	targets := make([]scrapeTarget, 0, len(instances))
	for _, inst := range instances {
		targets = append(targets, scrapeTarget{
			Targets: []string{
				fmt.Sprintf("%s:%d", registry.ExecutionContainerName(inst.Name), elMetricsPort),
				fmt.Sprintf("%s:%d", registry.ConsensusContainerName(inst.Name), clMetricsPort),
			},
			Labels: map[string]string{"instance": inst.Name},
		})
	}

	data, err := yaml.Marshal(targets)
	if err != nil {
		return fmt.Errorf("encoding scrape targets: %w", err)
	}
	if len(targets) == 0 {
		// An empty YAML list, not an empty file: prometheus rejects the latter.
		data = []byte("[]\n")
	}
	return writeArtifact(s.cfg.PrometheusTargetsFile, data)
}

// writeBeaconEndpoints rewrites the validator service's beacon endpoint list
// inside its env file via the attributes codec (structured read-modify-write
// of the whole file, never a line patch). Returns false when the validator
// service is not installed.
func (s *Syncer) writeBeaconEndpoints(instances []*types.ServiceInstance) (bool, error) {
	if _, err := os.Stat(s.cfg.VeroDir); os.IsNotExist(err) {
		return false, nil
	}

	urls := make([]string, 0, len(instances))
	for _, inst := range instances {
		urls = append(urls, fmt.Sprintf("http://%s:%d", registry.ConsensusContainerName(inst.Name), clRestPort))
	}

	envPath := filepath.Join(s.cfg.VeroDir, ".env")
	attrs, err := registry.LoadAttrs(envPath)
	if os.IsNotExist(err) {
		attrs = registry.NewAttrs()
	} else if err != nil {
		return false, fmt.Errorf("reading %s: %w", envPath, err)
	}
	attrs.Set(beaconURLsKey, strings.Join(urls, ","))
	if err := attrs.WriteFile(envPath); err != nil {
		return false, fmt.Errorf("writing %s: %w", envPath, err)
	}
	return true, nil
}

// restartOwner restarts the named auxiliary service so a regenerated
// artifact takes effect, but only if that service is currently running.
// Unrelated services are never touched.
func (s *Syncer) restartOwner(ctx context.Context, name string, summary *types.OperationSummary) {
	var dir string
	for _, aux := range s.cfg.AuxServices {
		if aux.Name == name {
			dir = aux.Dir
			break
		}
	}
	if dir == "" {
		return
	}

	status, err := s.runtime.ContainerStatus(ctx, name)
	if err != nil || status != types.RuntimeRunning {
		return
	}
	if err := s.runtime.ComposeRestart(ctx, dir); err != nil {
		logger := log.WithComponent("syncer")
		logger.Warn().Err(err).Str("service", name).Msg("failed to restart artifact owner")
		summary.Warn("restarting %s: %v", name, err)
	}
}

// writeArtifact writes the artifact via temp file and rename so a consumer
// never reads a torn file.
func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
