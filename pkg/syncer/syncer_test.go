package syncer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/registry"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type fakeRuntime struct {
	running   map[string]bool
	restarted []string
}

func (f *fakeRuntime) ContainerStatus(ctx context.Context, name string) (types.RuntimeStatus, error) {
	if f.running[name] {
		return types.RuntimeRunning, nil
	}
	return types.RuntimeStopped, nil
}

func (f *fakeRuntime) ComposeRestart(ctx context.Context, dir string) error {
	f.restarted = append(f.restarted, dir)
	return nil
}

type fakeLister struct {
	instances []*types.ServiceInstance
}

func (f *fakeLister) List(ctx context.Context) ([]*types.ServiceInstance, []string, error) {
	return f.instances, nil, nil
}

func newTestSyncer(t *testing.T, instances []*types.ServiceInstance) (*Syncer, *config.Config, *fakeRuntime) {
	t.Helper()
	cfg := config.Default()
	cfg.PrometheusTargetsFile = filepath.Join(t.TempDir(), "prometheus", "node-targets.yml")
	cfg.VeroDir = ""
	cfg.AuxServices = nil
	rt := &fakeRuntime{running: make(map[string]bool)}
	return New(cfg, &fakeLister{instances: instances}, rt), cfg, rt
}

func instance(name string) *types.ServiceInstance {
	return &types.ServiceInstance{Name: name, Status: types.StatusActive}
}

func TestResyncWritesScrapeTargets(t *testing.T) {
	s, cfg, _ := newTestSyncer(t, []*types.ServiceInstance{instance("node1"), instance("node2")})

	summary, err := s.Resync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.WarningCount())

	data, err := os.ReadFile(cfg.PrometheusTargetsFile)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "node1-execution:6060")
	assert.Contains(t, content, "node1-consensus:8008")
	assert.Contains(t, content, "node2-execution:6060")
}

func TestResyncZeroTargets(t *testing.T) {
	s, cfg, _ := newTestSyncer(t, nil)

	_, err := s.Resync(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.PrometheusTargetsFile)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

// TestResyncDeterministic: the same registry snapshot must produce
// byte-identical artifacts on every run.
func TestResyncDeterministic(t *testing.T) {
	instances := []*types.ServiceInstance{instance("node2"), instance("node1"), instance("node3")}
	s, cfg, _ := newTestSyncer(t, instances)

	_, err := s.Resync(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.PrometheusTargetsFile)
	require.NoError(t, err)

	_, err = s.Resync(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.PrometheusTargetsFile)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Ordering is by instance name regardless of enumeration order.
	assert.Less(t, strings.Index(string(first), "node1"), strings.Index(string(first), "node2"))
	assert.Less(t, strings.Index(string(first), "node2"), strings.Index(string(first), "node3"))
}

func TestResyncRewritesArtifactWholesale(t *testing.T) {
	s, cfg, _ := newTestSyncer(t, []*types.ServiceInstance{instance("node1")})
	_, err := s.Resync(context.Background())
	require.NoError(t, err)

	// Simulate a stale hand-edit; the next pass must not preserve it.
	require.NoError(t, os.WriteFile(cfg.PrometheusTargetsFile, []byte("# hand edited\ntargets: bogus\n"), 0644))

	_, err = s.Resync(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(cfg.PrometheusTargetsFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hand edited")
	assert.Contains(t, string(data), "node1-execution:6060")
}

func TestResyncRestartsOnlyRunningOwner(t *testing.T) {
	monitoringDir := t.TempDir()
	veroDir := t.TempDir()

	s, cfg, rt := newTestSyncer(t, []*types.ServiceInstance{instance("node1")})
	cfg.AuxServices = []config.AuxService{
		{Name: "monitoring", Dir: monitoringDir},
		{Name: "vero", Dir: veroDir},
	}
	cfg.VeroDir = veroDir
	rt.running["monitoring"] = true
	// vero is installed but not running: its artifact is written, no restart.

	_, err := s.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{monitoringDir}, rt.restarted)
}

func TestResyncWritesBeaconEndpoints(t *testing.T) {
	veroDir := t.TempDir()
	s, cfg, _ := newTestSyncer(t, []*types.ServiceInstance{instance("node1"), instance("node2")})
	cfg.VeroDir = veroDir

	_, err := s.Resync(context.Background())
	require.NoError(t, err)

	attrs, err := registry.LoadAttrs(filepath.Join(veroDir, ".env"))
	require.NoError(t, err)
	urls, ok := attrs.Get("BEACON_NODE_URLS")
	require.True(t, ok)
	assert.Equal(t, "http://node1-consensus:5052,http://node2-consensus:5052", urls)
}

func TestResyncPreservesForeignEnvKeys(t *testing.T) {
	veroDir := t.TempDir()
	existing := registry.NewAttrs()
	existing.Set("GRAFFITI", "hello")
	existing.Set("BEACON_NODE_URLS", "http://stale:5052")
	require.NoError(t, existing.WriteFile(filepath.Join(veroDir, ".env")))

	s, cfg, _ := newTestSyncer(t, []*types.ServiceInstance{instance("node1")})
	cfg.VeroDir = veroDir

	_, err := s.Resync(context.Background())
	require.NoError(t, err)

	attrs, err := registry.LoadAttrs(filepath.Join(veroDir, ".env"))
	require.NoError(t, err)
	graffiti, _ := attrs.Get("GRAFFITI")
	assert.Equal(t, "hello", graffiti, "unrelated keys survive the rewrite")
	urls, _ := attrs.Get("BEACON_NODE_URLS")
	assert.Equal(t, "http://node1-consensus:5052", urls)
}

func TestResyncSkipsVeroWhenNotInstalled(t *testing.T) {
	s, cfg, rt := newTestSyncer(t, []*types.ServiceInstance{instance("node1")})
	cfg.VeroDir = filepath.Join(t.TempDir(), "missing")
	rt.running["vero"] = true

	_, err := s.Resync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rt.restarted)
}
