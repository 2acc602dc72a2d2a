package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type fakeRuntime struct {
	exists        bool
	members       []string
	createErr     error
	removeErr     error
	disconnectErr error

	created      int
	removed      int
	disconnected []string
}

func (f *fakeRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

func (f *fakeRuntime) NetworkCreate(ctx context.Context, name string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created++
	f.exists = true
	return nil
}

func (f *fakeRuntime) NetworkRemove(ctx context.Context, name string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed++
	f.exists = false
	return nil
}

func (f *fakeRuntime) NetworkMembers(ctx context.Context, name string) ([]string, error) {
	return f.members, nil
}

func (f *fakeRuntime) NetworkDisconnect(ctx context.Context, network, container string) error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.disconnected = append(f.disconnected, container)
	return nil
}

type fakeLister struct {
	instances []*types.ServiceInstance
	err       error
}

func (f *fakeLister) List(ctx context.Context) ([]*types.ServiceInstance, []string, error) {
	return f.instances, nil, f.err
}

func testConfig(aux []config.AuxService) *config.Config {
	cfg := config.Default()
	cfg.NetworkName = "nodeboi-net"
	cfg.AuxServices = aux
	cfg.SettleDelay = 0
	return cfg
}

func newTestManager(cfg *config.Config, rt *fakeRuntime, reg *fakeLister) *Manager {
	m := NewManager(cfg, rt, reg)
	m.sleep = func(time.Duration) {}
	return m
}

func active(name string) *types.ServiceInstance {
	return &types.ServiceInstance{Name: name, Status: types.StatusActive}
}

func TestEnsureCreatedIdempotent(t *testing.T) {
	rt := &fakeRuntime{exists: true}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	require.NoError(t, m.EnsureCreated(context.Background()))
	assert.Zero(t, rt.created)
}

func TestEnsureCreatedCreatesOnce(t *testing.T) {
	rt := &fakeRuntime{}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	require.NoError(t, m.EnsureCreated(context.Background()))
	require.NoError(t, m.EnsureCreated(context.Background()))
	assert.Equal(t, 1, rt.created)
}

func TestEnsureCreatedFailureIsFatal(t *testing.T) {
	rt := &fakeRuntime{createErr: errors.New("boom")}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	assert.Error(t, m.EnsureCreated(context.Background()))
}

func TestMaybeRemoveNoopWhenAbsent(t *testing.T) {
	rt := &fakeRuntime{exists: false}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	summary, err := m.MaybeRemove(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, summary.WarningCount())
	assert.Zero(t, rt.removed)
}

func TestMaybeRemoveKeptByOtherActiveInstance(t *testing.T) {
	rt := &fakeRuntime{exists: true}
	reg := &fakeLister{instances: []*types.ServiceInstance{active("node1"), active("node2")}}
	m := newTestManager(testConfig(nil), rt, reg)

	_, err := m.MaybeRemove(context.Background(), "node1")
	require.NoError(t, err)
	assert.Zero(t, rt.removed, "node2 still consumes the network")
}

func TestMaybeRemoveExcludesInstanceBeingRemoved(t *testing.T) {
	rt := &fakeRuntime{exists: true}
	reg := &fakeLister{instances: []*types.ServiceInstance{active("node1")}}
	m := newTestManager(testConfig(nil), rt, reg)

	_, err := m.MaybeRemove(context.Background(), "node1")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.removed)
	assert.False(t, rt.exists)
}

func TestMaybeRemoveIgnoresStoppedInstances(t *testing.T) {
	rt := &fakeRuntime{exists: true}
	reg := &fakeLister{instances: []*types.ServiceInstance{
		{Name: "node2", Status: types.StatusStopped},
	}}
	m := newTestManager(testConfig(nil), rt, reg)

	_, err := m.MaybeRemove(context.Background(), "node1")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.removed)
}

func TestMaybeRemoveKeptByAuxService(t *testing.T) {
	dir := t.TempDir()
	compose := "networks:\n  nodeboi-net:\n    external: true\n    name: nodeboi-net\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(compose), 0644))

	rt := &fakeRuntime{exists: true}
	m := newTestManager(testConfig([]config.AuxService{{Name: "monitoring", Dir: dir}}), rt, &fakeLister{})

	_, err := m.MaybeRemove(context.Background(), "node1")
	require.NoError(t, err)
	assert.Zero(t, rt.removed, "monitoring compose file references the network")
}

func TestMaybeRemoveIgnoresAuxWithoutReference(t *testing.T) {
	dir := t.TempDir()
	compose := "networks:\n  other-net:\n    external: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(compose), 0644))

	rt := &fakeRuntime{exists: true}
	m := newTestManager(testConfig([]config.AuxService{{Name: "monitoring", Dir: dir}}), rt, &fakeLister{})

	_, err := m.MaybeRemove(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.removed)
}

func TestMaybeRemoveDisconnectsStaleMembers(t *testing.T) {
	rt := &fakeRuntime{exists: true, members: []string{"stale-a", "stale-b"}}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	summary, err := m.MaybeRemove(context.Background(), "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale-a", "stale-b"}, rt.disconnected)
	assert.Equal(t, 1, rt.removed)
	assert.Zero(t, summary.WarningCount())
}

func TestMaybeRemoveDisconnectFailureIsWarning(t *testing.T) {
	rt := &fakeRuntime{exists: true, members: []string{"stale"}, disconnectErr: errors.New("resists")}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	summary, err := m.MaybeRemove(context.Background(), "")
	require.NoError(t, err)
	// Removal still proceeds after a failed disconnect.
	assert.Equal(t, 1, rt.removed)
	assert.Equal(t, 1, summary.WarningCount())
}

func TestMaybeRemoveRemovalFailureIsWarningNotError(t *testing.T) {
	rt := &fakeRuntime{exists: true, removeErr: errors.New("has active endpoints")}
	m := newTestManager(testConfig(nil), rt, &fakeLister{})

	summary, err := m.MaybeRemove(context.Background(), "")
	require.NoError(t, err, "removal failure must not surface as an error")
	assert.Equal(t, 1, summary.WarningCount())
}

func TestMaybeRemoveRegistryErrorPropagates(t *testing.T) {
	rt := &fakeRuntime{exists: true}
	m := newTestManager(testConfig(nil), rt, &fakeLister{err: errors.New("scan failed")})

	_, err := m.MaybeRemove(context.Background(), "")
	assert.Error(t, err)
}

func TestReferencesNetworkIgnoresComments(t *testing.T) {
	dir := t.TempDir()
	compose := "# networks:\n#   nodeboi-net: {}\nservices: {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(compose), 0644))

	assert.False(t, referencesNetwork(dir, "nodeboi-net"))
}

func TestReferencesNetworkByNameField(t *testing.T) {
	dir := t.TempDir()
	compose := "networks:\n  default:\n    name: nodeboi-net\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(compose), 0644))

	assert.True(t, referencesNetwork(dir, "nodeboi-net"))
}
