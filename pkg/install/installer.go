package install

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/config"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/ports"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/registry"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// Phase is an installation state-machine state.
type Phase string

const (
	PhaseRequested   Phase = "requested"
	PhaseStaging     Phase = "staging"
	PhaseValidating  Phase = "validating"
	PhasePromoting   Phase = "promoting"
	PhaseActive      Phase = "active"
	PhaseRollingBack Phase = "rolling-back"
	PhaseAbsent      Phase = "absent"
)

// ComposeRuntime is the slice of the container runtime the installer needs.
type ComposeRuntime interface {
	ComposeUp(ctx context.Context, dir string) error
	ComposeDown(ctx context.Context, dir string) error
	RemovePathEscalated(ctx context.Context, path string) error
}

// PortFinder allocates a disjoint port set for one instance.
type PortFinder interface {
	FindSet(ctx context.Context, instance string, reqs []ports.Request) ([]types.PortReservation, error)
}

// NetworkManager is the slice of the network lifecycle manager the
// installer needs.
type NetworkManager interface {
	EnsureCreated(ctx context.Context) error
	MaybeRemove(ctx context.Context, excluding string) (*types.OperationSummary, error)
}

// Synchronizer regenerates downstream configuration artifacts.
type Synchronizer interface {
	Resync(ctx context.Context) (*types.OperationSummary, error)
}

// Request describes one installation.
type Request struct {
	// Name is the instance name. Empty means "next free number".
	Name            string
	ExecutionClient string
	ConsensusClient string
}

// Installer orchestrates installation as an all-or-nothing operation:
// everything is built in a private staging directory and promoted to the
// registered location with a single rename only once every step has
// succeeded. Any earlier failure removes all traces.
type Installer struct {
	cfg      *config.Config
	runtime  ComposeRuntime
	registry *registry.Registry
	ports    PortFinder
	network  NetworkManager
	syncer   Synchronizer
}

// NewInstaller wires the installer to its collaborators.
func NewInstaller(cfg *config.Config, rt ComposeRuntime, reg *registry.Registry, pf PortFinder, nm NetworkManager, sync Synchronizer) *Installer {
	return &Installer{cfg: cfg, runtime: rt, registry: reg, ports: pf, network: nm, syncer: sync}
}

// Install performs one staged installation. On any failure before promotion
// it rolls back fully and returns a single terminal error; a workload start
// failure after promotion degrades to a registered instance with failed
// status and a warning, never a rollback, so the operator keeps the
// diagnosable artifacts.
func (in *Installer) Install(ctx context.Context, req Request) (*types.ServiceInstance, *types.OperationSummary, error) {
	summary := &types.OperationSummary{}

	name := req.Name
	if name == "" {
		var err error
		if name, err = in.registry.NextFreeName(ctx); err != nil {
			return nil, summary, fmt.Errorf("choosing instance name: %w", err)
		}
	}
	logger := log.WithInstance(name)

	if !in.registry.ValidName(name) {
		return nil, summary, fmt.Errorf("invalid instance name %q: must match %s<number>", name, in.cfg.InstancePrefix)
	}
	if err := ValidateClients(req.ExecutionClient, req.ConsensusClient); err != nil {
		return nil, summary, err
	}

	finalDir, err := in.registry.InstancePath(name)
	if err != nil {
		return nil, summary, err
	}
	// Any existing directory at the final path conflicts, marker or not: a
	// promotion rename onto it could merge two installs.
	if _, err := os.Stat(finalDir); err == nil {
		return nil, summary, &types.ConflictError{Name: name, Dir: finalDir}
	}

	// Staging lives outside the registry's scan namespace, so a partial
	// install is invisible to enumeration.
	logger.Info().Str("phase", string(PhaseStaging)).Msg("building staging area")
	stagingDir := filepath.Join(in.cfg.StagingRoot, fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]))
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, summary, fmt.Errorf("creating staging directory: %w", err)
	}

	guard := newRollbackGuard(func() {
		logger.Warn().Str("phase", string(PhaseRollingBack)).Str("dir", stagingDir).Msg("rolling back staged install")
		if err := os.RemoveAll(stagingDir); err != nil {
			logger.Warn().Err(err).Msg("rollback could not remove staging directory")
		}
	})
	defer guard.Trigger()

	reservations, err := in.allocatePorts(ctx, name)
	if err != nil {
		return nil, summary, err
	}
	logger.Info().Int("ports", len(reservations)).Msg("allocated port set")

	if err := in.materialize(stagingDir, name, req, reservations); err != nil {
		return nil, summary, err
	}

	if err := checkpoint(ctx); err != nil {
		return nil, summary, err
	}
	if err := in.network.EnsureCreated(ctx); err != nil {
		return nil, summary, err
	}

	// Promotion is a single rename: it either fully succeeds or fails with
	// no visible state change. This is the last point rollback may run.
	if err := checkpoint(ctx); err != nil {
		return nil, summary, err
	}
	logger.Info().Str("phase", string(PhasePromoting)).Msg("promoting staged install")
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return nil, summary, fmt.Errorf("promoting %s: %w", name, err)
	}
	guard.Disarm()

	inst := &types.ServiceInstance{
		Name:            name,
		Dir:             finalDir,
		ExecutionClient: req.ExecutionClient,
		ConsensusClient: req.ConsensusClient,
		Ports:           reservations,
		Networks:        []string{in.cfg.NetworkName},
		Status:          types.StatusActive,
	}

	// From here on the instance is real: failures degrade, never delete.
	if err := in.runtime.ComposeUp(ctx, finalDir); err != nil {
		logger.Warn().Err(err).Msg("workload failed to start, instance kept with failed status")
		inst.Status = types.StatusFailed
		in.persistStatus(finalDir, types.StatusFailed, summary)
		summary.Warn("instance %s installed but its workload failed to start: %v", name, err)
	} else {
		in.persistStatus(finalDir, types.StatusActive, summary)
	}

	if resyncSummary, err := in.syncer.Resync(ctx); err != nil {
		summary.Warn("resynchronizing dependent configuration: %v", err)
	} else {
		summary.Merge(resyncSummary)
	}

	logger.Info().Str("phase", string(PhaseActive)).Str("status", string(inst.Status)).Msg("installation finished")
	return inst, summary, nil
}

// Remove tears an instance down. It is idempotent (removing an absent
// instance is a no-op success) and always makes forward progress: every
// sub-step failure is a warning, because a half-removed instance is strictly
// safer than a stuck one.
func (in *Installer) Remove(ctx context.Context, name string) (*types.OperationSummary, error) {
	summary := &types.OperationSummary{}
	logger := log.WithInstance(name)

	if !in.registry.ValidName(name) {
		return summary, fmt.Errorf("invalid instance name %q", name)
	}
	dir, err := in.registry.InstancePath(name)
	if err != nil {
		return summary, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Info().Msg("instance already absent, nothing to remove")
		return summary, nil
	}

	if err := in.runtime.ComposeDown(ctx, dir); err != nil {
		logger.Warn().Err(err).Msg("failed to stop workload, continuing removal")
		summary.Warn("stopping workload for %s: %v", name, err)
	}

	// Deregister before deleting: clearing the marker makes the instance
	// invisible to the registry even if the directory delete fails below.
	in.deregister(dir, summary)

	netSummary, err := in.network.MaybeRemove(ctx, name)
	if err != nil {
		summary.Warn("evaluating shared network teardown: %v", err)
	} else {
		summary.Merge(netSummary)
	}

	if err := in.runtime.RemovePathEscalated(ctx, dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to delete instance directory")
		summary.Warn("deleting %s: %v", dir, err)
	}

	if resyncSummary, err := in.syncer.Resync(ctx); err != nil {
		summary.Warn("resynchronizing dependent configuration: %v", err)
	} else {
		summary.Merge(resyncSummary)
	}

	logger.Info().Int("warnings", summary.WarningCount()).Msg("removal finished")
	return summary, nil
}

// allocatePorts builds one request per configured purpose, in sorted order
// so allocation is deterministic, and asks for a disjoint set.
func (in *Installer) allocatePorts(ctx context.Context, name string) ([]types.PortReservation, error) {
	purposes := make([]string, 0, len(in.cfg.Ports))
	for purpose := range in.cfg.Ports {
		purposes = append(purposes, purpose)
	}
	sort.Strings(purposes)

	reqs := make([]ports.Request, 0, len(purposes))
	for _, purpose := range purposes {
		pr := in.cfg.Ports[purpose]
		reqs = append(reqs, ports.Request{
			Purpose:   purpose,
			Base:      pr.Base,
			Increment: pr.Increment,
			Protocol:  pr.Protocol,
		})
	}
	return in.ports.FindSet(ctx, name, reqs)
}

// materialize writes every derived file into the staging directory:
// the JWT secret shared by both clients, the workload descriptor, and the
// attributes file carrying the completion marker and port reservations.
func (in *Installer) materialize(stagingDir, name string, req Request, reservations []types.PortReservation) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "jwt.hex"), []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return fmt.Errorf("writing JWT secret: %w", err)
	}

	for _, sub := range []string{"execution-data", "consensus-data"} {
		if err := os.MkdirAll(filepath.Join(stagingDir, sub), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}

	composeData, err := BuildComposeFile(name, in.cfg.NetworkName, req.ExecutionClient, req.ConsensusClient, reservations)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "docker-compose.yml"), composeData, 0644); err != nil {
		return fmt.Errorf("writing workload descriptor: %w", err)
	}

	attrs := registry.NewAttrs()
	attrs.Set(registry.MarkerKey, "true")
	attrs.Set(registry.KeyExecutionClient, req.ExecutionClient)
	attrs.Set(registry.KeyConsensusClient, req.ConsensusClient)
	attrs.Set(registry.KeyStatus, string(types.StatusStopped))
	attrs.Set(registry.KeyNetworks, in.cfg.NetworkName)
	attrs.Set(registry.KeyInstalledAt, time.Now().UTC().Format(time.RFC3339))
	for _, r := range reservations {
		attrs.Set(registry.PortAttrKey(r.Purpose), r.String())
	}
	if err := attrs.WriteFile(filepath.Join(stagingDir, registry.AttrsFileName)); err != nil {
		return fmt.Errorf("writing attributes file: %w", err)
	}
	return nil
}

// persistStatus rewrites the instance's status attribute wholesale.
// Best-effort after promotion: a failure here is a warning.
func (in *Installer) persistStatus(dir string, status types.InstanceStatus, summary *types.OperationSummary) {
	path := filepath.Join(dir, registry.AttrsFileName)
	attrs, err := registry.LoadAttrs(path)
	if err != nil {
		summary.Warn("recording status in %s: %v", path, err)
		return
	}
	attrs.Set(registry.KeyStatus, string(status))
	if err := attrs.WriteFile(path); err != nil {
		summary.Warn("recording status in %s: %v", path, err)
	}
}

// deregister clears the completion marker so the registry stops listing the
// instance before its directory disappears.
func (in *Installer) deregister(dir string, summary *types.OperationSummary) {
	path := filepath.Join(dir, registry.AttrsFileName)
	attrs, err := registry.LoadAttrs(path)
	if err != nil {
		if !os.IsNotExist(err) {
			summary.Warn("deregistering %s: %v", dir, err)
		}
		return
	}
	attrs.Set(registry.MarkerKey, "false")
	attrs.Set(registry.KeyStatus, string(types.StatusStopped))
	if err := attrs.WriteFile(path); err != nil {
		summary.Warn("deregistering %s: %v", dir, err)
	}
}

// checkpoint honors external cancellation between long-running steps, so
// rollback never runs concurrently with an in-flight write.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("installation cancelled: %w", err)
	}
	return nil
}
