package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

const (
	// helperImage is used for privilege-escalated path removal when file
	// ownership blocks an ordinary delete.
	helperImage = "alpine:3.20"
)

// DockerRuntime is the narrow command interface to the container runtime.
// It issues workload start/stop, network lifecycle, and port enumeration
// requests and classifies failures into the typed error taxonomy instead of
// leaking tool-specific output to callers.
type DockerRuntime struct {
	bin    string
	runner CommandRunner
}

// NewDockerRuntime creates a runtime client using the given CLI binary.
func NewDockerRuntime(bin string, runner CommandRunner) *DockerRuntime {
	if bin == "" {
		bin = "docker"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DockerRuntime{bin: bin, runner: runner}
}

// classify maps CLI failures onto the typed taxonomy. Matching is limited to
// stable docker error substrings; everything else passes through wrapped.
func classify(op string, output string, err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "cannot connect to the docker daemon"),
		strings.Contains(lower, "is the docker daemon running"),
		strings.Contains(lower, "error during connect"):
		return fmt.Errorf("%s: %w: %s", op, types.ErrRuntimeUnavailable, output)
	case strings.Contains(lower, "no such"),
		strings.Contains(lower, "not found"):
		return fmt.Errorf("%s: %w: %s", op, types.ErrNotFound, output)
	case strings.Contains(lower, "has active endpoints"),
		strings.Contains(lower, "in use"):
		return fmt.Errorf("%s: %w: %s", op, types.ErrResourceInUse, output)
	}
	return fmt.Errorf("%s: %w (output: %s)", op, err, output)
}

// ContainerStatus reports whether the named container is running. An absent
// container is reported as stopped, not as an error, because "not installed
// yet" and "installed but down" are both ordinary states for callers.
func (r *DockerRuntime) ContainerStatus(ctx context.Context, name string) (types.RuntimeStatus, error) {
	out, err := r.runner.Run(ctx, r.bin, "inspect", "--format", "{{.State.Status}}", name)
	if err != nil {
		cerr := classify("inspect container "+name, out, err)
		if isNotFound(cerr) {
			return types.RuntimeStopped, nil
		}
		return types.RuntimeUnknown, cerr
	}
	if strings.TrimSpace(out) == "running" {
		return types.RuntimeRunning, nil
	}
	return types.RuntimeStopped, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

// ListContainerPorts enumerates every host port bound by a running
// container, expanding published ranges into individual ports.
func (r *DockerRuntime) ListContainerPorts(ctx context.Context) ([]types.PortBinding, error) {
	out, err := r.runner.Run(ctx, r.bin, "ps", "--format", "{{.Names}}\t{{.Ports}}")
	if err != nil {
		return nil, classify("list container ports", out, err)
	}

	var bindings []types.PortBinding
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, portsField, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		bindings = append(bindings, ParsePortSpecs(name, portsField)...)
	}
	return bindings, nil
}

// ParsePortSpecs parses docker's human port column ("0.0.0.0:8545->8545/tcp,
// :::9000-9010->9000-9010/udp, 30303/tcp") into individual host bindings.
// Entries without a host binding are container-internal and skipped.
func ParsePortSpecs(container, field string) []types.PortBinding {
	var bindings []types.PortBinding
	for _, spec := range strings.Split(field, ",") {
		spec = strings.TrimSpace(spec)
		hostPart, rest, ok := strings.Cut(spec, "->")
		if !ok {
			continue
		}
		proto := "tcp"
		if _, p, ok := strings.Cut(rest, "/"); ok && p != "" {
			proto = p
		}
		// hostPart is "<addr>:<port>" or "<addr>:<lo>-<hi>"; addr may itself
		// contain colons (IPv6), so split on the last one.
		idx := strings.LastIndex(hostPart, ":")
		if idx < 0 {
			continue
		}
		portPart := hostPart[idx+1:]
		lo, hi, isRange := strings.Cut(portPart, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				continue
			}
		}
		for p := start; p <= end; p++ {
			bindings = append(bindings, types.PortBinding{
				Port:      p,
				Protocol:  proto,
				Container: container,
			})
		}
	}
	return bindings
}

// ComposeUp starts the compose project rooted at dir in detached mode.
func (r *DockerRuntime) ComposeUp(ctx context.Context, dir string) error {
	out, err := r.runner.Run(ctx, r.bin, "compose", "--project-directory", dir, "up", "-d")
	return classify("compose up "+dir, out, err)
}

// ComposeDown stops and removes the compose project rooted at dir.
func (r *DockerRuntime) ComposeDown(ctx context.Context, dir string) error {
	out, err := r.runner.Run(ctx, r.bin, "compose", "--project-directory", dir, "down")
	return classify("compose down "+dir, out, err)
}

// ComposeRestart restarts the compose project rooted at dir so regenerated
// configuration takes effect.
func (r *DockerRuntime) ComposeRestart(ctx context.Context, dir string) error {
	out, err := r.runner.Run(ctx, r.bin, "compose", "--project-directory", dir, "restart")
	return classify("compose restart "+dir, out, err)
}

// NetworkExists reports whether the named network exists.
func (r *DockerRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	out, err := r.runner.Run(ctx, r.bin, "network", "inspect", "--format", "{{.Name}}", name)
	if err != nil {
		cerr := classify("inspect network "+name, out, err)
		if isNotFound(cerr) {
			return false, nil
		}
		return false, cerr
	}
	return true, nil
}

// NetworkCreate creates the named bridge network.
func (r *DockerRuntime) NetworkCreate(ctx context.Context, name string) error {
	out, err := r.runner.Run(ctx, r.bin, "network", "create", name)
	return classify("create network "+name, out, err)
}

// NetworkRemove removes the named network.
func (r *DockerRuntime) NetworkRemove(ctx context.Context, name string) error {
	out, err := r.runner.Run(ctx, r.bin, "network", "remove", name)
	return classify("remove network "+name, out, err)
}

// NetworkMembers returns the names of containers attached to the network.
func (r *DockerRuntime) NetworkMembers(ctx context.Context, name string) ([]string, error) {
	out, err := r.runner.Run(ctx, r.bin, "network", "inspect",
		"--format", "{{range .Containers}}{{.Name}}\n{{end}}", name)
	if err != nil {
		return nil, classify("inspect network "+name, out, err)
	}
	var members []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			members = append(members, line)
		}
	}
	return members, nil
}

// NetworkDisconnect forcibly detaches a container from the network.
func (r *DockerRuntime) NetworkDisconnect(ctx context.Context, network, container string) error {
	out, err := r.runner.Run(ctx, r.bin, "network", "disconnect", "--force", network, container)
	return classify(fmt.Sprintf("disconnect %s from %s", container, network), out, err)
}

// RemovePathEscalated deletes path, falling back to a root helper container
// when container-written files block an ordinary delete. Workload data dirs
// are commonly owned by in-container UIDs the invoking user cannot remove.
func (r *DockerRuntime) RemovePathEscalated(ctx context.Context, path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	if !os.IsPermission(underlying(err)) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	parent := filepath.Dir(path)
	base := filepath.Base(path)
	out, runErr := r.runner.Run(ctx, r.bin, "run", "--rm",
		"-v", parent+":/target", helperImage, "rm", "-rf", "/target/"+base)
	if runErr != nil {
		return classify("escalated remove "+path, out, runErr)
	}
	return nil
}

func underlying(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
