package ports

import (
	"context"
	"fmt"
	"net"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

// Key identifies a port claim; reservations are unique by (port, protocol)
// across the host.
type Key struct {
	Port     int
	Protocol string
}

// Sources supplies the three independent views of port usage the allocator
// checks. Persisted reservations alone can go stale (an instance removed by
// hand never deregisters) and live scans alone miss instances that are
// installed but currently stopped, so all three are consulted.
type Sources struct {
	// Reservations returns every persisted PortReservation on the host.
	Reservations func(ctx context.Context) ([]types.PortReservation, error)

	// Bindings returns every host port currently bound by a running
	// container, with published ranges already expanded.
	Bindings func(ctx context.Context) ([]types.PortBinding, error)

	// Probe reports whether the port can actually be bound right now.
	// Defaults to a local bind probe.
	Probe func(port int, protocol string) bool
}

// Allocator finds free host ports by probing an arithmetic sequence from a
// configured base. It has no side effects: callers must persist the chosen
// port as a reservation before using it.
type Allocator struct {
	sources   Sources
	maxProbes int
}

// Request asks for one free port for a logical purpose.
type Request struct {
	Purpose   string
	Base      int
	Increment int
	Protocol  string
}

// NewAllocator creates an allocator with the given probe budget per request.
func NewAllocator(sources Sources, maxProbes int) *Allocator {
	if sources.Probe == nil {
		sources.Probe = BindProbe
	}
	if maxProbes <= 0 {
		maxProbes = 50
	}
	return &Allocator{sources: sources, maxProbes: maxProbes}
}

// BindProbe reports whether a port is bindable by briefly binding it.
func BindProbe(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)
	switch protocol {
	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		conn.Close()
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		ln.Close()
	}
	return true
}

// Find returns the first port in base, base+increment, ... that no
// reservation, no running container, and no live socket is using, skipping
// anything in exclude. Fails with an AllocationError once the probe budget
// is exhausted.
func (a *Allocator) Find(ctx context.Context, req Request, exclude map[Key]bool) (int, error) {
	used, err := a.usedPorts(ctx)
	if err != nil {
		return 0, err
	}

	logger := log.WithComponent("ports")
	for i := 0; i < a.maxProbes; i++ {
		candidate := req.Base + i*req.Increment
		if candidate > 65535 {
			break
		}
		key := Key{Port: candidate, Protocol: req.Protocol}
		if used[key] || exclude[key] {
			continue
		}
		if !a.sources.Probe(candidate, req.Protocol) {
			logger.Debug().Int("port", candidate).Str("purpose", req.Purpose).
				Msg("port bound by live socket, skipping")
			continue
		}
		return candidate, nil
	}

	return 0, &types.AllocationError{
		Base:      req.Base,
		Increment: req.Increment,
		Protocol:  req.Protocol,
		Attempts:  a.maxProbes,
	}
}

// FindSet allocates one port per request for the named instance, treating
// earlier picks as excluded so the returned set is disjoint. The used-port
// state is real only as long as the caller persists the reservations before
// anything else allocates; the single-operator model makes that safe.
func (a *Allocator) FindSet(ctx context.Context, instance string, reqs []Request) ([]types.PortReservation, error) {
	exclude := make(map[Key]bool, len(reqs))
	reservations := make([]types.PortReservation, 0, len(reqs))

	for _, req := range reqs {
		port, err := a.Find(ctx, req, exclude)
		if err != nil {
			return nil, fmt.Errorf("allocating %s: %w", req.Purpose, err)
		}
		exclude[Key{Port: port, Protocol: req.Protocol}] = true
		reservations = append(reservations, types.PortReservation{
			Port:     port,
			Protocol: req.Protocol,
			Instance: instance,
			Purpose:  req.Purpose,
		})
	}
	return reservations, nil
}

// usedPorts merges persisted reservations and live container bindings into
// one lookup set.
func (a *Allocator) usedPorts(ctx context.Context) (map[Key]bool, error) {
	used := make(map[Key]bool)

	if a.sources.Reservations != nil {
		reservations, err := a.sources.Reservations(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading port reservations: %w", err)
		}
		for _, r := range reservations {
			used[Key{Port: r.Port, Protocol: r.Protocol}] = true
		}
	}

	if a.sources.Bindings != nil {
		bindings, err := a.sources.Bindings(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing container port bindings: %w", err)
		}
		for _, b := range bindings {
			used[Key{Port: b.Port, Protocol: b.Protocol}] = true
		}
	}

	return used, nil
}
