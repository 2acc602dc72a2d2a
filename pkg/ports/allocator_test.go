package ports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
	"github.com/Cryptizer69/nodeboi-sub000/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func testSources(reservations []types.PortReservation, bindings []types.PortBinding, busy map[int]bool) Sources {
	return Sources{
		Reservations: func(ctx context.Context) ([]types.PortReservation, error) {
			return reservations, nil
		},
		Bindings: func(ctx context.Context) ([]types.PortBinding, error) {
			return bindings, nil
		},
		Probe: func(port int, protocol string) bool {
			return !busy[port]
		},
	}
}

func TestFindReturnsBaseWhenFree(t *testing.T) {
	a := NewAllocator(testSources(nil, nil, nil), 50)

	port, err := a.Find(context.Background(), Request{Purpose: "el-p2p", Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30303, port)
}

func TestFindStepsPastReservation(t *testing.T) {
	reserved := []types.PortReservation{
		{Port: 30303, Protocol: "tcp", Instance: "node1", Purpose: "el-p2p"},
	}
	a := NewAllocator(testSources(reserved, nil, nil), 50)

	port, err := a.Find(context.Background(), Request{Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30304, port)
}

func TestFindStepsByIncrement(t *testing.T) {
	reserved := []types.PortReservation{
		{Port: 8545, Protocol: "tcp", Instance: "node1", Purpose: "el-rpc"},
	}
	a := NewAllocator(testSources(reserved, nil, nil), 50)

	port, err := a.Find(context.Background(), Request{Base: 8545, Increment: 10, Protocol: "tcp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8555, port)
}

func TestFindChecksAllThreeSources(t *testing.T) {
	// 30303 reserved, 30304 bound by a container, 30305 held by a live
	// socket; the first clear candidate is 30306.
	reserved := []types.PortReservation{{Port: 30303, Protocol: "tcp"}}
	bindings := []types.PortBinding{{Port: 30304, Protocol: "tcp", Container: "stray"}}
	busy := map[int]bool{30305: true}
	a := NewAllocator(testSources(reserved, bindings, busy), 50)

	port, err := a.Find(context.Background(), Request{Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30306, port)
}

func TestFindProtocolsDoNotCollide(t *testing.T) {
	// A tcp reservation must not block the same port number on udp.
	reserved := []types.PortReservation{{Port: 9000, Protocol: "tcp"}}
	a := NewAllocator(testSources(reserved, nil, nil), 50)

	port, err := a.Find(context.Background(), Request{Base: 9000, Increment: 1, Protocol: "udp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 9000, port)
}

func TestFindBudgetExhausted(t *testing.T) {
	busy := make(map[int]bool)
	for p := 30303; p < 30303+50; p++ {
		busy[p] = true
	}
	a := NewAllocator(testSources(nil, nil, busy), 50)

	_, err := a.Find(context.Background(), Request{Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAllocationFailed))

	var allocErr *types.AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Equal(t, 30303, allocErr.Base)
	assert.Equal(t, 50, allocErr.Attempts)
}

func TestFindStopsAtPortCeiling(t *testing.T) {
	a := NewAllocator(testSources(nil, nil, map[int]bool{65535: true}), 50)

	_, err := a.Find(context.Background(), Request{Base: 65535, Increment: 1, Protocol: "tcp"}, nil)
	assert.True(t, errors.Is(err, types.ErrAllocationFailed))
}

func TestFindSetDisjoint(t *testing.T) {
	// Two purposes probing the same base must not be handed the same port.
	a := NewAllocator(testSources(nil, nil, nil), 50)

	reqs := []Request{
		{Purpose: "el-metrics", Base: 6060, Increment: 1, Protocol: "tcp"},
		{Purpose: "pprof", Base: 6060, Increment: 1, Protocol: "tcp"},
	}
	got, err := a.FindSet(context.Background(), "node1", reqs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 6060, got[0].Port)
	assert.Equal(t, 6061, got[1].Port)
	assert.Equal(t, "node1", got[0].Instance)
}

func TestFindSetPropagatesExhaustion(t *testing.T) {
	busy := make(map[int]bool)
	for p := 9000; p < 9100; p++ {
		busy[p] = true
	}
	a := NewAllocator(testSources(nil, nil, busy), 10)

	_, err := a.FindSet(context.Background(), "node1", []Request{
		{Purpose: "cl-p2p", Base: 9000, Increment: 1, Protocol: "tcp"},
	})
	assert.True(t, errors.Is(err, types.ErrAllocationFailed))
}

// TestSequentialAllocationsDisjoint exercises the disjointness property:
// when each successful allocation is fed back as a reservation, no two
// allocations ever share a (port, protocol) pair.
func TestSequentialAllocationsDisjoint(t *testing.T) {
	var reservations []types.PortReservation
	sources := Sources{
		Reservations: func(ctx context.Context) ([]types.PortReservation, error) {
			return reservations, nil
		},
		Probe: func(port int, protocol string) bool { return true },
	}
	a := NewAllocator(sources, 50)

	seen := make(map[Key]bool)
	for i := 0; i < 10; i++ {
		port, err := a.Find(context.Background(), Request{Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
		require.NoError(t, err)

		key := Key{Port: port, Protocol: "tcp"}
		assert.False(t, seen[key], "port %d allocated twice", port)
		seen[key] = true
		reservations = append(reservations, types.PortReservation{Port: port, Protocol: "tcp"})
	}
}

func TestFindSourceErrorPropagates(t *testing.T) {
	sources := Sources{
		Reservations: func(ctx context.Context) ([]types.PortReservation, error) {
			return nil, errors.New("scan failed")
		},
		Probe: func(port int, protocol string) bool { return true },
	}
	a := NewAllocator(sources, 50)

	_, err := a.Find(context.Background(), Request{Base: 30303, Increment: 1, Protocol: "tcp"}, nil)
	assert.Error(t, err)
}
