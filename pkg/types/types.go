package types

import (
	"errors"
	"fmt"
	"time"
)

// ServiceInstance represents one installed node deployment: a named
// docker-compose project pairing an execution client and a consensus client.
type ServiceInstance struct {
	Name            string
	Dir             string // Filesystem root of the instance
	ExecutionClient string
	ConsensusClient string
	Status          InstanceStatus
	Ports           []PortReservation
	Networks        []string // Networks the instance is joined to
	InstalledAt     time.Time
}

// Reservation returns the instance's reservation for a logical purpose,
// or false if the purpose has no reserved port.
func (i *ServiceInstance) Reservation(purpose string) (PortReservation, bool) {
	for _, r := range i.Ports {
		if r.Purpose == purpose {
			return r, true
		}
	}
	return PortReservation{}, false
}

// InstanceStatus represents the lifecycle state of an instance
type InstanceStatus string

const (
	StatusAbsent  InstanceStatus = "absent"
	StatusStaging InstanceStatus = "staging"
	StatusActive  InstanceStatus = "active"
	StatusStopped InstanceStatus = "stopped"
	StatusFailed  InstanceStatus = "failed"
)

// PortReservation records one host port claimed by an instance. It is
// persisted in the instance's attributes file so used-port state survives
// process restarts without a live registry service.
type PortReservation struct {
	Port     int
	Protocol string // "tcp" or "udp"
	Instance string // Owning instance name
	Purpose  string // Logical purpose, e.g. "el-p2p", "cl-rest"
}

func (r PortReservation) String() string {
	return fmt.Sprintf("%d/%s", r.Port, r.Protocol)
}

// PortBinding is a host port exposed by a running container, as reported
// by the container runtime.
type PortBinding struct {
	Port      int
	Protocol  string
	Container string
}

// RuntimeStatus is the typed answer to "is this workload running",
// replacing ad hoc inspection of command output text.
type RuntimeStatus string

const (
	RuntimeRunning RuntimeStatus = "running"
	RuntimeStopped RuntimeStatus = "stopped"
	RuntimeUnknown RuntimeStatus = "unknown"
)

// OperationSummary accumulates non-fatal problems encountered during an
// install or removal. Best-effort sub-steps log and count a warning rather
// than aborting; the count is surfaced alongside an otherwise-successful
// result.
type OperationSummary struct {
	Warnings []string
}

// Warn records a non-fatal problem.
func (s *OperationSummary) Warn(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Merge folds another summary's warnings into this one.
func (s *OperationSummary) Merge(other *OperationSummary) {
	if other != nil {
		s.Warnings = append(s.Warnings, other.Warnings...)
	}
}

// WarningCount returns the number of recorded warnings.
func (s *OperationSummary) WarningCount() int {
	return len(s.Warnings)
}

// Sentinel errors for the failure taxonomy. Callers classify with errors.Is.
var (
	// ErrAllocationFailed means no free port was found within the probe
	// budget. Fatal to the enclosing install.
	ErrAllocationFailed = errors.New("port allocation failed")

	// ErrResourceConflict means the requested name is already registered.
	ErrResourceConflict = errors.New("resource conflict")

	// ErrRuntimeUnavailable means the container runtime is unreachable.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrResourceInUse means the runtime refused to remove a resource that
	// still has attachments.
	ErrResourceInUse = errors.New("resource in use")

	// ErrNotFound means the named instance or runtime resource does not exist.
	ErrNotFound = errors.New("not found")
)

// AllocationError reports an exhausted port probe budget, naming the probe
// parameters so the operator can see what was searched.
type AllocationError struct {
	Base      int
	Increment int
	Protocol  string
	Attempts  int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("no free %s port found in %d attempts starting at %d (step %d)",
		e.Protocol, e.Attempts, e.Base, e.Increment)
}

func (e *AllocationError) Unwrap() error { return ErrAllocationFailed }

// ConflictError reports an install rejected because the name is taken.
type ConflictError struct {
	Name string
	Dir  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("instance %q already exists at %s", e.Name, e.Dir)
}

func (e *ConflictError) Unwrap() error { return ErrResourceConflict }
