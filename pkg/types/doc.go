/*
Package types defines the core data model shared by every nodeboi package.

The package contains only data: instance records, port reservations, runtime
status values, and the error taxonomy. It has no dependencies on other
nodeboi packages, which lets any component import it without cycles.

# Core Types

  - ServiceInstance: one installed node deployment (name, directory,
    client selections, port reservations, status).
  - PortReservation: a (port, protocol, owner, purpose) claim, unique by
    (port, protocol) across the host while the owner exists.
  - PortBinding: a port a running container actually exposes, as reported
    by the runtime.
  - RuntimeStatus: typed running/stopped/unknown answer from the runtime.
  - OperationSummary: warning accumulator for best-effort sub-steps.

# Error Taxonomy

Failures are classified with sentinel errors checked via errors.Is:

  - ErrAllocationFailed: port probe budget exhausted (fatal to an install).
  - ErrResourceConflict: instance name already registered (fatal).
  - ErrRuntimeUnavailable: container runtime unreachable (fatal to the step).
  - ErrResourceInUse: runtime refused to remove an attached resource.
  - ErrNotFound: instance or runtime resource does not exist.

AllocationError and ConflictError wrap the corresponding sentinels and carry
the conflicting resource so terminal error messages can name it.
*/
package types
