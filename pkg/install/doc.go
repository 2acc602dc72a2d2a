/*
Package install orchestrates instance installation and removal.

# Installation State Machine

	requested → staging → validating → promoting → active
	     └─────────┴───────────┘
	            failure → rolling-back → absent

Everything is built inside a private staging directory that the registry
never scans. Promotion is a single os.Rename, so it either fully succeeds or
fails with no visible state change. A rollback guard is registered the
moment staging begins and runs on every exit path before promotion; it is
idempotent and disarmed only after the rename, which guarantees rollback
never touches a promoted instance.

# Failure Policy

  - Before promotion: any failure (port exhaustion, write error, network
    creation, cancellation) rolls back fully and returns one terminal error.
  - After promotion: a workload start failure leaves the instance registered
    with failed status and a warning. The operator keeps the diagnosable
    artifacts instead of losing them to a rollback they may already have
    been told succeeded past.

# Removal

Removal is the mirror operation and has no rollback: stop workload,
deregister (clear the completion marker), evaluate shared-network teardown,
delete the directory (with privilege-escalated fallback), resynchronize
dependents. Every sub-step failure is a warning — removal always makes
forward progress, because a half-removed instance is strictly safer than a
stuck one. Removing an absent instance is a no-op success.
*/
package install
