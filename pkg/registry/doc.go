/*
Package registry enumerates installed instances by scanning the instance
root directory.

The instance attributes file (.nodeboi.conf, flat key=value pairs) is the
sole source of truth for an installation: it carries the completion marker,
the client selections, the persisted port reservations, and the last known
status. The registry keeps no state of its own and never caches a scan —
instances can be installed or removed externally between calls, so every
List re-reads the filesystem.

# Scan Semantics

A directory under the root counts as an instance when its name matches the
fleet pattern (<prefix><number>) AND it contains the completion marker.
Directories matching the pattern without the marker are half-finished
installs or manual copies: they are returned separately as incomplete,
logged as warnings, skipped by enumeration, and never auto-removed. Their
numbers are skipped by NextFreeName so a stale directory can never be
silently adopted.

Staged installs live outside the scanned root entirely, which is what makes
it safe to List concurrently with an install in its staging phase.

# Status

The persisted status is refined against a live runtime query where one is
available: a running execution container means active, otherwise stopped. A
persisted failed status sticks until an operator intervenes, because it
marks a degraded install worth diagnosing.
*/
package registry
