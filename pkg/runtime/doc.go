/*
Package runtime provides the narrow, typed interface between nodeboi and the
container runtime CLI.

Every interaction with docker goes through DockerRuntime: compose project
start/stop/restart, network create/remove/inspect/disconnect, container
status queries, and host port-binding enumeration. Callers never see raw CLI
output; failures are classified into the sentinel errors of pkg/types
(ErrRuntimeUnavailable, ErrNotFound, ErrResourceInUse) so that calling code
branches on error identity, not on tool-specific text.

# Architecture

	┌─────────────── RUNTIME BOUNDARY ────────────────┐
	│                                                   │
	│  installer / network / syncer / registry          │
	│                 │ typed calls                      │
	│  ┌──────────────▼──────────────┐                  │
	│  │        DockerRuntime         │                  │
	│  │  - compose up/down/restart   │                  │
	│  │  - network lifecycle         │                  │
	│  │  - container status          │                  │
	│  │  - port binding enumeration  │                  │
	│  └──────────────┬──────────────┘                  │
	│                 │ CommandRunner                    │
	│  ┌──────────────▼──────────────┐                  │
	│  │   ExecRunner (os/exec)       │  ← fake in tests │
	│  └─────────────────────────────┘                  │
	└───────────────────────────────────────────────────┘

# Port Enumeration

ListContainerPorts parses docker's published-port column and expands ranges
(e.g. 9000-9010) into individual PortBinding values, which is what the port
allocator needs to treat every port in a published range as occupied.

# Escalated Removal

RemovePathEscalated handles instance data directories written by containers
running as other UIDs: an ordinary os.RemoveAll is tried first, and a
permission failure falls back to `rm -rf` inside a throwaway root container
bind-mounting the parent directory.
*/
package runtime
