/*
Package ports finds free host ports for new instances without colliding with
anything already on the host.

The allocator probes an arithmetic sequence (base, base+increment, ...) and
returns the first candidate that clears three independent checks:

 1. no persisted PortReservation claims it (covers stopped instances),
 2. no running container publishes it (covers workloads installed outside
    nodeboi, with published ranges expanded into individual ports),
 3. a local bind probe succeeds (covers arbitrary host processes).

The probe loop is bounded; exhaustion returns a types.AllocationError that
names the searched range. Allocation itself has no side effects — the
caller must persist the chosen port as a reservation before using it, and
the single-operator model makes find-then-persist logically atomic.
*/
package ports
