/*
Package network manages the lifecycle of the shared docker network joined by
every instance and by select auxiliary services.

The invariant the manager protects: the network exists if and only if its
consumer set is non-empty. The consumer set is the union of

  - active primary instances (from the registry, minus an instance that is
    currently mid-removal), and
  - auxiliary services (monitoring, validator) whose on-disk compose file
    actually declares the network by name.

# Failure Semantics

Creation failure is fatal and aborts the enclosing installation — an
instance without its network is useless. Removal failure is a warning, never
an error: an orphaned network is harmless and a later pass can clean it up,
whereas aborting a removal over it would leave a stuck instance. Teardown is
all-or-nothing; stale attachments are force-disconnected best-effort with a
short settle delay before the remove.
*/
package network
