/*
Package syncer keeps derived configuration artifacts synchronized with the
set of instances that actually exist.

Two artifacts are maintained:

  - a prometheus file_sd target list covering every instance's execution and
    consensus metrics endpoints, and
  - the validator service's beacon endpoint list, rewritten inside its env
    file.

Both are pure functions of current registry state plus a fixed template:
Resync recomputes them from scratch and overwrites them wholesale via
temp-file-and-rename. Nothing is ever diffed or patched, which is what
guarantees an artifact can never reference an instance that no longer
exists nor omit one that does — a transient mid-transition run is wrong but
self-correcting, never corrupt.

When an artifact's owning service is running, Resync restarts exactly that
service so the new artifact takes effect; unrelated services are never
restarted.
*/
package syncer
