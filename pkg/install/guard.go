package install

import "sync"

// rollbackGuard runs a cleanup function exactly once on any exit path that
// has not been disarmed. It is registered the moment staging begins; the
// installer defers Trigger so every early return, panic, or cancellation
// checkpoint before promotion removes all traces. Disarm is called only
// after the atomic promotion, after which the instance is real and must
// never be deleted by rollback.
type rollbackGuard struct {
	once     sync.Once
	disarmed bool
	mu       sync.Mutex
	cleanup  func()
}

func newRollbackGuard(cleanup func()) *rollbackGuard {
	return &rollbackGuard{cleanup: cleanup}
}

// Trigger runs the cleanup unless the guard was disarmed. Safe to invoke
// multiple times; the cleanup runs at most once.
func (g *rollbackGuard) Trigger() {
	g.mu.Lock()
	disarmed := g.disarmed
	g.mu.Unlock()
	if disarmed {
		return
	}
	g.once.Do(g.cleanup)
}

// Disarm marks the install promoted; later Trigger calls are no-ops.
func (g *rollbackGuard) Disarm() {
	g.mu.Lock()
	g.disarmed = true
	g.mu.Unlock()
}
