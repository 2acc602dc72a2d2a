package runtime

import (
	"context"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/Cryptizer69/nodeboi-sub000/pkg/log"
)

// CommandRunner executes an external command and returns its combined
// output. The indirection exists so tests can substitute a fake runner.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run executes the command and returns trimmed combined output. The output
// is returned even on failure so callers can classify the error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logger := log.WithComponent("runtime")
	logger.Debug().Str("cmd", shellquote.Join(append([]string{name}, args...)...)).Msg("exec")

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
