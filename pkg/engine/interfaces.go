package engine

import (
	"context"
	"os/exec"

	"github.com/azkit/azkit/pkg/stores"
)

// ResourceQuerier is the read surface the executor uses for prerequisite
// and validation checks, plus the invalidation hook it calls after
// mutating operations. Satisfied by the query layer.
type ResourceQuerier interface {
	QueryResource(ctx context.Context, resourceType, name, group string) (*stores.Resource, error)
	Invalidate(ctx context.Context, pattern string) (int64, error)
}

// StepRunner executes one opaque step command and returns its combined
// output. The executor has no semantic understanding of the command
// beyond exit status; tests substitute a fake.
type StepRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Gate is an optional pre-execution policy hook. A non-nil error blocks
// the operation before any step runs. resourceID is the operation's
// target when known, empty otherwise.
type Gate interface {
	Allow(ctx context.Context, def *OperationDefinition, resourceID string) error
}

// ShellStepRunner runs step commands through a shell.
type ShellStepRunner struct {
	// Shell is the interpreter, "/bin/sh" when empty.
	Shell string
}

// Run implements StepRunner.
func (r *ShellStepRunner) Run(ctx context.Context, command string) (string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	out, err := exec.CommandContext(ctx, shell, "-c", command).CombinedOutput()
	return string(out), err
}
